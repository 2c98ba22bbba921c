package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"civic-shield/internal/models"
	"civic-shield/internal/service"
	"civic-shield/internal/util"
)

const maxImportBytes = 10 << 20

type sessionKey struct{}

// AdminHandler handles administrator login and master-data maintenance.
type AdminHandler struct {
	responder
	sessions *service.AdminSessionService
	admin    *service.AdminService
}

func NewAdminHandler(sessions *service.AdminSessionService, admin *service.AdminService, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		responder: responder{logger: logger},
		sessions:  sessions,
		admin:     admin,
	}
}

type adminLoginRequest struct {
	EmployeeID string `json:"employee_id"`
	Password   string `json:"password"`
}

type importRequest struct {
	Records []map[string]interface{} `json:"records"`
}

func (h *AdminHandler) RegisterRoutes(router chi.Router) {
	router.Route("/admin", func(r chi.Router) {
		r.Post("/login", h.Login)

		r.Group(func(r chi.Router) {
			r.Use(h.requireAdmin)
			r.Post("/logout", h.Logout)
			r.Get("/profile", h.Profile)

			r.Get("/elections", h.ListElections)
			r.Post("/elections", h.CreateElection)
			r.Get("/elections/{id}", h.GetElection)
			r.Patch("/elections/{id}", h.UpdateElection)
			r.Delete("/elections/{id}", h.DeleteElection)

			r.Get("/constituencies", h.ListConstituencies)
			r.Post("/constituencies", h.CreateConstituency)

			r.Get("/candidates", h.ListCandidates)
			r.Post("/candidates", h.CreateCandidate)
			r.Patch("/candidates/{id}", h.UpdateCandidate)
			r.Delete("/candidates/{id}", h.DeleteCandidate)

			r.Get("/voters", h.ListVoters)
			r.Post("/voters", h.CreateVoter)
			r.Delete("/voters", h.DeleteAllVoters)
			r.Patch("/voters/{id}", h.UpdateVoter)
			r.Delete("/voters/{id}", h.DeleteVoter)
			r.Post("/voters/import", h.ImportVoters)
		})
	})
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

// requireAdmin rejects requests without a live admin session and stores the
// session in the request context.
func (h *AdminHandler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session, err := h.sessions.Authenticate(r.Context(), bearerToken(r))
		if err != nil {
			h.fail(w, err, "Admin authentication required")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey{}, session)))
	})
}

func sessionFrom(ctx context.Context) *models.AdminSession {
	s, _ := ctx.Value(sessionKey{}).(*models.AdminSession)
	return s
}

func (h *AdminHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req adminLoginRequest
	if !h.decode(w, r, &req) {
		return
	}

	session, err := h.sessions.Login(r.Context(), req.EmployeeID, req.Password)
	if err != nil {
		h.fail(w, err, "Admin login failed")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(map[string]interface{}{
		"token":      session.Token,
		"expires_at": session.ExpiresAt,
		"admin":      session,
	}, "Login successful"))
}

func (h *AdminHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Logout(r.Context(), bearerToken(r)); err != nil {
		h.fail(w, err, "Logout failed")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "Logged out"))
}

func (h *AdminHandler) Profile(w http.ResponseWriter, r *http.Request) {
	h.respondWithJSON(w, http.StatusOK, successResponse(sessionFrom(r.Context()), ""))
}

// Elections

func (h *AdminHandler) ListElections(w http.ResponseWriter, r *http.Request) {
	rows, err := h.admin.ListElections(r.Context())
	if err != nil {
		h.fail(w, err, "Failed to list elections")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(rows, ""))
}

func (h *AdminHandler) GetElection(w http.ResponseWriter, r *http.Request) {
	row, err := h.admin.GetElection(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, err, "Failed to load election")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(row, ""))
}

func (h *AdminHandler) CreateElection(w http.ResponseWriter, r *http.Request) {
	var req service.ElectionInput
	if !h.decode(w, r, &req) {
		return
	}
	row, err := h.admin.CreateElection(r.Context(), &req)
	if err != nil {
		h.fail(w, err, "Failed to create election")
		return
	}
	h.respondWithJSON(w, http.StatusCreated, successResponse(row, "Election created"))
}

func (h *AdminHandler) UpdateElection(w http.ResponseWriter, r *http.Request) {
	var req service.ElectionInput
	if !h.decode(w, r, &req) {
		return
	}
	row, err := h.admin.UpdateElection(r.Context(), chi.URLParam(r, "id"), &req)
	if err != nil {
		h.fail(w, err, "Failed to update election")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(row, "Election updated"))
}

func (h *AdminHandler) DeleteElection(w http.ResponseWriter, r *http.Request) {
	if err := h.admin.DeleteElection(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, err, "Failed to delete election")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "Election deleted"))
}

// Constituencies

func (h *AdminHandler) ListConstituencies(w http.ResponseWriter, r *http.Request) {
	rows, err := h.admin.ListConstituencies(r.Context())
	if err != nil {
		h.fail(w, err, "Failed to list constituencies")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(rows, ""))
}

func (h *AdminHandler) CreateConstituency(w http.ResponseWriter, r *http.Request) {
	var req service.ConstituencyInput
	if !h.decode(w, r, &req) {
		return
	}
	row, err := h.admin.CreateConstituency(r.Context(), &req)
	if err != nil {
		h.fail(w, err, "Failed to create constituency")
		return
	}
	h.respondWithJSON(w, http.StatusCreated, successResponse(row, "Constituency created"))
}

// Candidates

func (h *AdminHandler) ListCandidates(w http.ResponseWriter, r *http.Request) {
	rows, err := h.admin.ListCandidates(r.Context(), r.URL.Query().Get("election_id"))
	if err != nil {
		h.fail(w, err, "Failed to list candidates")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(rows, ""))
}

func (h *AdminHandler) CreateCandidate(w http.ResponseWriter, r *http.Request) {
	var req service.CandidateInput
	if !h.decode(w, r, &req) {
		return
	}
	row, err := h.admin.CreateCandidate(r.Context(), &req)
	if err != nil {
		h.fail(w, err, "Failed to create candidate")
		return
	}
	h.respondWithJSON(w, http.StatusCreated, successResponse(row, "Candidate created"))
}

func (h *AdminHandler) UpdateCandidate(w http.ResponseWriter, r *http.Request) {
	var req service.CandidateInput
	if !h.decode(w, r, &req) {
		return
	}
	row, err := h.admin.UpdateCandidate(r.Context(), chi.URLParam(r, "id"), &req)
	if err != nil {
		h.fail(w, err, "Failed to update candidate")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(row, "Candidate updated"))
}

func (h *AdminHandler) DeleteCandidate(w http.ResponseWriter, r *http.Request) {
	if err := h.admin.DeleteCandidate(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, err, "Failed to delete candidate")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "Candidate deleted"))
}

// Voters

func (h *AdminHandler) ListVoters(w http.ResponseWriter, r *http.Request) {
	rows, err := h.admin.ListVoters(r.Context(), util.SanitizeText(r.URL.Query().Get("search")))
	if err != nil {
		h.fail(w, err, "Failed to list voters")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(rows, ""))
}

func (h *AdminHandler) CreateVoter(w http.ResponseWriter, r *http.Request) {
	var req service.VoterInput
	if !h.decode(w, r, &req) {
		return
	}
	row, err := h.admin.CreateVoter(r.Context(), &req)
	if err != nil {
		h.fail(w, err, "Failed to create voter")
		return
	}
	h.respondWithJSON(w, http.StatusCreated, successResponse(row, "Voter created"))
}

func (h *AdminHandler) UpdateVoter(w http.ResponseWriter, r *http.Request) {
	var req service.VoterPatch
	if !h.decode(w, r, &req) {
		return
	}
	row, err := h.admin.UpdateVoter(r.Context(), chi.URLParam(r, "id"), &req)
	if err != nil {
		h.fail(w, err, "Failed to update voter")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(row, "Voter updated"))
}

func (h *AdminHandler) DeleteVoter(w http.ResponseWriter, r *http.Request) {
	if err := h.admin.DeleteVoter(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, err, "Failed to delete voter")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "Voter deleted"))
}

func (h *AdminHandler) DeleteAllVoters(w http.ResponseWriter, r *http.Request) {
	confirm, _ := util.ParseBool(r.URL.Query().Get("confirm"))
	actor := ""
	if s := sessionFrom(r.Context()); s != nil {
		actor = s.EmployeeID
	}

	n, err := h.admin.DeleteAllVoters(r.Context(), confirm, actor)
	if err != nil {
		h.fail(w, err, "Failed to delete voters")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(map[string]int64{"deleted": n}, "All voters deleted"))
}

// ImportVoters accepts a JSON body of records, a CSV body, or a multipart
// form with a CSV "file" part.
func (h *AdminHandler) ImportVoters(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxImportBytes)

	records, err := h.importRecords(r)
	if err != nil {
		h.fail(w, err, "Invalid voter file")
		return
	}

	report, err := h.admin.ImportVoters(r.Context(), records)
	if err != nil {
		h.fail(w, err, "Voter import failed")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(report, "Voter import finished"))
}

func (h *AdminHandler) importRecords(r *http.Request) ([]map[string]interface{}, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "multipart/form-data":
		file, _, err := r.FormFile("file")
		if err != nil {
			return nil, invalidUpload(err)
		}
		defer file.Close()
		return service.ParseVoterCSV(file)
	case "text/csv":
		return service.ParseVoterCSV(r.Body)
	default:
		var req importRequest
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(body, &req); err != nil {
			return nil, invalidUpload(err)
		}
		return req.Records, nil
	}
}

func invalidUpload(err error) error {
	return fmt.Errorf("%w: %v", service.ErrInvalidInput, err)
}
