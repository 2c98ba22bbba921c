package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"civic-shield/internal/service"
	"civic-shield/internal/util"
)

// VoterHandler handles the voter-facing flow: login, OTP, PIN, ballot and vote.
type VoterHandler struct {
	responder
	auth  *service.AuthService
	pins  *service.PINGuard
	votes *service.VoteService
}

func NewVoterHandler(auth *service.AuthService, pins *service.PINGuard, votes *service.VoteService, logger *zap.Logger) *VoterHandler {
	return &VoterHandler{
		responder: responder{logger: logger},
		auth:      auth,
		pins:      pins,
		votes:     votes,
	}
}

type loginRequest struct {
	VoterUID string `json:"voter_id"`
	Phone    string `json:"phone_number"`
}

type otpRequest struct {
	VoterUID string `json:"voter_id"`
	Code     string `json:"otp"`
}

type pinRequest struct {
	VoterUID string `json:"voter_id"`
	PIN      string `json:"pin"`
}

type verifyVoteRequest struct {
	TransactionID string `json:"transaction_hash"`
}

// RegisterRoutes registers the routes that finish within the request timeout.
func (h *VoterHandler) RegisterRoutes(router chi.Router) {
	router.Route("/auth", func(r chi.Router) {
		r.Post("/login", h.Login)
		r.Post("/otp/verify", h.VerifyOTP)
		r.Post("/otp/resend", h.ResendOTP)
	})
	router.Post("/pin/verify", h.VerifyPIN)
	router.Get("/elections/{electionID}/candidates", h.Candidates)
	router.Post("/votes/verify", h.VerifyVote)
	router.Get("/results/{electionID}", h.Results)
}

// RegisterVoteRoute registers the cast endpoint, which waits on the ledger and
// must not sit behind the request timeout.
func (h *VoterHandler) RegisterVoteRoute(router chi.Router) {
	router.Post("/votes", h.CastVote)
}

func (h *VoterHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.decode(w, r, &req) {
		return
	}

	issue, err := h.auth.Login(r.Context(), req.VoterUID, req.Phone)
	if err != nil {
		h.fail(w, err, "Login failed")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(issue, "OTP sent"))
}

func (h *VoterHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req otpRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.auth.VerifyOTP(r.Context(), req.VoterUID, req.Code); err != nil {
		h.fail(w, err, "OTP verification failed")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(map[string]string{"voter_id": req.VoterUID}, "OTP verified"))
}

func (h *VoterHandler) ResendOTP(w http.ResponseWriter, r *http.Request) {
	var req otpRequest
	if !h.decode(w, r, &req) {
		return
	}

	issue, err := h.auth.ResendOTP(r.Context(), req.VoterUID)
	if err != nil {
		h.fail(w, err, "OTP resend failed")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(issue, "OTP resent"))
}

func (h *VoterHandler) VerifyPIN(w http.ResponseWriter, r *http.Request) {
	var req pinRequest
	if !h.decode(w, r, &req) {
		return
	}

	voter, err := h.pins.Verify(r.Context(), req.VoterUID, req.PIN)
	if err != nil {
		h.fail(w, err, "PIN verification failed")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(map[string]interface{}{
		"voter_id":        voter.UID,
		"name":            voter.Name,
		"has_voted":       voter.HasVoted,
		"constituency_id": voter.ConstituencyID,
	}, "PIN verified"))
}

func (h *VoterHandler) Candidates(w http.ResponseWriter, r *http.Request) {
	candidates, err := h.votes.Candidates(r.Context(), chi.URLParam(r, "electionID"))
	if err != nil {
		h.fail(w, err, "Failed to load candidates")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(candidates, ""))
}

func (h *VoterHandler) CastVote(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req service.CastRequest
	if !h.decode(w, r, &req) {
		return
	}

	receipt, err := h.votes.Cast(r.Context(), &req)
	if err != nil {
		h.fail(w, err, "Vote not recorded")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(receipt, "Vote recorded on the ledger"))
	h.logger.Info("Vote cast via HTTP",
		util.String("tx_id", receipt.TransactionID),
		util.Duration("duration", time.Since(start)),
	)
}

func (h *VoterHandler) VerifyVote(w http.ResponseWriter, r *http.Request) {
	var req verifyVoteRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.votes.VerifyTransaction(r.Context(), req.TransactionID)
	if err != nil {
		h.fail(w, err, "Verification failed")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(result, ""))
}

func (h *VoterHandler) Results(w http.ResponseWriter, r *http.Request) {
	results, err := h.votes.Results(r.Context(), chi.URLParam(r, "electionID"))
	if err != nil {
		h.fail(w, err, "Failed to load results")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(results, ""))
}
