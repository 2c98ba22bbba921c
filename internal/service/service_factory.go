package service

import (
	"go.uber.org/zap"

	"civic-shield/internal/config"
	"civic-shield/internal/schema"
)

// Dependencies are the stores and clients the services are built from.
type Dependencies struct {
	Voters     VoterStore
	Votes      VoteStore
	Outbox     OutboxStore
	Admins     AdminStore
	OTPRecords OTPRecords
	Sessions   SessionStore
	Registry   CastRegistry
	Resolver   *schema.Resolver
	Reader     *schema.Reader
	Writer     *schema.Writer
	Ledger     Ledger
	Hasher     CredentialHasher
	Locks      Locker
	Audit      AuditRecorder
	Producer   MessageProducer
	Sender     OTPSender
}

// ServiceFactory creates and manages service instances
type ServiceFactory struct {
	deps   Dependencies
	cfg    *config.Config
	logger *zap.Logger

	otpGuard      *OTPGuard
	pinGuard      *PINGuard
	authService   *AuthService
	voteService   *VoteService
	reconciler    *Reconciler
	adminSessions *AdminSessionService
	adminService  *AdminService
}

func NewServiceFactory(deps Dependencies, cfg *config.Config, logger *zap.Logger) *ServiceFactory {
	if deps.Audit == nil {
		deps.Audit = NewLogAudit(logger)
	}
	if deps.Sender == nil {
		deps.Sender = NewLogSender(logger, cfg.Guard.OTPExposeCode)
	}
	return &ServiceFactory{deps: deps, cfg: cfg, logger: logger}
}

// OTPGuard returns the OTP guard instance (singleton)
func (f *ServiceFactory) OTPGuard() *OTPGuard {
	if f.otpGuard == nil {
		f.otpGuard = NewOTPGuard(f.deps.OTPRecords, f.deps.Sender, f.deps.Locks, f.deps.Audit, f.cfg.Guard, f.logger)
	}
	return f.otpGuard
}

// PINGuard returns the PIN guard instance (singleton)
func (f *ServiceFactory) PINGuard() *PINGuard {
	if f.pinGuard == nil {
		f.pinGuard = NewPINGuard(f.deps.Voters, f.deps.Hasher, f.deps.Locks, f.deps.Audit, f.cfg.Guard, f.logger)
	}
	return f.pinGuard
}

func (f *ServiceFactory) AuthService() *AuthService {
	if f.authService == nil {
		f.authService = NewAuthService(f.deps.Voters, f.OTPGuard(), f.logger)
	}
	return f.authService
}

func (f *ServiceFactory) VoteService() *VoteService {
	if f.voteService == nil {
		f.voteService = NewVoteService(
			f.deps.Voters,
			f.deps.Votes,
			f.deps.Outbox,
			f.deps.Registry,
			f.PINGuard(),
			f.deps.Ledger,
			NewVoteEvents(f.deps.Producer, f.cfg.Kafka.VoteTopic, f.logger),
			f.deps.Audit,
			f.deps.Locks,
			f.cfg,
			f.logger,
		)
	}
	return f.voteService
}

func (f *ServiceFactory) Reconciler() *Reconciler {
	if f.reconciler == nil {
		f.reconciler = NewReconciler(f.VoteService(), f.cfg, f.logger)
	}
	return f.reconciler
}

func (f *ServiceFactory) AdminSessionService() *AdminSessionService {
	if f.adminSessions == nil {
		f.adminSessions = NewAdminSessionService(f.deps.Admins, f.deps.Sessions, f.deps.Hasher, f.deps.Audit, f.cfg.Admin.SessionTTL, f.logger)
	}
	return f.adminSessions
}

func (f *ServiceFactory) AdminService() *AdminService {
	if f.adminService == nil {
		f.adminService = NewAdminService(f.deps.Resolver, f.deps.Reader, f.deps.Writer, f.deps.Hasher, f.cfg.Hashing.HashCredentials, f.deps.Registry, f.deps.Audit, f.logger)
	}
	return f.adminService
}
