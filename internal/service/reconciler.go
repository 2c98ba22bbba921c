package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"civic-shield/internal/config"
	"civic-shield/internal/ledger"
	"civic-shield/internal/models"
)

// Reconciler resolves outbox entries left open by interrupted casts: it
// settles unconfirmed transactions against the ledger and retries failed
// mirror writes.
type Reconciler struct {
	votes  *VoteService
	cfg    config.ReconcilerConfig
	grace  time.Duration
	logger *zap.Logger
}

// ReconcileReport summarizes one pass.
type ReconcileReport struct {
	Scanned   int `json:"scanned"`
	Mirrored  int `json:"mirrored"`
	Abandoned int `json:"abandoned"`
	Waiting   int `json:"waiting"`
	Failed    int `json:"failed"`
}

func NewReconciler(votes *VoteService, cfg *config.Config, logger *zap.Logger) *Reconciler {
	grace := cfg.Ledger.ConfirmTimeout
	if grace < cfg.Reconciler.Interval {
		grace = cfg.Reconciler.Interval
	}
	return &Reconciler{votes: votes, cfg: cfg.Reconciler, grace: grace, logger: logger}
}

// Run reconciles every interval until ctx is done.
func (r *Reconciler) Run(ctx context.Context) {
	interval := r.cfg.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.logger.Info("Outbox reconciler started", zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Outbox reconciler stopped")
			return
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil {
				r.logger.Error("Outbox reconciliation failed", zap.Error(err))
			}
		}
	}
}

// RunOnce processes one batch of open entries that have been idle longer
// than the confirmation window.
func (r *Reconciler) RunOnce(ctx context.Context) (*ReconcileReport, error) {
	olderThan := r.votes.now().Add(-r.grace)
	entries, err := r.votes.outbox.Pending(ctx, olderThan, r.cfg.MaxAttempts, r.cfg.BatchSize)
	if err != nil {
		return nil, err
	}

	report := &ReconcileReport{Scanned: len(entries)}
	for _, e := range entries {
		if ctx.Err() != nil {
			break
		}
		switch e.Status {
		case models.OutboxAwaitingConfirmation:
			r.settle(ctx, e, report)
		case models.OutboxPendingMirror:
			r.remirror(ctx, e, report)
		}
	}

	if report.Scanned > 0 {
		r.logger.Info("Outbox reconciliation pass",
			zap.Int("scanned", report.Scanned),
			zap.Int("mirrored", report.Mirrored),
			zap.Int("abandoned", report.Abandoned),
			zap.Int("waiting", report.Waiting),
			zap.Int("failed", report.Failed))
	}
	return report, nil
}

func (r *Reconciler) settle(ctx context.Context, e *models.OutboxEntry, report *ReconcileReport) {
	// An intent without a transaction id has nothing to look up; it ages out
	// like a transaction the ledger never saw.
	var receipt *ledger.Receipt
	missing := "transaction not found on ledger"
	if e.TxID == "" {
		missing = "no transaction recorded"
	} else {
		var err error
		receipt, err = r.votes.ledger.Receipt(ctx, e.TxID)
		if err != nil {
			r.logger.Warn("Ledger receipt lookup failed", zap.String("tx_id", e.TxID), zap.Error(err))
			report.Failed++
			return
		}
	}

	switch {
	case receipt == nil:
		e.Attempts++
		if e.Attempts >= r.cfg.MaxAttempts {
			e.Status = models.OutboxAbandoned
			e.LastError = missing
			report.Abandoned++
		} else {
			report.Waiting++
		}
	case !receipt.Success:
		e.Status = models.OutboxAbandoned
		e.LastError = "transaction reverted"
		report.Abandoned++
	default:
		e.BlockNumber = receipt.BlockNumber
		r.remirror(ctx, e, report)
		return
	}

	if err := r.votes.outbox.Update(ctx, e); err != nil {
		r.logger.Error("Failed to update outbox entry", zap.String("tx_id", e.TxID), zap.Error(err))
		report.Failed++
		return
	}
	if e.Status == models.OutboxAbandoned {
		r.logger.Warn("Outbox entry abandoned",
			zap.String("voter_id", e.VoterUID),
			zap.String("tx_id", e.TxID),
			zap.String("reason", e.LastError))
	}
}

func (r *Reconciler) remirror(ctx context.Context, e *models.OutboxEntry, report *ReconcileReport) {
	if !r.votes.mirror(ctx, e) {
		report.Failed++
		return
	}
	report.Mirrored++
	r.votes.event(ctx, models.EventMirrorRecovered, e.VoterUID, auditDetails("tx=%s", e.TxID))
}
