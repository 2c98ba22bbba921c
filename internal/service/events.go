package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"civic-shield/internal/models"
)

// MessageProducer publishes keyed messages to a topic.
type MessageProducer interface {
	ProduceMessage(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
}

// VoteConfirmedEvent announces a ledger-confirmed vote. The candidate is
// deliberately absent so the stream cannot be used to tally by voter.
type VoteConfirmedEvent struct {
	ElectionID    string    `json:"election_id"`
	Commitment    string    `json:"receipt_hash"`
	TransactionID string    `json:"transaction_hash"`
	BlockNumber   uint64    `json:"block_number"`
	Mirrored      bool      `json:"mirrored"`
	ConfirmedAt   time.Time `json:"confirmed_at"`
}

// VoteEvents publishes vote lifecycle events. A nil producer disables it.
type VoteEvents struct {
	producer MessageProducer
	topic    string
	logger   *zap.Logger
}

func NewVoteEvents(producer MessageProducer, topic string, logger *zap.Logger) *VoteEvents {
	return &VoteEvents{producer: producer, topic: topic, logger: logger}
}

// PublishVoteConfirmed is best effort; failures are logged only.
func (e *VoteEvents) PublishVoteConfirmed(ctx context.Context, ev VoteConfirmedEvent) {
	if e == nil || e.producer == nil {
		return
	}

	value, err := json.Marshal(ev)
	if err != nil {
		e.logger.Error("Failed to encode vote event", zap.Error(err))
		return
	}

	headers := map[string]string{
		"event_type":   "vote.confirmed",
		"content_type": "application/json",
	}
	if err := e.producer.ProduceMessage(ctx, e.topic, []byte(ev.ElectionID), value, headers); err != nil {
		e.logger.Warn("Failed to publish vote event",
			zap.String("tx_id", ev.TransactionID),
			zap.Error(err))
	}
}

// NopAudit discards security events.
type NopAudit struct{}

func (NopAudit) Record(context.Context, models.SecurityEvent) {}

// LogAudit writes security events to the log when no audit store is wired.
type LogAudit struct {
	logger *zap.Logger
}

func NewLogAudit(logger *zap.Logger) *LogAudit {
	return &LogAudit{logger: logger}
}

func (a *LogAudit) Record(_ context.Context, e models.SecurityEvent) {
	a.logger.Info("Security event",
		zap.String("event_type", e.EventType),
		zap.String("subject_id", e.SubjectID),
		zap.Int("bucket", e.Bucket),
		zap.String("details", e.Details))
}

func auditDetails(format string, args ...interface{}) string {
	return fmt.Sprintf(format, args...)
}
