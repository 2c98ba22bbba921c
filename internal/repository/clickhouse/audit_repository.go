// Package clickhouse buffers security events and writes them to ClickHouse
// in batches.
package clickhouse

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"civic-shield/internal/models"
)

// batchInserter is the subset of the ClickHouse client the writer needs.
type batchInserter interface {
	Exec(ctx context.Context, query string, args ...interface{}) error
	BatchInsert(ctx context.Context, query string, rows [][]interface{}) error
}

// AuditRepository queues events in memory and flushes them when the batch
// fills or the flush interval elapses. Record never blocks a request.
type AuditRepository struct {
	client        batchInserter
	table         string
	batchSize     int
	flushInterval time.Duration
	logger        *zap.Logger

	events chan models.SecurityEvent
	done   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

func NewAuditRepository(client batchInserter, table string, batchSize int, flushInterval time.Duration, logger *zap.Logger) *AuditRepository {
	if batchSize <= 0 {
		batchSize = 200
	}
	if flushInterval <= 0 {
		flushInterval = 2 * time.Second
	}
	return &AuditRepository{
		client:        client,
		table:         table,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		logger:        logger,
		events:        make(chan models.SecurityEvent, batchSize*4),
		done:          make(chan struct{}),
	}
}

// EnsureTable creates the audit table when it does not exist.
func (r *AuditRepository) EnsureTable(ctx context.Context) error {
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id UUID,
		event_time DateTime64(3, 'UTC'),
		event_type LowCardinality(String),
		subject_id String,
		bucket UInt32,
		details String
	) ENGINE = MergeTree
	PARTITION BY toYYYYMM(event_time)
	ORDER BY (event_type, event_time)`, r.table)

	if err := r.client.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create audit table: %w", err)
	}
	return nil
}

// Start launches the flush loop.
func (r *AuditRepository) Start() {
	r.wg.Add(1)
	go r.loop()
}

func (r *AuditRepository) Record(_ context.Context, e models.SecurityEvent) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.EventTime.IsZero() {
		e.EventTime = time.Now().UTC()
	}

	select {
	case r.events <- e:
	default:
		r.logger.Warn("Audit buffer full, dropping event",
			zap.String("event_type", e.EventType),
			zap.String("subject_id", e.SubjectID))
	}
}

func (r *AuditRepository) loop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	batch := make([]models.SecurityEvent, 0, r.batchSize)
	for {
		select {
		case e := <-r.events:
			batch = append(batch, e)
			if len(batch) >= r.batchSize {
				batch = r.flush(batch)
			}
		case <-ticker.C:
			batch = r.flush(batch)
		case <-r.done:
			for {
				select {
				case e := <-r.events:
					batch = append(batch, e)
				default:
					r.flush(batch)
					return
				}
			}
		}
	}
}

func (r *AuditRepository) flush(batch []models.SecurityEvent) []models.SecurityEvent {
	if len(batch) == 0 {
		return batch
	}

	rows := make([][]interface{}, len(batch))
	for i, e := range batch {
		rows[i] = []interface{}{e.ID, e.EventTime, e.EventType, e.SubjectID, uint32(e.Bucket), e.Details}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	query := fmt.Sprintf("INSERT INTO %s (id, event_time, event_type, subject_id, bucket, details)", r.table)
	if err := r.client.BatchInsert(ctx, query, rows); err != nil {
		r.logger.Error("Failed to write audit batch", zap.Int("events", len(batch)), zap.Error(err))
	} else {
		r.logger.Debug("Audit batch written", zap.Int("events", len(batch)))
	}
	return batch[:0]
}

// Close stops the loop after flushing what is queued.
func (r *AuditRepository) Close() {
	r.once.Do(func() {
		close(r.done)
		r.wg.Wait()
	})
}
