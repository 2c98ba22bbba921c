package service

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap/zaptest"

	"civic-shield/internal/bucketing"
	"civic-shield/internal/config"
	"civic-shield/internal/hashing"
	"civic-shield/internal/ledger"
	"civic-shield/internal/models"
	"civic-shield/internal/repository/cache"
	"civic-shield/internal/schema"
)

type fakeVoters struct {
	mu        sync.Mutex
	byUID     map[string]*models.Voter
	saves     int
	markErr   error
	findCalls int
}

func newFakeVoters(voters ...*models.Voter) *fakeVoters {
	f := &fakeVoters{byUID: make(map[string]*models.Voter)}
	for _, v := range voters {
		f.byUID[v.UID] = v
	}
	return f
}

func (f *fakeVoters) FindByUID(_ context.Context, uid string) (*models.Voter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.findCalls++
	v, ok := f.byUID[uid]
	if !ok {
		return nil, schema.ErrRowNotFound
	}
	cp := *v
	return &cp, nil
}

func (f *fakeVoters) SavePINState(_ context.Context, v *models.Voter) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	cur := f.byUID[v.UID]
	cur.PINAttempts = v.PINAttempts
	cur.AccountStatus = v.AccountStatus
	cur.LockTime = v.LockTime
	return nil
}

func (f *fakeVoters) MarkVoted(_ context.Context, voterID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markErr != nil {
		return f.markErr
	}
	for _, v := range f.byUID {
		if v.ID == voterID {
			v.HasVoted = true
		}
	}
	return nil
}

func (f *fakeVoters) get(uid string) models.Voter {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.byUID[uid]
}

type fakeVotes struct {
	mu         sync.Mutex
	rows       []*models.Vote
	insertFn   func(v *models.Vote) error
	resultsFn  func(electionID any) ([]models.CandidateResult, error)
	candidates []schema.Row
}

func (f *fakeVotes) InsertVoteIfAbsent(_ context.Context, v *models.Vote) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertFn != nil {
		if err := f.insertFn(v); err != nil {
			return false, err
		}
	}
	for _, r := range f.rows {
		if r.VoterID == v.VoterID {
			return false, nil
		}
	}
	f.rows = append(f.rows, v)
	return true, nil
}

func (f *fakeVotes) Results(_ context.Context, electionID any) ([]models.CandidateResult, error) {
	if f.resultsFn != nil {
		return f.resultsFn(electionID)
	}
	return nil, nil
}

func (f *fakeVotes) CandidatesForElection(context.Context, any) ([]schema.Row, error) {
	return f.candidates, nil
}

func (f *fakeVotes) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

type fakeOutbox struct {
	mu         sync.Mutex
	entries    map[uuid.UUID]*models.OutboxEntry
	now        func() time.Time
	enqueueErr error
	updateErr  error
}

func newFakeOutbox() *fakeOutbox {
	return &fakeOutbox{entries: make(map[uuid.UUID]*models.OutboxEntry), now: time.Now}
}

func (f *fakeOutbox) Enqueue(_ context.Context, e *models.OutboxEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.enqueueErr != nil {
		return f.enqueueErr
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	e.CreatedAt, e.UpdatedAt = f.now(), f.now()
	cp := *e
	f.entries[e.ID] = &cp
	return nil
}

func (f *fakeOutbox) Update(_ context.Context, e *models.OutboxEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	if _, ok := f.entries[e.ID]; !ok {
		return schema.ErrRowNotFound
	}
	e.UpdatedAt = f.now()
	cp := *e
	f.entries[e.ID] = &cp
	return nil
}

func (f *fakeOutbox) OpenForVoter(_ context.Context, voterID int64) (*models.OutboxEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.entries {
		if e.VoterID == voterID && e.Open() {
			cp := *e
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeOutbox) Pending(_ context.Context, olderThan time.Time, maxAttempts, limit int) ([]*models.OutboxEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.OutboxEntry
	for _, e := range f.entries {
		if e.Open() && e.Attempts < maxAttempts && e.UpdatedAt.Before(olderThan) {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeOutbox) setErrors(enqueue, update error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enqueueErr, f.updateErr = enqueue, update
}

// only returns the single entry the tests expect to exist.
func (f *fakeOutbox) only(t *testing.T) models.OutboxEntry {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.entries) != 1 {
		t.Fatalf("expected one outbox entry, found %d", len(f.entries))
	}
	for _, e := range f.entries {
		return *e
	}
	return models.OutboxEntry{}
}

type fakeLedger struct {
	mu          sync.Mutex
	healthFn    func() error
	submitFn    func(c [32]byte) (string, error)
	awaitFn     func(ctx context.Context, txID string) (*ledger.Confirmation, error)
	receiptFn   func(txID string) (*ledger.Receipt, error)
	contract    string
	submissions int
}

func (f *fakeLedger) HealthCheck(context.Context) error {
	if f.healthFn != nil {
		return f.healthFn()
	}
	return nil
}

func (f *fakeLedger) Submit(_ context.Context, c [32]byte) (string, error) {
	f.mu.Lock()
	f.submissions++
	n := f.submissions
	f.mu.Unlock()
	if f.submitFn != nil {
		return f.submitFn(c)
	}
	return txHash(n), nil
}

func (f *fakeLedger) AwaitConfirmation(ctx context.Context, txID string) (*ledger.Confirmation, error) {
	if f.awaitFn != nil {
		return f.awaitFn(ctx, txID)
	}
	return &ledger.Confirmation{TxID: txID, BlockNumber: 42, Success: true}, nil
}

func (f *fakeLedger) Receipt(_ context.Context, txID string) (*ledger.Receipt, error) {
	if f.receiptFn != nil {
		return f.receiptFn(txID)
	}
	return nil, nil
}

func (f *fakeLedger) ContractAddress() string { return f.contract }

func (f *fakeLedger) submitted() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submissions
}

func txHash(n int) string {
	return "0x" + uuid.NewSHA1(uuid.NameSpaceOID, []byte{byte(n)}).String()
}

type recordingAudit struct {
	mu     sync.Mutex
	events []models.SecurityEvent
}

func (a *recordingAudit) Record(_ context.Context, e models.SecurityEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, e)
}

func (a *recordingAudit) types() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.events))
	for _, e := range a.events {
		out = append(out, e.EventType)
	}
	return out
}

type capturingProducer struct {
	mu       sync.Mutex
	messages [][]byte
}

func (p *capturingProducer) ProduceMessage(_ context.Context, _ string, _, value []byte, _ map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, value)
	return nil
}

type capturingSender struct {
	mu    sync.Mutex
	codes []string
}

func (s *capturingSender) Send(_ context.Context, _, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes = append(s.codes, code)
	return nil
}

func (s *capturingSender) last() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.codes[len(s.codes)-1]
}

// clock is a settable time source shared by a test's services.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func testConfig() *config.Config {
	return &config.Config{
		Guard: config.GuardConfig{
			OTPTTL:            2 * time.Minute,
			OTPRetention:      10 * time.Minute,
			OTPMaxAttempts:    3,
			OTPResendCooldown: 30 * time.Second,
			OTPMaxResends:     2,
			OTPExposeCode:     true,
			PINMaxAttempts:    3,
			PINLockDuration:   5 * time.Minute,
			CastLockTTL:       time.Minute,
		},
		Ledger: config.LedgerConfig{
			ContractAddress: "0x00000000000000000000000000000000000000aa",
			ConfirmTimeout:  time.Second,
		},
		Reconciler: config.ReconcilerConfig{
			Interval:    time.Minute,
			BatchSize:   10,
			MaxAttempts: 3,
		},
		Kafka: config.KafkaConfig{VoteTopic: "votes"},
	}
}

func testHasher() *hashing.Hasher {
	return hashing.NewHasher(config.HashingConfig{
		Argon2MemoryCost:  8 * 1024,
		Argon2TimeCost:    1,
		Argon2Parallelism: 1,
	})
}

type voteFixture struct {
	cfg      *config.Config
	voters   *fakeVoters
	votes    *fakeVotes
	outbox   *fakeOutbox
	registry *cache.VoteRegistry
	ledger   *fakeLedger
	audit    *recordingAudit
	producer *capturingProducer
	pins     *PINGuard
	svc      *VoteService
}

func newVoteFixture(t *testing.T) *voteFixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	cfg := testConfig()

	f := &voteFixture{
		cfg: cfg,
		voters: newFakeVoters(&models.Voter{
			ID:            7,
			UID:           "VOTER-7",
			PIN:           "4321",
			AccountStatus: models.AccountActive,
			IsActive:      true,
		}),
		votes:    &fakeVotes{},
		outbox:   newFakeOutbox(),
		registry: cache.NewVoteRegistry(cache.NewMemoryStore()),
		ledger:   &fakeLedger{contract: cfg.Ledger.ContractAddress},
		audit:    &recordingAudit{},
		producer: &capturingProducer{},
	}
	locks := bucketing.NewBucketingManager(8)
	f.pins = NewPINGuard(f.voters, testHasher(), locks, f.audit, cfg.Guard, logger)
	events := NewVoteEvents(f.producer, cfg.Kafka.VoteTopic, logger)
	f.svc = NewVoteService(f.voters, f.votes, f.outbox, f.registry, f.pins, f.ledger, events, f.audit, locks, cfg, logger)
	return f
}

func (f *voteFixture) cast() (*models.VoteReceipt, error) {
	return f.svc.Cast(context.Background(), &CastRequest{
		VoterUID:    "VOTER-7",
		ElectionID:  "3",
		CandidateID: "11",
		PIN:         "4321",
	})
}
