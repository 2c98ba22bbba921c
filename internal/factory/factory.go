package factory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"civic-shield/internal/bucketing"
	"civic-shield/internal/client"
	"civic-shield/internal/config"
	"civic-shield/internal/hashing"
	"civic-shield/internal/ledger"
	"civic-shield/internal/repository/cache"
	"civic-shield/internal/repository/clickhouse"
	"civic-shield/internal/repository/postgres"
	"civic-shield/internal/schema"
	"civic-shield/internal/service"
	"civic-shield/internal/tls"
	"civic-shield/internal/util"
)

// ledgerClient is the ledger as the factory owns it.
type ledgerClient interface {
	service.Ledger
	Close()
}

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config     *config.Config
	tlsManager *tls.Manager

	// Clients
	pool             *pgxpool.Pool
	redisClient      *client.RedisClient
	kafkaProducer    *client.KafkaProducer
	clickhouseClient *client.ClickHouseClient
	ledger           ledgerClient

	// Managers
	store            cache.Store
	memoryStore      *cache.MemoryStore
	hasher           *hashing.Hasher
	bucketingManager *bucketing.BucketingManager
	auditRepository  *clickhouse.AuditRepository

	// Schema layer
	executor *postgres.Executor
	resolver *schema.Resolver
	reader   *schema.Reader
	writer   *schema.Writer

	serviceFactory *service.ServiceFactory

	closeOnce sync.Once
}

// NewFactory creates and initializes all application dependencies
func NewFactory(ctx context.Context, cfg *config.Config) (*Factory, error) {
	factory := &Factory{
		config: cfg,
	}

	if cfg.Server.EnableTLS {
		manager, err := tls.NewManager(cfg.Server, cfg.IsDevelopment(), util.Get())
		if err != nil {
			return nil, fmt.Errorf("failed to configure TLS: %w", err)
		}
		factory.tlsManager = manager
	}

	if err := factory.initializeClients(ctx); err != nil {
		factory.Close()
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	factory.initializeManagers()

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.String("store_backend", cfg.Store.Backend),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.Bool("kafka_enabled", factory.kafkaProducer != nil),
		util.Bool("clickhouse_enabled", factory.clickhouseClient != nil),
		util.String("ledger_contract", factory.ledger.ContractAddress()),
	)

	return factory, nil
}

// initializeClients connects to every external system. Postgres and the
// configured store are required; Kafka, ClickHouse and the ledger degrade
// outside production.
func (f *Factory) initializeClients(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	pool, err := client.NewPostgresPool(ctx, f.config)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	f.pool = pool
	util.Info("Postgres pool initialized and healthy")

	if f.config.Store.Backend == "redis" {
		rc, err := client.NewRedisClient(f.config)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		f.redisClient = rc
		if err := rc.HealthCheck(ctx); err != nil {
			return fmt.Errorf("redis health check: %w", err)
		}
		util.Info("Redis client initialized and healthy")
	}

	var initErrors []error

	if f.config.Kafka.Enabled {
		if producer, err := client.NewKafkaProducer(f.config, util.Get()); err != nil {
			util.Warn("Kafka producer initialization failed - proceeding without Kafka", util.ErrorField(err))
		} else {
			f.kafkaProducer = producer
		}
	}

	if f.config.Clickhouse.Enabled {
		if ch, err := client.NewClickHouseClient(f.config); err != nil {
			initErrors = append(initErrors, fmt.Errorf("clickhouse: %w", err))
		} else if err := ch.HealthCheck(ctx); err != nil {
			ch.Close()
			initErrors = append(initErrors, fmt.Errorf("clickhouse health check: %w", err))
		} else {
			f.clickhouseClient = ch
			util.Info("ClickHouse client initialized and healthy")
		}
	}

	f.ledger = ledger.Disabled{}
	if f.config.Ledger.RPCURL == "" {
		initErrors = append(initErrors, errors.New("ledger: LEDGER_RPC_URL not set, votes cannot be cast"))
	} else if l, err := ledger.NewEthereumLedger(ctx, f.config.Ledger, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("ledger: %w", err))
	} else {
		f.ledger = l
		util.Info("Ledger client initialized", util.String("contract", l.ContractAddress()))
	}

	if len(initErrors) > 0 {
		if f.config.IsProduction() {
			return fmt.Errorf("critical service initialization failed: %w", errors.Join(initErrors...))
		}
		for _, err := range initErrors {
			util.Warn("Service initialization warning", util.ErrorField(err))
		}
	}

	return nil
}

// initializeManagers builds the in-process layers on top of the clients.
func (f *Factory) initializeManagers() {
	f.hasher = hashing.NewHasher(f.config.Hashing)
	f.bucketingManager = bucketing.NewBucketingManager(f.config.Bucketing.LockStripes)

	if f.redisClient != nil {
		f.store = cache.NewRedisStore(f.redisClient, "civic:")
	} else {
		f.memoryStore = cache.NewMemoryStore()
		f.memoryStore.StartJanitor(f.config.Store.JanitorInterval)
		f.store = f.memoryStore
	}

	if f.clickhouseClient != nil {
		ch := f.config.Clickhouse
		f.auditRepository = clickhouse.NewAuditRepository(f.clickhouseClient, ch.AuditTable, ch.BatchSize, ch.FlushInterval, util.Get())
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := f.auditRepository.EnsureTable(ctx); err != nil {
			util.Warn("Audit table unavailable - security events go to the log", util.ErrorField(err))
			f.auditRepository = nil
		} else {
			f.auditRepository.Start()
		}
	}

	f.executor = postgres.NewExecutor(f.pool)
	f.resolver = schema.NewResolver(postgres.NewCatalog(f.executor), f.config.Schema.CacheTTL, util.Get())
	f.reader = schema.NewReader(f.executor)
	f.writer = schema.NewWriter(f.executor, f.resolver, util.Get())

	util.Info("Managers initialized successfully",
		util.Int("lock_stripes", f.bucketingManager.Buckets()),
		util.Bool("credential_hashing", f.config.Hashing.HashCredentials),
		util.Bool("audit_store", f.auditRepository != nil),
	)
}

// ServiceFactory wires repositories into the service layer.
func (f *Factory) ServiceFactory() *service.ServiceFactory {
	if f.serviceFactory == nil {
		deps := service.Dependencies{
			Voters:     postgres.NewVoterRepository(f.resolver, f.reader, f.writer),
			Votes:      postgres.NewVoteRepository(f.resolver, f.reader, f.writer, f.executor),
			Outbox:     postgres.NewOutboxRepository(f.executor),
			Admins:     postgres.NewAdminRepository(f.resolver, f.reader, f.config.Admin.TablePattern),
			OTPRecords: cache.NewOTPCache(f.store),
			Sessions:   cache.NewSessionCache(f.store),
			Registry:   cache.NewVoteRegistry(f.store),
			Resolver:   f.resolver,
			Reader:     f.reader,
			Writer:     f.writer,
			Ledger:     f.ledger,
			Hasher:     f.hasher,
			Locks:      f.bucketingManager,
		}
		if f.auditRepository != nil {
			deps.Audit = f.auditRepository
		}
		if f.kafkaProducer != nil {
			deps.Producer = f.kafkaProducer
		}
		f.serviceFactory = service.NewServiceFactory(deps, f.config, util.Get())
	}
	return f.serviceFactory
}

// HealthCheck probes every configured dependency concurrently and returns
// the failures by name.
func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	var (
		mu     sync.Mutex
		failed = make(map[string]error)
	)
	record := func(name string, err error) {
		if err != nil {
			mu.Lock()
			failed[name] = err
			mu.Unlock()
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		record("postgres", f.pool.Ping(gctx))
		return nil
	})
	if f.redisClient != nil {
		g.Go(func() error {
			record("redis", f.redisClient.HealthCheck(gctx))
			return nil
		})
	}
	if f.kafkaProducer != nil {
		g.Go(func() error {
			record("kafka", f.kafkaProducer.HealthCheck(gctx))
			return nil
		})
	}
	if f.clickhouseClient != nil {
		g.Go(func() error {
			record("clickhouse", f.clickhouseClient.HealthCheck(gctx))
			return nil
		})
	}
	g.Go(func() error {
		record("ledger", f.ledger.HealthCheck(gctx))
		return nil
	})
	_ = g.Wait()

	return failed
}

// IsHealthy ignores Kafka, which only carries best-effort events.
func (f *Factory) IsHealthy(ctx context.Context) bool {
	healthErrors := f.HealthCheck(ctx)
	delete(healthErrors, "kafka")
	return len(healthErrors) == 0
}

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		util.Info("Shutting down factory...")

		if f.auditRepository != nil {
			f.auditRepository.Close()
			util.Info("Audit repository flushed")
		}

		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				util.Error("Failed to close ClickHouse client", util.ErrorField(err))
			} else {
				util.Info("ClickHouse client closed")
			}
		}

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			} else {
				util.Info("Kafka producer closed")
			}
		}

		if f.ledger != nil {
			f.ledger.Close()
		}

		if f.memoryStore != nil {
			f.memoryStore.Close()
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			} else {
				util.Info("Redis client closed")
			}
		}

		if f.pool != nil {
			f.pool.Close()
			util.Info("Postgres pool closed")
		}

		util.Info("Factory shutdown completed")
	})

	return nil
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) TLSManager() *tls.Manager {
	return f.tlsManager
}

func (f *Factory) Pool() *pgxpool.Pool {
	return f.pool
}
