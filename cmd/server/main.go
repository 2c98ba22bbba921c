package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v3"

	"civic-shield/internal/client"
	"civic-shield/internal/config"
	"civic-shield/internal/database"
	"civic-shield/internal/factory"
	"civic-shield/internal/handler"
	"civic-shield/internal/util"
)

func main() {
	cmd := &cli.Command{
		Name:  "civic-shield",
		Usage: "Election transaction core",
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API and the outbox reconciler",
				Action: serve,
			},
			{
				Name:  "migrate",
				Usage: "Manage service-owned tables",
				Commands: []*cli.Command{
					{Name: "up", Usage: "Apply pending migrations", Action: withPool(database.RunMigrations)},
					{Name: "down", Usage: "Roll back the latest migration", Action: withPool(database.MigrateDown)},
					{Name: "status", Usage: "Print migration status", Action: withPool(database.MigrationStatus)},
				},
			},
			{
				Name:  "bootstrap",
				Usage: "Create the election tables when missing, then migrate",
				Action: withPool(func(pool *pgxpool.Pool) error {
					ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
					defer cancel()
					if err := database.Bootstrap(ctx, pool); err != nil {
						return err
					}
					return database.RunMigrations(pool)
				}),
			},
			{
				Name:   "reconcile",
				Usage:  "Run one outbox reconciliation pass and exit",
				Action: reconcile,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		util.Fatal("Command failed", util.ErrorField(err))
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)
	return cfg, nil
}

func withPool(fn func(pool *pgxpool.Pool) error) cli.ActionFunc {
	return func(ctx context.Context, _ *cli.Command) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		defer util.Sync()

		pool, err := client.NewPostgresPool(ctx, cfg)
		if err != nil {
			return err
		}
		defer pool.Close()
		return fn(pool)
	}
}

func reconcile(ctx context.Context, _ *cli.Command) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	defer util.Sync()

	f, err := factory.NewFactory(ctx, cfg)
	if err != nil {
		return err
	}
	defer f.Close()

	report, err := f.ServiceFactory().Reconciler().RunOnce(ctx)
	if err != nil {
		return err
	}
	return json.NewEncoder(os.Stdout).Encode(report)
}

func serve(ctx context.Context, _ *cli.Command) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	defer util.Sync()

	f, err := factory.NewFactory(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize factory: %w", err)
	}
	defer f.Close()

	if err := database.RunMigrations(f.Pool()); err != nil {
		return err
	}

	router := setupRouter(f)

	var serverAddr string
	if cfg.Server.EnableTLS {
		serverAddr = fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.TLSPort)
	} else {
		serverAddr = cfg.GetServerAddress()
	}

	server := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	// The vote route waits on the ledger; the write deadline must outlast it.
	if lt := cfg.Ledger.ConfirmTimeout; lt > 0 && server.WriteTimeout > 0 && server.WriteTimeout < lt+10*time.Second {
		server.WriteTimeout = lt + 10*time.Second
	}

	servers := []*http.Server{server}
	if cfg.Server.EnableTLS {
		server.TLSConfig = f.TLSManager().TLSConfig()
		redirect := &http.Server{
			Addr:              cfg.GetServerAddress(),
			Handler:           f.TLSManager().HTTPHandler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		servers = append(servers, redirect)
		go func() {
			util.Info("Starting HTTP redirect server", util.String("address", redirect.Addr))
			if err := redirect.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				util.Error("HTTP redirect server failed", util.ErrorField(err))
			}
		}()
	} else {
		util.Warn("Starting HTTP server - TLS is disabled",
			util.String("environment", cfg.Environment),
			util.Int("port", cfg.Server.Port),
		)
	}

	serverErr := make(chan error, 1)
	go func() {
		var err error
		if cfg.Server.EnableTLS {
			err = server.ListenAndServeTLS("", "")
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	runCtx, stopReconciler := context.WithCancel(context.Background())
	defer stopReconciler()
	go f.ServiceFactory().Reconciler().Run(runCtx)

	util.Info("Server started successfully",
		util.String("environment", cfg.Environment),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.String("address", server.Addr),
	)

	return waitForShutdown(serverErr, stopReconciler, servers...)
}

func setupRouter(f *factory.Factory) http.Handler {
	services := f.ServiceFactory()
	voters := handler.NewVoterHandler(services.AuthService(), services.PINGuard(), services.VoteService(), util.Get())
	admins := handler.NewAdminHandler(services.AdminSessionService(), services.AdminService(), util.Get())
	return handler.NewRouter(voters, admins, f, f.Config().Server, util.Get())
}

func waitForShutdown(serverErr <-chan error, stop func(), servers ...*http.Server) error {
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer signal.Stop(signalChan)

	var failure error
	select {
	case sig := <-signalChan:
		util.Info("Received shutdown signal", util.String("signal", sig.String()))
	case failure = <-serverErr:
		util.Error("Server failed", util.ErrorField(failure))
	}
	stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			util.Error("Failed to shutdown server gracefully", util.ErrorField(err))
		} else {
			util.Info("Server shutdown completed", util.String("address", srv.Addr))
		}
	}
	return failure
}
