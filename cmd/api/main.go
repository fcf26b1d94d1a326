package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"filegate/api/internal/app"
	"filegate/api/internal/authpw"
	"filegate/api/internal/blob"
	"filegate/api/internal/config"
	"filegate/api/internal/dbx"
	"filegate/api/internal/email"
	"filegate/api/internal/export"
	"filegate/api/internal/lifecycle"
	"filegate/api/internal/notify"
	"filegate/api/internal/search"
	"filegate/api/internal/session"
	"filegate/api/internal/store"
	"filegate/api/internal/workflow"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := config.SetupLogger(cfg)
	if err := run(cfg, logger); err != nil {
		logger.Error("filegate api stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx := context.Background()

	def, err := lifecycle.NewDefinition(cfg.RoutingPolicy())
	if err != nil {
		return fmt.Errorf("lifecycle: %w", err)
	}

	opts := store.Options{Dialect: cfg.DBDriver, DatabaseURL: cfg.DatabaseURL, SQLitePath: cfg.SQLitePath}
	if cfg.DBDriver == dbx.SQLite {
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
	}
	if err := store.Migrate(opts, logger); err != nil {
		return err
	}
	db, err := store.Open(ctx, opts)
	if err != nil {
		return err
	}
	defer db.Close()
	dataStore := store.NewSQLStore(db, cfg.DBDriver)

	// A database whose status catalog drifted from the compiled lifecycle
	// would accept transitions the code does not know about.
	if err := dataStore.VerifyLifecycle(ctx, def); err != nil {
		return fmt.Errorf("lifecycle schema check: %w", err)
	}

	sessions, closeRedis, err := openRedis(cfg, logger)
	if err != nil {
		return err
	}
	defer closeRedis()

	blobs, err := openBlobs(ctx, cfg, logger)
	if err != nil {
		return err
	}

	publisher := notify.NewRedisPublisher(sessions.Client())
	recipients := notify.NewRecipients(dataStore, 256, 5*time.Minute)
	mailer := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
		BaseURL:  cfg.PublicURL,
	})
	if !mailer.IsConfigured() {
		logger.Info("SMTP not configured, notification email disabled")
	}
	dispatcher := notify.NewDispatcher(notify.NewBuilder(dataStore, recipients), recipients, dataStore, publisher, mailer, logger, notify.DispatcherConfig{})
	defer dispatcher.Close()

	reminders := notify.NewReminders(dataStore, dispatcher, logger)
	if err := reminders.Start(cfg.ReminderSchedule); err != nil {
		return err
	}
	defer reminders.Stop()

	var index search.Index
	if cfg.MeiliURL != "" {
		meili := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meili.Close()
		index = meili
	}
	searchService := search.NewService(index, search.NewSQL(dataStore), logger)
	go func() {
		reindexCtx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if err := searchService.Reindex(reindexCtx, dataStore); err != nil {
			logger.Warn("search reindex failed", slog.Any("error", err))
		}
	}()

	accounts := authpw.NewService(dataStore, dispatcher)
	if cfg.BootstrapAdminEmail != "" {
		created, err := accounts.EnsureAdmin(ctx, cfg.BootstrapAdminEmail, cfg.BootstrapAdminPassword)
		if err != nil {
			return fmt.Errorf("bootstrap admin: %w", err)
		}
		if created {
			logger.Info("bootstrap admin created", slog.String("email", cfg.BootstrapAdminEmail))
		}
	}

	service := app.NewService(cfg, app.Deps{
		Store:      dataStore,
		Sessions:   sessions,
		Blobs:      blobs,
		Workflow:   workflow.NewService(dataStore, lifecycle.NewMachine(def), dispatcher, logger),
		Definition: def,
		Accounts:   accounts,
		Notifier:   dispatcher,
		Search:     searchService,
		Export:     export.NewService(dataStore, def, export.Chrome{ExecPath: cfg.ChromePath, Timeout: 30 * time.Second}),
		Directory:  recipients,
	}, logger)
	stream := notify.NewStream(publisher, cfg.CORSOrigin, logger)

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           app.NewHTTPServer(service, stream, cfg.CORSOrigin, logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return serve(server, logger)
}

// openRedis connects to REDIS_URL, or starts an in-process server for the
// single-user desktop build. Sessions there do not survive a restart.
func openRedis(cfg config.Config, logger *slog.Logger) (*session.RedisStore, func(), error) {
	if cfg.RedisURL != "" {
		sessions, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return sessions, func() { _ = sessions.Close() }, nil
	}
	embedded := miniredis.NewMiniRedis()
	if err := embedded.Start(); err != nil {
		return nil, nil, fmt.Errorf("start embedded redis: %w", err)
	}
	logger.Warn("REDIS_URL not set, using embedded redis", slog.String("addr", embedded.Addr()))
	sessions := session.NewRedisStoreWithClient(redis.NewClient(&redis.Options{Addr: embedded.Addr()}))
	return sessions, func() {
		_ = sessions.Close()
		embedded.Close()
	}, nil
}

type objectStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (int64, error)
	Get(ctx context.Context, key string) (io.ReadCloser, blob.ObjectInfo, error)
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
}

// openBlobs uses MinIO when an endpoint is configured and keeps objects in
// process memory otherwise.
func openBlobs(ctx context.Context, cfg config.Config, logger *slog.Logger) (objectStore, error) {
	if cfg.MinioEndpoint == "" {
		logger.Warn("MINIO_ENDPOINT not set, file contents are kept in memory")
		return blob.NewMemory(), nil
	}
	minio, err := blob.NewStore(blob.Config{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		Bucket:    cfg.MinioBucket,
		UseSSL:    cfg.MinioUseSSL,
	}, logger)
	if err != nil {
		return nil, err
	}
	if err := minio.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	return minio, nil
}

func serve(server *http.Server, logger *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("filegate api listening", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	logger.Info("filegate api stopped")
	return nil
}
