package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/waitlist-service/internal/api"
	"github.com/ignite/waitlist-service/internal/config"
	"github.com/ignite/waitlist-service/internal/email"
	"github.com/ignite/waitlist-service/internal/pkg/distlock"
	"github.com/ignite/waitlist-service/internal/pkg/logger"
	"github.com/ignite/waitlist-service/internal/ratelimit"
	"github.com/ignite/waitlist-service/internal/repository/memory"
	"github.com/ignite/waitlist-service/internal/repository/postgres"
	"github.com/ignite/waitlist-service/internal/security"
	"github.com/ignite/waitlist-service/internal/service/waitlist"
)

// checkPortAvailable fails fast when something already holds the port.
func checkPortAvailable(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("address %s is already in use: %w", addr, err)
	}
	return ln.Close()
}

// extractHost returns the host part of a DSN for logging without credentials.
func extractHost(dsn string) string {
	at := strings.LastIndex(dsn, "@")
	if at < 0 {
		return "(unknown)"
	}
	rest := dsn[at+1:]
	if slash := strings.Index(rest, "/"); slash >= 0 {
		rest = rest[:slash]
	}
	return rest
}

func openDatabase(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	dsn := cfg.URL
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	if !strings.Contains(dsn, "connect_timeout") {
		dsn += sep + "connect_timeout=5"
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxOpenConns / 2)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(30 * time.Second)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// openRedis returns nil when Redis is not configured or unreachable.
func openRedis(ctx context.Context, url string) *redis.Client {
	if url == "" {
		return nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		opts = &redis.Options{Addr: url}
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis unreachable, using in-process rate limiting", "addr", opts.Addr, "error", err.Error())
		client.Close()
		return nil
	}
	logger.Info("redis connected", "addr", opts.Addr)
	return client
}

// verifySender checks provider credentials once at startup. Failure is only
// logged; sends report their own errors.
func verifySender(ctx context.Context, sender email.Sender) {
	if !sender.IsConfigured() {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if sender.TestConnection(ctx) {
		logger.Info("email provider reachable", "provider", sender.Name())
		return
	}
	logger.Warn("email provider connection test failed", "provider", sender.Name())
}

func budgets(cfg config.RateLimitConfig) map[ratelimit.Category]ratelimit.Budget {
	return map[ratelimit.Category]ratelimit.Budget{
		ratelimit.CategoryEmailVerification: {Limit: cfg.EmailVerification.Limit, Window: cfg.EmailVerification.Window()},
		ratelimit.CategorySignup:            {Limit: cfg.Signup.Limit, Window: cfg.Signup.Window()},
		ratelimit.CategoryGeneral:           {Limit: cfg.General.Limit, Window: cfg.General.Window()},
	}
}

func main() {
	cfgPath := config.DefaultPath
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		cfgPath = p
	}
	cfg, err := config.LoadFromEnv(cfgPath)
	if err != nil {
		logger.Fatal("failed to load config", "path", cfgPath, "error", err.Error())
	}

	logger.Init("waitlist", logger.ParseLevel(cfg.Log.Level))
	if cfg.Log.RedactPII != nil {
		logger.SetRedactPII(*cfg.Log.RedactPII)
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", "error", err.Error())
	}

	addr := cfg.Server.Addr()
	if err := checkPortAvailable(addr); err != nil {
		logger.Fatal("pre-flight check failed", "error", err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cipher, err := security.NewCipherFromMaterial(cfg.Security.EncryptionKey)
	if err != nil {
		logger.Fatal("invalid encryption key", "error", err.Error())
	}

	var (
		repo waitlist.Repository
		db   *sql.DB
	)
	if cfg.Database.URL != "" {
		db, err = openDatabase(ctx, cfg.Database)
		if err != nil {
			logger.Fatal("database unavailable", "host", extractHost(cfg.Database.URL), "error", err.Error())
		}
		defer db.Close()
		repo = postgres.NewWaitlistRepo(db)
		logger.Info("using postgres store", "host", extractHost(cfg.Database.URL))
	} else {
		repo = memory.NewWaitlistRepo()
		logger.Warn("DATABASE_URL not set, entries live in memory only")
	}

	redisClient := openRedis(ctx, cfg.Redis.URL)
	var (
		limiter     ratelimit.Limiter
		healthRedis redis.UniversalClient
		lockRedis   redis.Cmdable
	)
	if redisClient != nil {
		defer redisClient.Close()
		limiter = ratelimit.NewRedisLimiter(redisClient, budgets(cfg.RateLimit))
		healthRedis = redisClient
		lockRedis = redisClient
	} else {
		limiter = ratelimit.NewMemoryLimiter(budgets(cfg.RateLimit))
	}

	var locks waitlist.LockFactory
	if lockRedis != nil || db != nil {
		locks = distlock.Factory(lockRedis, db)
	}

	sender := email.NewSender(cfg.Email)
	logger.Info("email backend selected", "provider", sender.Name(), "configured", sender.IsConfigured())
	go verifySender(ctx, sender)

	svc := waitlist.NewService(waitlist.Deps{
		Repo:    repo,
		Hasher:  security.NewHasher(cfg.Security.HashPepper),
		Cipher:  cipher,
		Limiter: limiter,
		Sender:  sender,
		Locks:   locks,
		Config: waitlist.Config{
			BaseURL:         cfg.Server.BaseURL,
			From:            cfg.Email.From,
			ProductName:     cfg.Waitlist.ProductName,
			LaunchURL:       cfg.Waitlist.LaunchURL,
			VerificationTTL: cfg.Waitlist.VerificationTTL(),
			WelcomeTimeout:  cfg.Waitlist.WelcomeTimeout(),
			LaunchBatchSize: cfg.Waitlist.LaunchBatchSize,
		},
	})

	hc := api.NewHealthChecker(repo, healthRedis, sender)
	server := api.NewServer(cfg, svc, hc)

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()
	logger.Info("waitlist service ready", "addr", addr, "environment", cfg.Environment)

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			logger.Error("server error", "error", err.Error())
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout())
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err.Error())
	}
	svc.Wait()
	logger.Info("server stopped")
}
