package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	flag "github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/imnothoan/verygoodmail/internal/api"
	"github.com/imnothoan/verygoodmail/internal/auth"
	"github.com/imnothoan/verygoodmail/internal/classify"
	"github.com/imnothoan/verygoodmail/internal/config"
	"github.com/imnothoan/verygoodmail/internal/crypto"
	"github.com/imnothoan/verygoodmail/internal/db"
	"github.com/imnothoan/verygoodmail/internal/delivery"
	"github.com/imnothoan/verygoodmail/internal/health"
	"github.com/imnothoan/verygoodmail/internal/imap"
	"github.com/imnothoan/verygoodmail/internal/janitor"
	"github.com/imnothoan/verygoodmail/internal/logger"
	"github.com/imnothoan/verygoodmail/internal/metrics"
	"github.com/imnothoan/verygoodmail/internal/push"
	"github.com/imnothoan/verygoodmail/internal/search"
	"github.com/imnothoan/verygoodmail/internal/smtp"
	"github.com/imnothoan/verygoodmail/internal/storage"
	ws "github.com/imnothoan/verygoodmail/internal/websocket"
)

const (
	shutdownTimeout   = 15 * time.Second
	redisChannelBase  = "verygoodmail:"
	maxSocketsPerUser = 10
)

func main() {
	issueToken := flag.String("issue-token", "", "print a bearer token for the given email and exit")
	flag.Parse()

	cfg, err := config.NewConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Options{
		Level:       cfg.LogLevel,
		Development: cfg.Environment == "development",
		LogFile:     cfg.LogFile,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if *issueToken != "" {
		cipher, err := crypto.NewCipher(cfg.EncryptionKeyBase64)
		if err != nil {
			log.Fatal("failed to create cipher", zap.Error(err))
		}
		fmt.Println(auth.NewAuthenticator(cipher, log).IssueToken(*issueToken))
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("server stopped with error", zap.Error(err))
	}
	log.Info("server stopped")
}

// run wires every component and blocks until ctx is cancelled or one of the
// long-running parts fails.
func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	pool, err := db.NewConnection(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.CloseConnection(pool)
	log.Info("connected to database", zap.String("host", cfg.DBHost), zap.String("name", cfg.DBName))

	app, err := NewApp(cfg, pool, prometheus.DefaultRegisterer, log)
	if err != nil {
		return err
	}
	defer app.Close()

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           app.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info("HTTP server starting", zap.String("addr", server.Addr), zap.String("environment", cfg.Environment))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	app.Start(groupCtx, group)

	return group.Wait()
}

// App holds the wired components.
type App struct {
	cfg    *config.Config
	log    *zap.Logger
	store  *db.MailStore
	cipher *crypto.Cipher
	blobs  *storage.LocalBlobs
	hub    *ws.Hub
	redis  *redis.Client

	auth         *auth.Authenticator
	orchestrator *delivery.Orchestrator
	searcher     *search.Service
	listener     *imap.Listener
	janitor      *janitor.Janitor
	checker      *health.Checker
}

// NewApp builds the component graph. Nothing runs until Start.
func NewApp(cfg *config.Config, pool *pgxpool.Pool, registry prometheus.Registerer, log *zap.Logger) (*App, error) {
	cipher, err := crypto.NewCipher(cfg.EncryptionKeyBase64)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	blobs, err := storage.NewLocalBlobs(cfg.AttachmentDir, cfg.AttachmentBaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare attachment storage: %w", err)
	}

	app := &App{
		cfg:    cfg,
		log:    log,
		store:  db.NewMailStore(pool),
		cipher: cipher,
		blobs:  blobs,
		hub:    ws.NewHub(maxSocketsPerUser, log),
		auth:   auth.NewAuthenticator(cipher, log),
	}

	var publisher push.Publisher = push.NewHubPublisher(app.hub)
	if cfg.RedisAddr != "" {
		app.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		publisher = push.NewRedisPublisher(app.redis, redisChannelBase)
	}

	var remote classify.Remote
	if cfg.ClassifierURL != "" {
		remote = classify.NewRemoteClassifier(classify.RemoteOptions{
			BaseURL:       cfg.ClassifierURL,
			Timeout:       cfg.ClassifierTimeout,
			HealthTimeout: cfg.ClassifierHealthTimeout,
			HealthTTL:     cfg.ClassifierHealthTTL,
		}, log.Named("classify.remote"))
	}
	engine := classify.NewEngine(remote, classify.NewLocalModel(), cfg.MailDomain, log.Named("classify"))

	dispatcher := smtp.NewDispatcher(smtp.Options{
		Host:          cfg.SMTPHost,
		Port:          cfg.SMTPPort,
		Username:      cfg.SMTPUsername,
		Password:      cfg.SMTPPassword,
		FromName:      cfg.SMTPFromName,
		Security:      cfg.SMTPSecurity,
		RatePerSecond: cfg.SMTPRatePerSecond,
	}, log.Named("smtp"))
	if !dispatcher.Configured() {
		log.Warn("SMTP relay not configured; external recipients will not receive mail")
	}

	app.orchestrator = delivery.NewOrchestrator(
		app.store, app.store, engine, cipher, blobs, dispatcher, publisher,
		delivery.Options{LocalDomain: cfg.MailDomain, SnippetLength: cfg.SnippetLength},
		log.Named("delivery"),
	)
	app.searcher = search.NewService(app.store, cipher, cfg.SearchFetchCap)
	app.janitor = janitor.New(app.store, blobs, cfg.TrashRetention, time.Hour, log)

	if cfg.IMAPConfigured() {
		app.listener = imap.NewListener(imap.ListenerConfig{
			Mailbox:  cfg.IMAPUsername,
			CatchAll: cfg.CatchAll,
			Backoff: imap.Backoff{
				Base:       cfg.ReconnectBase,
				Multiplier: cfg.ReconnectMultiplier,
				Max:        cfg.ReconnectMax,
			},
			MaxAttempts:        cfg.ReconnectMaxAttempts,
			IdleRenewal:        cfg.IdleRenewal,
			ProcessedCacheSize: cfg.ProcessedCacheSize,
		}, &imap.ServerDialer{
			Address:  cfg.IMAPHost,
			Username: cfg.IMAPUsername,
			Password: cfg.IMAPPassword,
			UseTLS:   cfg.IMAPUseTLS,
		}, app.orchestrator, log)
	} else {
		log.Warn("IMAP mailbox not configured; inbound mail is disabled")
	}

	app.checker = health.NewChecker(registry, log)
	app.checker.AddDatabase(pool)
	if app.redis != nil {
		app.checker.AddRedis(app.redis)
	}
	if app.listener != nil {
		app.checker.AddListener(app.listener.Ready)
	}

	return app, nil
}

// Start launches the background workers on group.
func (a *App) Start(ctx context.Context, group *errgroup.Group) {
	if a.listener != nil {
		group.Go(func() error {
			return a.listener.Run(ctx)
		})
	}

	if a.redis != nil {
		relay := push.NewRelay(a.redis, redisChannelBase, a.hub, a.log)
		group.Go(func() error {
			return relay.Run(ctx)
		})
	}

	group.Go(func() error {
		return a.janitor.Run(ctx)
	})
}

func (a *App) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn("failed to close redis client", zap.Error(err))
		}
	}
}

// Handler returns the HTTP routes.
func (a *App) Handler() http.Handler {
	authHandler := api.NewAuthHandler(a.store, a.log)
	threadsHandler := api.NewThreadsHandler(a.store, a.store, a.cipher, a.log)
	threadHandler := api.NewThreadHandler(a.store, a.store, a.cipher, a.log)
	composeHandler := api.NewComposeHandler(a.orchestrator, a.store, a.store, a.cipher, a.log)
	searchHandler := api.NewSearchHandler(a.searcher, a.store, a.log)
	wsHandler := api.NewWebSocketHandler(a.auth, a.store, a.hub, a.log)

	var listenerControl api.ListenerControl
	if a.listener != nil {
		listenerControl = a.listener
	}
	listenerHandler := api.NewListenerHandler(listenerControl, a.log)

	protect := func(h http.HandlerFunc) http.Handler {
		return a.auth.RequireAuth(h)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", handleRoot)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /live", a.checker.LiveEndpoint)
	mux.HandleFunc("GET /ready", a.checker.ReadyEndpoint)
	mux.Handle("GET /attachments/", http.StripPrefix("/attachments/", http.FileServer(http.Dir(a.blobs.Root()))))

	mux.Handle("GET /api/v1/auth/status", protect(authHandler.GetAuthStatus))
	mux.Handle("GET /api/v1/threads", protect(threadsHandler.GetThreads))
	mux.Handle("GET /api/v1/thread/{id}", protect(threadHandler.GetThread))
	mux.Handle("DELETE /api/v1/thread/{id}", protect(threadHandler.TrashThread))
	mux.Handle("POST /api/v1/messages", protect(composeHandler.PostMessage))
	mux.Handle("GET /api/v1/search", protect(searchHandler.Search))
	mux.Handle("GET /api/v1/search/suggest", protect(searchHandler.Suggest))
	mux.Handle("GET /api/v1/listener", protect(listenerHandler.GetStatus))
	mux.Handle("POST /api/v1/listener/restart", protect(listenerHandler.PostRestart))
	// Browsers cannot set headers on websocket requests; the handler
	// authenticates from the query string itself.
	mux.HandleFunc("GET /api/v1/ws", wsHandler.Handle)

	return mux
}

func handleRoot(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "VeryGoodMail API is running")
}
