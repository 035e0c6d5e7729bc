package http

import (
	"context"
	"errors"
	"fmt"
	stdhttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"chippo_portfolio/internal/blob"
	"chippo_portfolio/internal/config"
	"chippo_portfolio/internal/database"
	"chippo_portfolio/internal/firestoredb"
	"chippo_portfolio/internal/handler"
	"chippo_portfolio/internal/identity"
	"chippo_portfolio/internal/interaction"
	"chippo_portfolio/internal/logger"
	"chippo_portfolio/internal/metrics"
	"chippo_portfolio/internal/preload"
	"chippo_portfolio/internal/queue"
	"chippo_portfolio/internal/redis"
	"chippo_portfolio/internal/repository"
	"chippo_portfolio/internal/service"
	"chippo_portfolio/internal/worker"
)

// streamMaxLen caps the portfolio stream; consumers only need recent entries.
const streamMaxLen = 10000

// stores is the backend the process runs against.
type stores struct {
	portfolios repository.PortfolioRepository
	likes      repository.LikeRepository
	comments   repository.CommentRepository
	verifier   identity.Verifier
	close      func()

	// users is nil when local accounts are disabled.
	users repository.UserRepository
}

func Run() error {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.New(cfg.Env)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Redis carries change events for live queries and the media worker
	rdb, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("failed to create redis client: %w", err)
	}
	defer rdb.Close()
	if err := rdb.Ping(ctx); err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	publisher := queue.NewPublisher(rdb.Client, streamMaxLen, log)

	// 3. Store backend
	st, err := openStores(ctx, cfg, log, publisher, queue.NewTailer(rdb.Client, 0, log))
	if err != nil {
		return err
	}
	defer st.close()

	blobs, err := blob.NewR2Store(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to init blob store: %w", err)
	}

	// 4. Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(metrics.Options{Registerer: registry})
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	// 5. Media worker
	workers := worker.NewManager(
		queue.NewConsumer(rdb.Client, log),
		worker.NewHandler(st.portfolios, blobs, log),
		worker.ManagerConfig{WorkerCount: cfg.WorkerCount},
		log,
	)
	if err := workers.Start(ctx); err != nil {
		return fmt.Errorf("failed to start workers: %w", err)
	}
	defer workers.Stop()

	// 6. Handlers
	interactions := interaction.Deps{
		Portfolios: st.portfolios,
		Likes:      st.likes,
		Comments:   st.comments,
		Locks:      interaction.NewKeyedMutex(),
		Log:        log,
		Metrics:    m,
	}
	gate := preload.NewGate(preload.NewHTTPLoader(cfg.PreloadTimeout), cfg.PreloadConcurrency, log, m.Preloaded)
	portfolios := service.NewPortfolioService(st.portfolios, service.NewMediaService(blobs, log), log)

	routes := RouterConfig{
		PortfolioHandler:   handler.NewPortfolioHandler(portfolios, log),
		InteractionHandler: handler.NewInteractionHandler(interactions, log),
		LiveHandler: handler.NewLiveHandler(handler.LiveConfig{
			Feeds:        st.portfolios,
			Gate:         gate,
			Verifier:     st.verifier,
			Interactions: interactions,
			MinDisplay:   cfg.FeedMinDisplay,
			Metrics:      m,
			Log:          log,
		}),
		Verifier: st.verifier,
		Metrics:  m,
		Gatherer: registry,
		Log:      log,
	}
	if st.users != nil {
		routes.AuthHandler = handler.NewAuthHandler(service.NewUserService(st.users), service.NewAuthService(cfg), log)
	}

	// 7. Serve until signalled
	srv := &stdhttp.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           NewRouter(routes),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", srv.Addr), zap.String("backend", cfg.StoreBackend))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, stdhttp.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
	}
	return nil
}

func openStores(ctx context.Context, cfg *config.Config, log *zap.Logger, events queue.Publisher, tail queue.Tailer) (*stores, error) {
	jwtVerifier := identity.NewJWTVerifier(cfg.JWTSecret)

	if cfg.StoreBackend == config.BackendFirestore {
		app, err := firestoredb.NewApp(ctx, cfg.FirebaseProjectID, cfg.FirebaseCredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to init firebase: %w", err)
		}
		client, err := app.Firestore(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to open firestore: %w", err)
		}
		authClient, err := app.Auth(ctx)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to open firebase auth: %w", err)
		}
		return &stores{
			portfolios: firestoredb.NewPortfolioStore(client, events, log),
			likes:      firestoredb.NewLikeStore(client),
			comments:   firestoredb.NewCommentStore(client),
			verifier:   identity.Chain{identity.NewFirebaseVerifier(authClient), jwtVerifier},
			close:      func() { client.Close() },
		}, nil
	}

	db, err := database.Connect(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := database.Migrate(db, log); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &stores{
		portfolios: repository.NewPortfolioRepository(db, events, tail, log),
		likes:      repository.NewLikeRepository(db, events, log),
		comments:   repository.NewCommentRepository(db, events, log),
		users:      repository.NewUserRepository(db),
		verifier:   jwtVerifier,
		close:      func() { db.Close() },
	}, nil
}
