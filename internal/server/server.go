package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bidhouse/apiserver/config"
	"github.com/bidhouse/apiserver/internal/cache"
	"github.com/bidhouse/apiserver/internal/db"
	"github.com/bidhouse/apiserver/internal/handlers"
	"github.com/bidhouse/apiserver/internal/mq"
	"github.com/bidhouse/apiserver/internal/scheduler"
	"github.com/bidhouse/apiserver/internal/services"
	"github.com/bidhouse/apiserver/internal/storage"
	"github.com/bidhouse/apiserver/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Server wraps the HTTP server, router and the connections it owns.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	db         *sql.DB
	events     *mq.Publisher
	cache      *cache.Cache
	announcer  *scheduler.Announcer
	logger     *zap.Logger
}

// New connects every backend named in cfg and wires the routes.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	jwtSecret := strings.TrimSpace(cfg.Auth.JWTSecret)
	if jwtSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}

	s := &Server{logger: logger}
	ok := false
	defer func() {
		if !ok {
			s.closeBackends()
		}
	}()

	dbConn, err := db.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	s.db = dbConn

	objects, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	backend, err := mq.NewBackend(ctx, cfg.MQ)
	if err != nil {
		return nil, fmt.Errorf("init mq: %w", err)
	}
	s.events = mq.NewPublisher(backend, cfg.MQ.Channel)

	var throttle handlers.LoginThrottle
	if cfg.Redis.URL != "" {
		c, err := cache.New(ctx, cfg.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("init redis: %w", err)
		}
		s.cache = c
		throttle = c.LoginThrottle(cfg.Redis.LoginMaxAttempts, cfg.Redis.LoginWindow)
	} else {
		logger.Info("REDIS_URL not set; login throttling disabled")
	}

	userRepo := store.NewUserRepository(dbConn)
	auctionRepo := store.NewAuctionRepository(dbConn)
	bidRepo := store.NewBidRepository(dbConn)

	uploads := services.NewUploadService(objects)
	userService := services.NewUserService(userRepo, logger)
	auctionService := services.NewAuctionService(auctionRepo, bidRepo, userRepo, uploads, s.events, logger)
	bidService := services.NewBidService(auctionRepo, bidRepo, userRepo, s.events, logger)

	if spec := strings.TrimSpace(cfg.Schedule.AnnounceSpec); spec != "" {
		s.announcer = scheduler.NewAnnouncer(auctionService, spec, logger)
	}

	authHandler := handlers.NewAuthHandler(userService, throttle, jwtSecret, cfg.Auth.TokenTTL, logger)
	authMiddleware := authHandler.RequireAuth

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		handlers.RequestLogger(logger),
		middleware.Recoverer,
		middleware.Timeout(60*time.Second),
	)
	router.Get("/healthz", handlers.Healthz)
	router.Route("/auth", func(r chi.Router) {
		handlers.AuthRouter(r, authHandler)
	})
	router.Route("/users", func(r chi.Router) {
		handlers.UserRouter(r, handlers.NewUserHandler(userService, auctionService, uploads, logger), authMiddleware)
	})
	router.Route("/auctions", func(r chi.Router) {
		handlers.AuctionRouter(r, handlers.NewAuctionHandler(auctionService, bidService, uploads, logger), authMiddleware)
	})
	router.Route("/uploads", func(r chi.Router) {
		handlers.UploadRouter(r, handlers.NewUploadHandler(uploads, logger))
	})

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	s.router = router
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	ok = true
	return s, nil
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the background jobs and the HTTP server. It returns nil once
// the server has been shut down.
func (s *Server) Start(ctx context.Context) error {
	if s.announcer != nil {
		if err := s.announcer.Start(ctx); err != nil {
			return err
		}
	}

	s.logger.Info("http server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests, stops background jobs and closes
// the backends.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	if s.announcer != nil {
		s.announcer.Stop()
	}
	s.closeBackends()
	return err
}

func (s *Server) closeBackends() {
	if s.events != nil {
		if err := s.events.Close(); err != nil {
			s.logger.Warn("close mq failed", zap.Error(err))
		}
	}
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			s.logger.Warn("close redis failed", zap.Error(err))
		}
	}
	if s.db != nil {
		_ = s.db.Close()
	}
}
