package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/otpgate/apiserver/config"
	"github.com/otpgate/apiserver/internal/activity"
	"github.com/otpgate/apiserver/internal/handlers"
	"github.com/otpgate/apiserver/internal/logging"
	"github.com/otpgate/apiserver/internal/mailer"
	"github.com/otpgate/apiserver/internal/otp"
	"github.com/otpgate/apiserver/internal/services"
	"github.com/otpgate/apiserver/internal/token"
	"github.com/otpgate/apiserver/types"
)

// Server wraps the HTTP server and router.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	stores     *Stores
	closeMail  func() error
	log        logging.Logger
}

// New connects the configured backends and builds the router.
func New(ctx context.Context, cfg config.Config, log logging.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	stores, err := OpenStores(ctx, cfg)
	if err != nil {
		return nil, err
	}
	mail, closeMail, err := OpenMailer(ctx, cfg, log)
	if err != nil {
		_ = stores.Close(ctx)
		return nil, fmt.Errorf("email transport: %w", err)
	}

	router := NewRouter(cfg, stores, mail, log)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.ServerPort),
			Handler:      router,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		router:    router,
		stores:    stores,
		closeMail: closeMail,
		log:       log,
	}, nil
}

// NewRouter wires services and handlers on top of already opened backends.
func NewRouter(cfg config.Config, stores *Stores, mail mailer.Mailer, log logging.Logger) *chi.Mux {
	auth := services.NewAuthService(
		stores.Users,
		activity.NewLogger(stores.Activity, log),
		otp.NewEngine(otp.NewMemoryStore()),
		token.NewIssuer(cfg.JWT.Secret, cfg.JWT.ExpiresIn),
		mail,
		log,
		services.WithAdminSignup(cfg.AllowAdminSignup),
	)
	users := services.NewUserService(stores.Users, log)
	policy := services.Policy(services.DefaultPolicy)

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		middleware.Logger,
		middleware.Timeout(60*time.Second),
	)
	router.Get("/healthz", handlers.Healthz)
	router.Get("/health/store", handlers.StoreHealth(stores.Pinger, log))
	router.Route("/auth", func(r chi.Router) {
		handlers.AuthRouter(r, auth, policy, log)
	})
	router.Route("/users", func(r chi.Router) {
		r.Use(handlers.RequireAuth(auth, log), handlers.RequireRole(policy, types.RoleAdmin, log))
		handlers.UserRouter(r, users, log)
	})
	return router
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start() error {
	s.log.Info(context.Background(), "listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and releases backends.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	return errors.Join(err, s.closeMail(), s.stores.Close(ctx))
}
