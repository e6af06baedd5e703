// Package server assembles the HTTP surface: a chi router carrying the
// middleware chain, the huma API with its hypermedia links, the editor SSE
// routes and the Prometheus endpoint.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/mjwalz/Kartografische-Zeitmaschine/internal/api"
	"github.com/mjwalz/Kartografische-Zeitmaschine/internal/api/editor"
	"github.com/mjwalz/Kartografische-Zeitmaschine/internal/humastar"
	"github.com/mjwalz/Kartografische-Zeitmaschine/internal/service"
	"github.com/mjwalz/Kartografische-Zeitmaschine/internal/store"
)

// Config holds the server configuration.
type Config struct {
	Host    string
	Port    int
	DataDir string
	Version string
	// StoreName and CacheName are reported by /api/v1/info.
	StoreName string
	CacheName string
}

func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Server is the feature HTTP server.
type Server struct {
	config   Config
	router   chi.Router
	humaAPI  huma.API
	deps     service.Deps
	services *service.Services
	log      *zerolog.Logger
}

// New wires the services on d and registers every route.
func New(cfg Config, d service.Deps) *Server {
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if d.Log == nil {
		nop := zerolog.Nop()
		d.Log = &nop
	}
	r := chi.NewRouter()
	r.Use(Recover(d.Log))
	r.Use(Logging(d.Log))
	r.Use(CORS())
	r.Use(Metrics(d.Metrics))

	humaConfig := huma.DefaultConfig("Kartografische Zeitmaschine API", cfg.Version)
	humaConfig.Info.Description = "Historical map features with spatial and temporal queries, layered styling and GeoJSON output."
	humaConfig.Servers = []*huma.Server{
		{URL: fmt.Sprintf("http://%s:%d", displayHost(cfg.Host), cfg.Port), Description: "Local server"},
	}
	// Disable $schema property in responses (cleaner JSON)
	humaConfig.CreateHooks = []func(huma.Config) huma.Config{}
	humaConfig.Transformers = append(humaConfig.Transformers, humastar.LinkTransformer())

	s := &Server{
		config:   cfg,
		router:   r,
		humaAPI:  humachi.New(r, humaConfig),
		deps:     d,
		services: service.New(d, cfg.DataDir),
		log:      d.Log,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	huma.AutoRegister(s.humaAPI, api.NewAPIHandler(s.services, s.config.Version))
	huma.AutoRegister(s.humaAPI, api.NewInfoHandler(s.config.DataDir, s.config.StoreName, s.config.CacheName, s.config.Version))
	if db, ok := s.deps.Store.(*store.DuckDB); ok {
		huma.AutoRegister(s.humaAPI, api.NewDBHandler(db.DB()))
	}

	huma.AutoRegister(s.humaAPI, editor.NewEventHandler(s.services.Bus))
	huma.AutoRegister(s.humaAPI, editor.NewStyleHandler(s.services.Features))

	humastar.AutoLinks(s.humaAPI)

	s.router.Handle("/metrics", s.deps.Metrics.Handler())
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// OpenAPI returns the OpenAPI spec.
func (s *Server) OpenAPI() *huma.OpenAPI {
	return s.humaAPI.OpenAPI()
}

// Services exposes the service layer, for the import command.
func (s *Server) Services() *service.Services {
	return s.services
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.Addr(),
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", srv.Addr).Msg("http listen")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// Close releases the cache and the store.
func (s *Server) Close() error {
	var errs []error
	if s.deps.Cache != nil {
		errs = append(errs, s.deps.Cache.Close())
	}
	if s.deps.Store != nil {
		errs = append(errs, s.deps.Store.Close())
	}
	return errors.Join(errs...)
}

func displayHost(host string) string {
	if host == "" || host == "0.0.0.0" {
		return "localhost"
	}
	return host
}
