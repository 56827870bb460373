// Copyright (c) 2026 Netkeeper Team
// Netkeeper - WireGuard profile provisioning
// This source code is licensed under the MIT license found in the LICENSE file.

// Package api exposes the provisioning service over HTTP for the bot and
// web front-ends.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/toeirei/netkeeper/internal/core"
	"github.com/toeirei/netkeeper/internal/model"
)

// Service is the provisioning surface the handlers call.
type Service interface {
	RegisterOwner(ctx context.Context, externalID int64, displayName string) (*model.Owner, bool, error)
	Owner(ctx context.Context, externalID int64) (*model.Owner, error)
	ApproveOwner(ctx context.Context, externalID int64) (*model.Owner, error)
	RejectOwner(ctx context.Context, externalID int64) (*model.Owner, error)
	UnbanOwner(ctx context.Context, externalID int64) (*model.Owner, error)
	ResetSiteToken(ctx context.Context, externalID int64) (*model.Owner, error)
	OwnersByState(ctx context.Context, state model.OwnerState) ([]model.Owner, error)

	CreateProfile(ctx context.Context, externalOwnerID int64, name string, category model.Category) (*model.Profile, error)
	ListProfiles(ctx context.Context, externalOwnerID int64) ([]model.Profile, error)
	Profile(ctx context.Context, profileID int64) (*model.Profile, error)
	GetConfig(ctx context.Context, profileID int64) (string, error)
	RenameProfile(ctx context.Context, profileID int64, newName string) (*model.Profile, error)
	DeleteProfile(ctx context.Context, profileID int64) error
}

var _ Service = (*core.Provisioner)(nil)

// Options configures a Server.
type Options struct {
	Token string
	// Health reports backend readiness for /healthz.
	Health     func(ctx context.Context) error
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
}

// Server is the HTTP front of a Service.
type Server struct {
	svc     Service
	opts    Options
	metrics *Metrics
	engine  *gin.Engine
}

// NewServer builds the router.
func NewServer(svc Service, opts Options) (*Server, error) {
	if svc == nil {
		return nil, errors.New("api: service is required")
	}
	m, err := NewMetrics(opts.Registerer)
	if err != nil {
		return nil, err
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	s := &Server{svc: svc, opts: opts, metrics: m}
	s.engine = s.routes()
	return s, nil
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler { return s.engine }

// Metrics returns the registered collectors.
func (s *Server) Metrics() *Metrics { return s.metrics }

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestID(), AccessLog(), s.metrics.Handler())

	r.GET("/healthz", s.healthz)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{})))

	v1 := r.Group("/api/v1", BearerAuth(s.opts.Token))
	v1.POST("/owners", s.registerOwner)
	v1.GET("/owners", s.listOwners)
	v1.GET("/owners/:ext", s.getOwner)
	v1.POST("/owners/:ext/approve", s.approveOwner)
	v1.POST("/owners/:ext/reject", s.rejectOwner)
	v1.POST("/owners/:ext/unban", s.unbanOwner)
	v1.POST("/owners/:ext/site-token", s.resetSiteToken)
	v1.GET("/owners/:ext/profiles", s.listProfiles)
	v1.POST("/owners/:ext/profiles", s.createProfile)
	v1.GET("/profiles/:id", s.getProfile)
	v1.GET("/profiles/:id/config", s.getConfig)
	v1.GET("/profiles/:id/qr", s.getQR)
	v1.PATCH("/profiles/:id", s.renameProfile)
	v1.DELETE("/profiles/:id", s.deleteProfile)
	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
