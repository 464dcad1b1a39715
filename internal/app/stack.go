package app

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"

	"aepblueprint/internal/app/observability"
	"aepblueprint/internal/auth"
	"aepblueprint/internal/db"
	"aepblueprint/internal/export"
	"aepblueprint/internal/outline"
	"aepblueprint/internal/platform/logger"
	"aepblueprint/internal/realtime"
	"aepblueprint/internal/store"
)

// Stack is one fully wired instance: façade, auth, exporter, SSE hub and the
// router serving them.
type Stack struct {
	Outline  *outline.Service
	Auth     *auth.Service
	Exporter *export.Service
	Hub      *realtime.Hub
	Router   http.Handler

	detach func()
}

type StackOptions struct {
	Mailer auth.CodeMailer
	PDF    export.PDFRenderer
}

// NewStack wires the services over conn and starts forwarding bus messages
// into the façade until ctx is done. Close detaches the SSE hub.
func NewStack(ctx context.Context, cfg Config, conn *sql.DB, dialect db.Dialect, bus realtime.Bus, log *logger.Logger, opts StackOptions) (*Stack, error) {
	if log == nil {
		log = logger.Nop()
	}

	svc := outline.NewService(store.New(conn, dialect), outline.ServiceConfig{
		Cache:     outline.NewCache(cfg.CacheTTL),
		Publisher: bus,
		Logger:    log.With("component", "outline"),
	})
	if err := bus.StartForwarder(ctx, svc.ApplyRemote); err != nil {
		return nil, fmt.Errorf("start bus forwarder: %w", err)
	}

	hub := realtime.NewHub(log)
	detach := hub.Attach(svc.Cache())

	mailer := opts.Mailer
	if mailer == nil {
		mailer = auth.NewSMTPMailer(auth.SMTPConfig{
			Host:    cfg.SMTPHost,
			Port:    cfg.SMTPPort,
			User:    cfg.SMTPUser,
			Pass:    cfg.SMTPPass,
			From:    cfg.SMTPFrom,
			CodeTTL: cfg.LoginCodeTTL,
		})
	}
	if mailer == nil && cfg.IsProduction() {
		log.Warn("SMTP is not configured; login codes are printed to stdout")
	}
	authSvc := auth.NewService(conn, auth.ServiceConfig{
		Dialect:        dialect,
		AllowedDomains: cfg.AllowedDomains,
		AdminEmails:    cfg.AdminEmails,
		DefaultRole:    cfg.DefaultRole,
		SessionTTL:     cfg.SessionTTL,
		CodeTTL:        cfg.LoginCodeTTL,
		Mailer:         mailer,
		Logger:         log.With("component", "auth"),
	})

	exporter := export.NewService(svc, export.Config{
		Title:  cfg.ExportTitle,
		PDF:    opts.PDF,
		Logger: log.With("component", "export"),
	})

	metrics := observability.NewCollector(conn, log.With("component", "http"))
	metrics.AddGauge("cache_entries", func() float64 { return float64(svc.Cache().Stats().Entries) })
	metrics.AddGauge("cache_hits", func() float64 { return float64(svc.Cache().Stats().Hits) })
	metrics.AddGauge("cache_misses", func() float64 { return float64(svc.Cache().Stats().Misses) })
	metrics.AddGauge("cache_invalidations", func() float64 { return float64(svc.Cache().Stats().Invalidations) })
	metrics.AddGauge("sse_clients", func() float64 { return float64(hub.Clients(realtime.ChannelOutline)) })

	router := NewRouter(cfg, Handlers{
		DB:      conn,
		Auth:    auth.NewHandler(authSvc, cfg.IsProduction()),
		Outline: outline.NewHandler(svc).WithXLSXParser(export.ParseTemplateXLSX),
		Export:  export.NewHandler(exporter),
		Events:  realtime.NewHandler(hub, log),
		Metrics: metrics,
	})

	return &Stack{
		Outline:  svc,
		Auth:     authSvc,
		Exporter: exporter,
		Hub:      hub,
		Router:   router,
		detach:   detach,
	}, nil
}

func (s *Stack) Close() {
	if s.detach != nil {
		s.detach()
	}
}
