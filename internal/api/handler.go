package api

import (
	"pulsebench/internal/audit"
	"pulsebench/internal/auth"
	"pulsebench/internal/blueprint"
	"pulsebench/internal/config"
	"pulsebench/internal/credits"
	"pulsebench/internal/feedloop"
	"pulsebench/internal/media"
	"pulsebench/internal/observability/metrics"
	"pulsebench/internal/optimizer"
	"pulsebench/internal/outcomes"
	"pulsebench/internal/report"
	"pulsebench/internal/research"
	"pulsebench/internal/storage"
)

// Handler aggregates the HTTP endpoints exposed by the API along with the
// shared services they depend on. Every domain service is constructed once
// at startup (cmd/server/main.go) and wired in here; handler methods for
// each domain live in their own file in this package (research.go,
// feedloop.go, optimizer.go, outcomes.go, audit_media.go, report.go,
// auth_domain.go) and share the authenticate/CheckScope/DecodeAndValidate
// conventions established by credits.go and auth_helpers.go.
type Handler struct {
	Store     storage.Repository
	Auth      *auth.Manager
	Config    *config.Config
	Metrics   *metrics.Recorder
	Credits   *credits.Ledger
	Research  *research.Service
	FeedLoop  *feedloop.Service
	Optimizer *optimizer.Service
	Outcomes  *outcomes.Service
	Audit     *audit.Service
	Media     *media.Service
	Blueprint *blueprint.Service
	Report    *report.Service
}

// New constructs a Handler from its required dependencies.
func New(store storage.Repository, authManager *auth.Manager, cfg *config.Config, recorder *metrics.Recorder, ledger *credits.Ledger) *Handler {
	if recorder == nil {
		recorder = metrics.Default()
	}
	return &Handler{Store: store, Auth: authManager, Config: cfg, Metrics: recorder, Credits: ledger}
}
