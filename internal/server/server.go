package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"pulsebench/internal/api"
	"pulsebench/internal/observability/metrics"
	"pulsebench/internal/serverutil"
)

// TLSConfig defines certificate files that enable TLS for the HTTP listener
// created by New. When both CertFile and KeyFile are provided the server
// starts with TLS; otherwise it falls back to plain HTTP on Config.Addr.
type TLSConfig struct {
	CertFile string
	KeyFile  string
}

// Config aggregates the dependencies and settings required to construct a
// Server. Addr determines the listen address, TLS controls whether HTTPS is
// enabled, RateLimit configures per-client throttling, CORS controls allowed
// browser origins, Security controls response hardening headers, Logger and
// AuditLogger provide structured logging, and Metrics records request
// metrics (defaulting to metrics.Default when nil).
type Config struct {
	Addr        string
	TLS         TLSConfig
	RateLimit   RateLimitConfig
	CORS        CORSConfig
	Security    SecurityConfig
	Logger      *slog.Logger
	AuditLogger *slog.Logger
	Metrics     *metrics.Recorder
}

// Server wraps the configured http.Server alongside observability, rate
// limiting, and TLS metadata derived from Config. It exposes lifecycle
// methods for starting and gracefully shutting down the listener created by
// New.
type Server struct {
	httpServer  *http.Server
	logger      *slog.Logger
	auditLogger *slog.Logger
	metrics     *metrics.Recorder
	rateLimiter *rateLimiter
	ipResolver  *clientIPResolver
	tlsCertFile string
	tlsKeyFile  string
}

// New wires the chi router, middleware chain, and instrumentation for the
// creator-analytics API named in spec §6. Every handler validates its own
// bearer session token (internal/api's authenticate helper), so unlike the
// teacher's mux-based router this one carries no auth middleware of its
// own — only request identification, security headers, CORS, rate
// limiting, metrics, and audit/access logging wrap the route table.
func New(handler *api.Handler, cfg Config) (*Server, error) {
	if handler == nil {
		return nil, errors.New("handler is required")
	}

	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}

	router := chi.NewRouter()
	mountRoutes(router, handler, recorder)

	rl := newRateLimiter(cfg.RateLimit)
	ipResolver, err := newClientIPResolver(cfg.RateLimit)
	if err != nil {
		return nil, fmt.Errorf("configure client ip resolver: %w", err)
	}
	corsPolicy, err := newCORSPolicy(cfg.CORS)
	if err != nil {
		return nil, fmt.Errorf("configure cors policy: %w", err)
	}

	handlerChain := http.Handler(router)
	handlerChain = rateLimitMiddleware(rl, ipResolver, cfg.Logger, handlerChain)
	handlerChain = metrics.HTTPMiddleware(recorder, handlerChain)
	handlerChain = auditMiddleware(cfg.AuditLogger, ipResolver, handler, handlerChain)
	handlerChain = corsMiddleware(corsPolicy, cfg.Logger, handlerChain)
	handlerChain = securityHeadersMiddleware(cfg.Security, handlerChain)
	handlerChain = loggingMiddleware(cfg.Logger, ipResolver, handlerChain)
	handlerChain = requestIDMiddleware(cfg.Logger, handlerChain)

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handlerChain,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	srv := &Server{
		httpServer:  httpServer,
		logger:      cfg.Logger,
		auditLogger: cfg.AuditLogger,
		metrics:     recorder,
		rateLimiter: rl,
		ipResolver:  ipResolver,
		tlsCertFile: strings.TrimSpace(cfg.TLS.CertFile),
		tlsKeyFile:  strings.TrimSpace(cfg.TLS.KeyFile),
	}

	if srv.tlsCertFile != "" && srv.tlsKeyFile != "" {
		httpServer.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	return srv, nil
}

// withParam adapts a handler that takes a trailing path-segment argument
// (internal/api's convention for GetResearchItem, GetAudit, DeleteFollow,
// and the rest of the route-parameter-bearing handlers) into a
// chi-compatible http.HandlerFunc by reading the named URL parameter.
func withParam(param string, fn func(http.ResponseWriter, *http.Request, string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fn(w, r, chi.URLParam(r, param))
	}
}

func mountRoutes(r chi.Router, h *api.Handler, recorder *metrics.Recorder) {
	r.Get("/health", h.Health)
	r.Get("/health/ready", h.Ready)
	r.Get("/health/live", h.Live)
	r.Handle("/metrics", recorder.Handler())

	r.Post("/auth/sync/youtube", h.SyncYouTube)
	r.Get("/auth/me", h.Me)
	r.Post("/auth/logout", h.Logout)

	r.Get("/billing/credits", h.GetCredits)
	r.Post("/billing/checkout", h.Checkout)
	r.Post("/billing/topup", h.TopUp)

	r.Post("/research/import_url", h.ImportURL)
	r.Post("/research/capture", h.Capture)
	r.Post("/research/import_csv", h.ImportCSV)
	r.Post("/research/search", h.Search)
	r.Get("/research/collections", h.ListCollections)
	r.Get("/research/items/{id}", withParam("id", h.GetResearchItem))
	r.Post("/research/export", h.Export)
	r.Get("/research/export/{id}/download", withParam("id", h.DownloadExport))

	r.Post("/feed/discover", h.Discover)
	r.Post("/feed/search", h.FeedSearch)
	r.Post("/feed/favorites/toggle", h.FavoritesToggle)
	r.Post("/feed/collections/assign", h.CollectionsAssign)
	r.Post("/feed/export", h.FeedExport)
	r.Get("/feed/export/{id}/download", withParam("id", h.FeedExportDownload))
	r.Post("/feed/download/bulk", h.DownloadBulk)
	r.Post("/feed/download/status", h.DownloadStatus)
	r.Post("/feed/transcripts/bulk", h.TranscriptsBulk)
	r.Post("/feed/transcripts/status", h.TranscriptsStatus)
	r.Post("/feed/follows/upsert", h.FollowsUpsert)
	r.Get("/feed/follows", h.ListFollows)
	r.Delete("/feed/follows/{id}", withParam("id", h.DeleteFollow))
	r.Post("/feed/follows/ingest", h.FollowsIngest)
	r.Get("/feed/follows/runs", h.FollowsRuns)
	r.Post("/feed/repost/package", h.RepostPackageCreate)
	r.Get("/feed/repost/packages", h.RepostPackagesList)
	r.Get("/feed/repost/packages/{id}", withParam("id", h.RepostPackageGet))
	r.Post("/feed/repost/packages/{id}/status", withParam("id", h.RepostPackageSetStatus))
	r.Post("/feed/loop/variant_generate", h.LoopVariantGenerate)
	r.Post("/feed/loop/audit", h.LoopAudit)
	r.Get("/feed/loop/summary", h.LoopSummary)
	r.Get("/feed/telemetry/summary", h.TelemetrySummary)
	r.Get("/feed/telemetry/events", h.TelemetryEvents)

	r.Post("/optimizer/variant_generate", h.VariantGenerate)
	r.Post("/optimizer/rescore", h.Rescore)
	r.Post("/optimizer/draft_snapshot", h.DraftSnapshotCreate)
	r.Get("/optimizer/draft_snapshot", h.DraftSnapshotList)
	r.Get("/optimizer/draft_snapshot/{id}", withParam("id", h.DraftSnapshotGet))

	r.Post("/outcomes/ingest", h.OutcomesIngest)
	r.Get("/outcomes/summary", h.OutcomesSummary)
	r.Post("/outcomes/recalibrate", h.OutcomesRecalibrate)

	r.Post("/audit/upload", h.AuditUpload)
	r.Post("/audit/run_multimodal", h.AuditRunMultimodal)
	r.Get("/audit", h.ListAudits)
	r.Get("/audit/{id}", withParam("id", h.GetAudit))
	r.Post("/media/download", h.MediaDownload)
	r.Get("/media/download/{id}", withParam("id", h.MediaDownloadGet))

	r.Get("/report/latest", h.ReportLatest)
	r.Post("/report/share", h.ReportShareCreate)
	r.Get("/report/share/{token}", withParam("token", h.ReportShareResolve))
	r.Get("/report/{id}", withParam("id", h.ReportGet))
}

// Start runs the listener until ctx is cancelled, then attempts a graceful
// shutdown bounded by serverutil.DefaultShutdownTimeout. It delegates the
// listen/serve/shutdown mechanics to serverutil.Run rather than duplicating
// them here.
func (s *Server) Start(ctx context.Context) error {
	if s.httpServer == nil {
		return fmt.Errorf("http server is not configured")
	}

	return serverutil.Run(ctx, serverutil.Config{
		Server: s.httpServer,
		TLS: serverutil.TLSConfig{
			CertFile: s.tlsCertFile,
			KeyFile:  s.tlsKeyFile,
		},
	})
}

// Shutdown triggers an immediate graceful shutdown outside of Start's
// context-driven lifecycle, primarily for tests that construct a Server
// without running Start.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func loggingMiddleware(logger *slog.Logger, resolver *clientIPResolver, next http.Handler) http.Handler {
	if logger == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := metrics.NewResponseRecorder(w)
		start := time.Now()
		next.ServeHTTP(rec, r)
		duration := time.Since(start)
		ip, source := resolveClientIP(r, resolver)
		loggerWithRequestContext(r.Context(), logger).Info("request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.Status(),
			"duration_ms", duration.Milliseconds(),
			"remote_ip", ip,
			"ip_source", source)
	})
}

func rateLimitMiddleware(rl *rateLimiter, resolver *clientIPResolver, logger *slog.Logger, next http.Handler) http.Handler {
	if rl == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.AllowRequest() {
			writeMiddlewareError(w, http.StatusTooManyRequests, "global rate limit exceeded")
			return
		}
		if r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, "/auth/") {
			ip, source := resolveClientIP(r, resolver)
			allowed, retryAfter, err := rl.AllowLogin(ip)
			if err != nil {
				if logger != nil {
					logger.Error("rate limiter failure", "error", err, "remote_ip", ip, "ip_source", source)
				}
				writeMiddlewareError(w, http.StatusServiceUnavailable, "rate limit failure")
				return
			}
			if !allowed {
				if logger != nil {
					logger.Warn("auth endpoint rate limited", "remote_ip", ip, "ip_source", source, "path", r.URL.Path)
				}
				if retryAfter > 0 {
					w.Header().Set("Retry-After", fmt.Sprintf("%.0f", retryAfter.Seconds()))
				}
				writeMiddlewareError(w, http.StatusTooManyRequests, "too many requests")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// auditMiddleware logs every mutating request for compliance/traceability.
// It best-effort decodes the caller's bearer token through handler.Auth to
// attach a user id to the log line; a missing or invalid token just logs
// without one; actual authorization still happens inside the handler.
func auditMiddleware(logger *slog.Logger, resolver *clientIPResolver, handler *api.Handler, next http.Handler) http.Handler {
	if logger == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := metrics.NewResponseRecorder(w)
		start := time.Now()
		next.ServeHTTP(rec, r)
		if !shouldAudit(r) {
			return
		}
		duration := time.Since(start)
		ip, source := resolveClientIP(r, resolver)
		fields := []interface{}{
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.Status(),
			"duration_ms", duration.Milliseconds(),
			"remote_ip", ip,
			"ip_source", source,
		}
		if userID := peekBearerSubject(handler, r); userID != "" {
			fields = append(fields, "user_id", userID)
		}
		logger.Info("audit", fields...)
	})
}

func peekBearerSubject(handler *api.Handler, r *http.Request) string {
	if handler == nil || handler.Auth == nil {
		return ""
	}
	const prefix = "Bearer "
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	userID, _, err := handler.Auth.Validate(token)
	if err != nil {
		return ""
	}
	return userID
}

func shouldAudit(r *http.Request) bool {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	default:
		return true
	}
}

const (
	ipSourceRemoteAddr    = "remote_addr"
	ipSourceXForwardedFor = "x_forwarded_for"
	ipSourceXRealIP       = "x_real_ip"
)

type clientIPResolver struct {
	trustForwarded bool
	trustedNets    []*net.IPNet
}

func newClientIPResolver(cfg RateLimitConfig) (*clientIPResolver, error) {
	resolver := &clientIPResolver{trustForwarded: cfg.TrustForwardedHeaders}
	for _, raw := range cfg.TrustedProxies {
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			continue
		}
		if _, network, err := net.ParseCIDR(trimmed); err == nil {
			resolver.trustedNets = append(resolver.trustedNets, network)
			continue
		}
		ip := net.ParseIP(trimmed)
		if ip == nil {
			return nil, fmt.Errorf("parse trusted proxy %q: invalid address", trimmed)
		}
		maskSize := 128
		if ip.To4() != nil {
			maskSize = 32
		}
		resolver.trustedNets = append(resolver.trustedNets, &net.IPNet{IP: ip, Mask: net.CIDRMask(maskSize, maskSize)})
	}
	return resolver, nil
}

func (r *clientIPResolver) ClientIPFromRequest(req *http.Request) (string, string) {
	if req == nil {
		return "", ipSourceRemoteAddr
	}
	if r != nil && r.shouldTrust(req.RemoteAddr) {
		if xff := req.Header.Get("X-Forwarded-For"); xff != "" {
			parts := strings.Split(xff, ",")
			for _, part := range parts {
				trimmed := strings.TrimSpace(part)
				if trimmed != "" {
					return trimmed, ipSourceXForwardedFor
				}
			}
		}
		if xrip := strings.TrimSpace(req.Header.Get("X-Real-IP")); xrip != "" {
			return xrip, ipSourceXRealIP
		}
	}
	return clientIP(req.RemoteAddr), ipSourceRemoteAddr
}

func (r *clientIPResolver) shouldTrust(remoteAddr string) bool {
	if r == nil {
		return false
	}
	if r.trustForwarded {
		return true
	}
	if len(r.trustedNets) == 0 {
		return false
	}
	host := clientIP(remoteAddr)
	if host == "" {
		return false
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	for _, network := range r.trustedNets {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

func resolveClientIP(r *http.Request, resolver *clientIPResolver) (string, string) {
	if resolver == nil {
		return clientIP(r.RemoteAddr), ipSourceRemoteAddr
	}
	return resolver.ClientIPFromRequest(r)
}

func clientIP(remoteAddr string) string {
	if remoteAddr == "" {
		return ""
	}
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
