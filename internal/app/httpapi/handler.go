// Package httpapi exposes the subscription engine over HTTP.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	app "github.com/R3E-Network/subscription_layer/internal/app"
	"github.com/R3E-Network/subscription_layer/internal/app/domain/subscription"
	"github.com/R3E-Network/subscription_layer/internal/app/domain/tier"
	"github.com/R3E-Network/subscription_layer/internal/app/domain/usage"
	"github.com/R3E-Network/subscription_layer/internal/app/metrics"
	"github.com/R3E-Network/subscription_layer/internal/errors"
	"github.com/R3E-Network/subscription_layer/internal/httputil"
	"github.com/R3E-Network/subscription_layer/internal/middleware"
	"github.com/R3E-Network/subscription_layer/pkg/logger"
)

const (
	defaultSweepTimeout   = 10 * time.Minute
	defaultLimiterCleanup = 5 * time.Minute
)

var (
	errInvalidTier = errors.Validation("INVALID_TIER", "unknown tier")
	errNotFound    = errors.NotFound("ROUTE_NOT_FOUND", "no such route")
)

// Config controls the HTTP surface.
type Config struct {
	CronSecret     string
	RequestTimeout time.Duration
	RateLimitRPS   float64
	RateLimitBurst int
	// SweepTimeout bounds an operator-triggered sweep. Zero means defaultSweepTimeout.
	SweepTimeout time.Duration
	// LimiterCleanup is how often idle per-client limiters are pruned. Zero
	// means defaultLimiterCleanup.
	LimiterCleanup time.Duration
	// Health reports backend reachability for /healthz. Nil means always healthy.
	Health func(ctx context.Context) error
}

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app          *app.Application
	health       func(ctx context.Context) error
	sweepTimeout time.Duration
	log          *logger.Logger
}

// NewHandler returns the API router wrapped with request metrics.
func NewHandler(application *app.Application, cfg Config, log *logger.Logger) http.Handler {
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	if cfg.SweepTimeout <= 0 {
		cfg.SweepTimeout = defaultSweepTimeout
	}
	if cfg.LimiterCleanup <= 0 {
		cfg.LimiterCleanup = defaultLimiterCleanup
	}
	h := &handler{app: application, health: cfg.Health, sweepTimeout: cfg.SweepTimeout, log: log}

	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteError(w, errNotFound)
	})
	r.Use(middleware.Logging(log))

	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", h.healthz).Methods(http.MethodGet)

	limiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, log.Named("ratelimit"))
	if err := application.Attach(limiter.Janitor(cfg.LimiterCleanup)); err != nil {
		log.WithError(err).Warn("rate limiter cleanup not registered")
	}
	v1 := r.PathPrefix("/v1").Subrouter()
	v1.Use(limiter.Handler, middleware.Timeout(cfg.RequestTimeout))

	v1.HandleFunc("/plans", h.plans).Methods(http.MethodGet)
	v1.HandleFunc("/entitlements/{wallet}", h.entitlement).Methods(http.MethodGet)
	v1.HandleFunc("/quota/{wallet}/{feature}/charge", h.charge).Methods(http.MethodPost)
	v1.HandleFunc("/quota/{wallet}/{feature}/rollback", h.rollback).Methods(http.MethodPost)
	v1.HandleFunc("/usage/{wallet}", h.usage).Methods(http.MethodGet)
	v1.HandleFunc("/subscriptions", h.activate).Methods(http.MethodPost)
	v1.HandleFunc("/users/{wallet}/notifications", h.setNotifications).Methods(http.MethodPut)

	auth := middleware.BearerAuth(cfg.CronSecret)
	v1.Handle("/lifecycle/sweep", auth(http.HandlerFunc(h.sweep))).Methods(http.MethodPost)
	v1.Handle("/notifications/broadcast", auth(http.HandlerFunc(h.broadcast))).Methods(http.MethodPost)

	return metrics.InstrumentHandler(r)
}

func (h *handler) healthz(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health(r.Context()); err != nil {
			h.log.WithError(err).Warn("health check failed")
			httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) plans(w http.ResponseWriter, _ *http.Request) {
	out := make([]tier.Plan, 0, len(h.app.Plans))
	for _, t := range []tier.Tier{tier.Free, tier.Premium, tier.Pro} {
		if p, ok := h.app.Plans.Plan(t); ok {
			out = append(out, p)
		}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"plans": out})
}

type entitlementResponse struct {
	subscription.Entitlement
	Limits map[tier.Feature]tier.Budget `json:"limits"`
}

func (h *handler) entitlement(w http.ResponseWriter, r *http.Request) {
	ent, err := h.app.Entitlements.Resolve(r.Context(), mux.Vars(r)["wallet"])
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, entitlementResponse{Entitlement: ent, Limits: h.limits(ent.Tier)})
}

func (h *handler) charge(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Tier string `json:"tier"`
	}
	if err := httputil.DecodeJSON(r, &payload, true); err != nil {
		httputil.WriteError(w, err)
		return
	}
	var claimed tier.Tier
	if payload.Tier != "" {
		t, ok := tier.Parse(payload.Tier)
		if !ok {
			httputil.WriteError(w, errInvalidTier.WithDetail("tier", payload.Tier))
			return
		}
		claimed = t
	}

	vars := mux.Vars(r)
	charge, err := h.app.Quota.Charge(r.Context(), vars["wallet"], tier.Feature(vars["feature"]), claimed)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, charge)
}

func (h *handler) rollback(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	charge, err := h.app.Quota.Rollback(r.Context(), vars["wallet"], tier.Feature(vars["feature"]))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, charge)
}

type usageResponse struct {
	WalletAddress string                       `json:"wallet_address"`
	Tier          tier.Tier                    `json:"tier"`
	Usage         []usage.Counter              `json:"usage"`
	Limits        map[tier.Feature]tier.Budget `json:"limits"`
}

func (h *handler) usage(w http.ResponseWriter, r *http.Request) {
	ent, counters, err := h.app.Quota.Usage(r.Context(), mux.Vars(r)["wallet"])
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if counters == nil {
		counters = []usage.Counter{}
	}
	httputil.WriteJSON(w, http.StatusOK, usageResponse{
		WalletAddress: ent.WalletAddress,
		Tier:          ent.Tier,
		Usage:         counters,
		Limits:        h.limits(ent.Tier),
	})
}

func (h *handler) activate(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Wallet          string `json:"wallet"`
		Tier            string `json:"tier"`
		TransactionHash string `json:"transaction_hash"`
	}
	if err := httputil.DecodeJSON(r, &payload, false); err != nil {
		httputil.WriteError(w, err)
		return
	}
	t, _ := tier.Parse(payload.Tier)
	sub, err := h.app.Subscriptions.Activate(r.Context(), payload.Wallet, t, payload.TransactionHash)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, sub)
}

func (h *handler) setNotifications(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		URL   string `json:"url"`
		Token string `json:"token"`
		Email string `json:"email"`
	}
	if err := httputil.DecodeJSON(r, &payload, false); err != nil {
		httputil.WriteError(w, err)
		return
	}
	user, err := h.app.Notifications.SetEndpoint(r.Context(), mux.Vars(r)["wallet"], payload.URL, payload.Token, payload.Email)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, user)
}

func (h *handler) sweep(w http.ResponseWriter, r *http.Request) {
	// Sweeps are not abandoned on client disconnect but stay bounded.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), h.sweepTimeout)
	defer cancel()
	report := h.app.Lifecycle.Sweep(ctx)
	httputil.WriteJSON(w, http.StatusOK, report)
}

func (h *handler) broadcast(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Title     string `json:"title"`
		Body      string `json:"body"`
		TargetURL string `json:"target_url"`
	}
	if err := httputil.DecodeJSON(r, &payload, false); err != nil {
		httputil.WriteError(w, err)
		return
	}
	res, err := h.app.Notifications.Broadcast(r.Context(), payload.Title, payload.Body, payload.TargetURL)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (h *handler) limits(t tier.Tier) map[tier.Feature]tier.Budget {
	plan, ok := h.app.Plans.Plan(t)
	if !ok {
		return map[tier.Feature]tier.Budget{}
	}
	return plan.Budgets
}
