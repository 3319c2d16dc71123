package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	fulfillment "github.com/goliatone/go-fulfillment"
	"github.com/goliatone/go-fulfillment/core"
	"github.com/goliatone/go-fulfillment/webhooks"
	glog "github.com/goliatone/go-logger/glog"
)

const (
	DefaultMaxBodyBytes   int64 = 1 << 20
	DefaultRequestTimeout       = 15 * time.Second
	CartCookieName              = "cart_id"
)

type WebhookProcessor interface {
	Process(ctx context.Context, delivery webhooks.Delivery) (webhooks.Result, error)
}

type LinkVerifier interface {
	Verify(deliverableID string, query url.Values) error
}

type Dependencies struct {
	Service  core.FulfillmentService
	Webhooks WebhookProcessor
	Links    LinkVerifier
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
	// Health is probed by /healthz; nil reports healthy.
	Health         func(ctx context.Context) error
	Logger         core.Logger
	MaxBodyBytes   int64
	RequestTimeout time.Duration
}

type handler struct {
	commands     fulfillment.Commands
	queries      fulfillment.Queries
	webhooks     WebhookProcessor
	links        LinkVerifier
	health       func(ctx context.Context) error
	logger       core.Logger
	maxBodyBytes int64
}

func NewRouter(deps Dependencies) (http.Handler, error) {
	if deps.Service == nil {
		return nil, fmt.Errorf("api: fulfillment service is required")
	}
	if deps.Webhooks == nil {
		return nil, fmt.Errorf("api: webhook processor is required")
	}
	if deps.Links == nil {
		return nil, fmt.Errorf("api: download link verifier is required")
	}
	facade, err := fulfillment.NewFacade(deps.Service)
	if err != nil {
		return nil, err
	}
	h := &handler{
		commands:     facade.Commands(),
		queries:      facade.Queries(),
		webhooks:     deps.Webhooks,
		links:        deps.Links,
		health:       deps.Health,
		logger:       deps.Logger,
		maxBodyBytes: deps.MaxBodyBytes,
	}
	if h.logger == nil {
		h.logger = glog.Nop()
	}
	if h.maxBodyBytes <= 0 {
		h.maxBodyBytes = DefaultMaxBodyBytes
	}
	timeout := deps.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.healthz)
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(timeout))

		r.Post("/webhooks/payments", h.receiveWebhook)
		r.Post("/checkout/sessions", h.createCheckoutSession)
		r.Route("/orders/{orderID}", func(r chi.Router) {
			r.Get("/", h.getOrder)
			r.Post("/status", h.advanceOrderStatus)
			r.Post("/service-status", h.advanceServiceStatus)
		})
		r.Get("/downloads/{deliverableID}", h.download)
	})
	return r, nil
}
