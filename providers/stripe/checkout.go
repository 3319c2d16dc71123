package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-fulfillment/core"
	"github.com/goliatone/go-fulfillment/transport"
	goerrors "github.com/goliatone/go-errors"
)

const (
	DefaultAPIBaseURL = "https://api.stripe.com"
	DefaultAPIVersion = "2023-10-16"
)

type CheckoutConfig struct {
	SecretKey  string
	APIBaseURL string
	APIVersion string
	Timeout    time.Duration
}

// CheckoutClient opens hosted checkout sessions through the Stripe REST API.
type CheckoutClient struct {
	adapter transport.Adapter
	config  CheckoutConfig
}

func NewCheckoutClient(adapter transport.Adapter, cfg CheckoutConfig) (*CheckoutClient, error) {
	if adapter == nil {
		adapter = transport.NewRESTAdapter(nil)
	}
	cfg.SecretKey = strings.TrimSpace(cfg.SecretKey)
	if cfg.SecretKey == "" {
		return nil, fmt.Errorf("providers/stripe: secret key is required")
	}
	if strings.TrimSpace(cfg.APIBaseURL) == "" {
		cfg.APIBaseURL = DefaultAPIBaseURL
	}
	cfg.APIBaseURL = strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/")
	if strings.TrimSpace(cfg.APIVersion) == "" {
		cfg.APIVersion = DefaultAPIVersion
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &CheckoutClient{adapter: adapter, config: cfg}, nil
}

type sessionResponse struct {
	ID        string `json:"id"`
	URL       string `json:"url"`
	ExpiresAt int64  `json:"expires_at"`
}

type apiErrorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *CheckoutClient) CreateSession(ctx context.Context, req core.CheckoutSessionRequest) (core.CheckoutSession, error) {
	if c == nil || c.adapter == nil {
		return core.CheckoutSession{}, fmt.Errorf("providers/stripe: checkout client is not configured")
	}
	form, err := sessionForm(req)
	if err != nil {
		return core.CheckoutSession{}, err
	}

	res, err := c.adapter.Do(ctx, transport.Request{
		Method: http.MethodPost,
		URL:    c.config.APIBaseURL + "/v1/checkout/sessions",
		Headers: map[string]string{
			"Authorization":  "Bearer " + c.config.SecretKey,
			"Content-Type":   "application/x-www-form-urlencoded",
			"Stripe-Version": c.config.APIVersion,
		},
		Body:        []byte(form.Encode()),
		Timeout:     c.config.Timeout,
		Idempotency: "checkout-" + strings.TrimSpace(req.OrderID),
	})
	if err != nil {
		return core.CheckoutSession{}, err
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return core.CheckoutSession{}, apiError(res)
	}

	var session sessionResponse
	if err := json.Unmarshal(res.Body, &session); err != nil {
		return core.CheckoutSession{}, fmt.Errorf("providers/stripe: decode checkout session: %w", err)
	}
	if strings.TrimSpace(session.ID) == "" {
		return core.CheckoutSession{}, fmt.Errorf("providers/stripe: checkout session id missing from response")
	}
	out := core.CheckoutSession{ID: strings.TrimSpace(session.ID), URL: strings.TrimSpace(session.URL)}
	if session.ExpiresAt > 0 {
		expiresAt := time.Unix(session.ExpiresAt, 0).UTC()
		out.ExpiresAt = &expiresAt
	}
	return out, nil
}

func sessionForm(req core.CheckoutSessionRequest) (url.Values, error) {
	orderID := strings.TrimSpace(req.OrderID)
	if orderID == "" {
		return nil, fmt.Errorf("providers/stripe: order id is required")
	}
	if len(req.Lines) == 0 {
		return nil, fmt.Errorf("providers/stripe: at least one line is required")
	}
	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	if currency == "" {
		return nil, fmt.Errorf("providers/stripe: currency is required")
	}

	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("payment_method_types[0]", "card")
	form.Set("client_reference_id", orderID)
	if successURL := strings.TrimSpace(req.SuccessURL); successURL != "" {
		form.Set("success_url", successRedirect(successURL, orderID))
	}
	if cancelURL := strings.TrimSpace(req.CancelURL); cancelURL != "" {
		form.Set("cancel_url", cancelURL)
	}
	if email := strings.TrimSpace(req.CustomerEmail); email != "" {
		form.Set("customer_email", email)
	}
	for i, line := range req.Lines {
		prefix := "line_items[" + strconv.Itoa(i) + "]"
		form.Set(prefix+"[quantity]", strconv.Itoa(line.Quantity))
		form.Set(prefix+"[price_data][currency]", currency)
		form.Set(prefix+"[price_data][unit_amount]", strconv.FormatInt(line.UnitPriceCents, 10))
		form.Set(prefix+"[price_data][product_data][name]", line.Title)
		form.Set(prefix+"[price_data][product_data][metadata][product_id]", line.ProductID)
	}

	keys := make([]string, 0, len(req.Metadata))
	for key := range req.Metadata {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if strings.TrimSpace(key) == "" {
			continue
		}
		form.Set("metadata["+strings.TrimSpace(key)+"]", req.Metadata[key])
	}
	form.Set("metadata[order_id]", orderID)
	if number := strings.TrimSpace(req.OrderNumber); number != "" {
		form.Set("metadata[order_number]", number)
	}
	return form, nil
}

// successRedirect appends the session placeholder Stripe substitutes on
// redirect.
func successRedirect(base string, orderID string) string {
	separator := "?"
	if strings.Contains(base, "?") {
		separator = "&"
	}
	return base + separator + "session_id={CHECKOUT_SESSION_ID}&order_id=" + url.QueryEscape(orderID)
}

func apiError(res transport.Response) error {
	var payload apiErrorResponse
	message := fmt.Sprintf("providers/stripe: checkout session request failed with status %d", res.StatusCode)
	if err := json.Unmarshal(res.Body, &payload); err == nil && strings.TrimSpace(payload.Error.Message) != "" {
		message = "providers/stripe: " + strings.TrimSpace(payload.Error.Message)
	}
	category := goerrors.CategoryExternal
	switch {
	case res.StatusCode == http.StatusTooManyRequests:
		category = goerrors.CategoryRateLimit
	case res.StatusCode == http.StatusUnauthorized:
		category = goerrors.CategoryAuth
	case res.StatusCode >= 400 && res.StatusCode < 500:
		category = goerrors.CategoryBadInput
	}
	err := goerrors.New(message, category).
		WithCode(http.StatusBadGateway).
		WithTextCode(core.FulfillmentErrorProviderFailed)
	err.WithMetadata(map[string]any{
		"provider":    ProviderID,
		"status_code": res.StatusCode,
		"error_type":  payload.Error.Type,
		"error_code":  payload.Error.Code,
	})
	return err
}

var _ core.CheckoutProvider = (*CheckoutClient)(nil)
