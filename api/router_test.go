package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-fulfillment/core"
	"github.com/goliatone/go-fulfillment/providers/stripe"
	"github.com/goliatone/go-fulfillment/security"
	"github.com/goliatone/go-fulfillment/webhooks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testWebhookSecret = "whsec_test"

type fixture struct {
	service *stubService
	issuer  *security.SignedURLIssuer
	router  http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	service := newStubService()
	issuer, err := security.NewSignedURLIssuer("https://shop.example.com/downloads", []byte("download-signing-key"))
	require.NoError(t, err)

	processor := webhooks.NewProcessor(
		stripe.ProviderID,
		webhooks.NewSignatureVerifier(testWebhookSecret, webhooks.DefaultSignatureTolerance),
		stripe.NewEventDecoder(),
		service,
	)
	router, err := NewRouter(Dependencies{
		Service:  service,
		Webhooks: processor,
		Links:    issuer,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("fulfillment_up 1\n"))
		}),
	})
	require.NoError(t, err)
	return &fixture{service: service, issuer: issuer, router: router}
}

func (f *fixture) do(t *testing.T, method string, target string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func checkoutCompletedPayload(eventID string) []byte {
	return []byte(`{"id":"` + eventID + `","type":"checkout.session.completed","created":1767225600,` +
		`"data":{"object":{"id":"cs_1","payment_intent":"pi_1","amount_total":4900,"currency":"usd",` +
		`"metadata":{"order_id":"order-1"},"customer_details":{"email":"buyer@example.com"}}}}`)
}

func TestNewRouter_RequiresDependencies(t *testing.T) {
	_, err := NewRouter(Dependencies{})
	require.Error(t, err)
}

func TestWebhook_AcceptsSignedDelivery(t *testing.T) {
	f := newFixture(t)
	payload := checkoutCompletedPayload("evt_1")
	signature := webhooks.SignPayload(testWebhookSecret, time.Now(), payload)

	rec := f.do(t, http.MethodPost, "/webhooks/payments", payload, map[string]string{"Stripe-Signature": signature})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"received":true}`, rec.Body.String())
	require.Len(t, f.service.events, 1)
	event := f.service.events[0]
	assert.Equal(t, "evt_1", event.ExternalID)
	assert.Equal(t, core.EventKindCheckoutCompleted, event.Kind)
	assert.Equal(t, "order-1", event.OrderRef.OrderID)
	assert.Equal(t, stripe.ProviderID, event.Provider)
}

func TestWebhook_RejectsBadSignatureWithoutHandling(t *testing.T) {
	f := newFixture(t)
	payload := checkoutCompletedPayload("evt_1")
	signature := webhooks.SignPayload("wrong-secret", time.Now(), payload)

	rec := f.do(t, http.MethodPost, "/webhooks/payments", payload, map[string]string{"Stripe-Signature": signature})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var body errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.Success)
	assert.Equal(t, core.FulfillmentErrorInvalidSignature, body.Error.Code)
	assert.Empty(t, f.service.events)
}

func TestWebhook_TransientFailureAnswers500(t *testing.T) {
	f := newFixture(t)
	f.service.eventErr = context.DeadlineExceeded
	payload := checkoutCompletedPayload("evt_2")
	signature := webhooks.SignPayload(testWebhookSecret, time.Now(), payload)

	rec := f.do(t, http.MethodPost, "/webhooks/payments", payload, map[string]string{"Stripe-Signature": signature})

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	var body errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, core.FulfillmentErrorTransient, body.Error.Code)
	assert.Equal(t, http.StatusText(http.StatusInternalServerError), body.Error.Message)
}

func TestCheckout_CreatesSessionFromItems(t *testing.T) {
	f := newFixture(t)
	body := []byte(`{"items":[{"productId":"prod_ebook","quantity":2}],"customerEmail":"buyer@example.com",` +
		`"successUrl":"https://shop.example.com/success","cancelUrl":"https://shop.example.com/cart"}`)

	rec := f.do(t, http.MethodPost, "/checkout/sessions", body, map[string]string{"Content-Type": "application/json"})

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var envelope struct {
		Success bool                    `json:"success"`
		Data    checkoutSessionResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.True(t, envelope.Success)
	assert.Equal(t, "cs_1", envelope.Data.SessionID)
	assert.Equal(t, "order-1", envelope.Data.OrderID)

	require.Len(t, f.service.checkouts, 1)
	req := f.service.checkouts[0]
	assert.Equal(t, []core.CheckoutLine{{ProductID: "prod_ebook", Quantity: 2}}, req.Lines)
	assert.Equal(t, "buyer@example.com", req.CustomerEmail)
}

func TestCheckout_UsesCartCookieAndClearsIt(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodPost, "/checkout/sessions", bytes.NewReader([]byte(`{}`)))
	req.AddCookie(&http.Cookie{Name: CartCookieName, Value: "cart_42"})
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Len(t, f.service.checkouts, 1)
	assert.Equal(t, "cart_42", f.service.checkouts[0].CartID)

	cleared := false
	for _, cookie := range rec.Result().Cookies() {
		if cookie.Name == CartCookieName && cookie.MaxAge < 0 {
			cleared = true
		}
	}
	assert.True(t, cleared, "expected cart cookie to be cleared")
}

func TestCheckout_RejectsEmptyRequest(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/checkout/sessions", []byte(`{}`), nil)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, f.service.checkouts)
}

func TestCheckout_RejectsUnknownFields(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/checkout/sessions", []byte(`{"items":[],"total":100}`), nil)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetOrder_ReturnsDetails(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/orders/order-1", nil, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var envelope struct {
		Data orderDetailsResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, "ORD-366400-AB12", envelope.Data.Order.OrderNumber)
	assert.Equal(t, string(core.OrderStatusPaid), envelope.Data.Order.Status)
	require.NotNil(t, envelope.Data.Invoice)
	assert.Equal(t, "INV-366400-AB12", envelope.Data.Invoice.InvoiceNumber)
	require.Len(t, envelope.Data.Deliverables, 1)
}

func TestGetOrder_NotFound(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/orders/missing", nil, nil)

	require.Equal(t, http.StatusNotFound, rec.Code)
	var body errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, core.FulfillmentErrorNotFound, body.Error.Code)
}

func TestAdvanceOrderStatus(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/orders/order-1/status", []byte(`{"status":"processing"}`),
		map[string]string{"Idempotency-Key": "op-1"})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, f.service.orderAdvances, 1)
	assert.Equal(t, core.AdvanceOrderStatusRequest{
		OrderID:   "order-1",
		Status:    core.OrderStatusProcessing,
		RequestID: "op-1",
	}, f.service.orderAdvances[0])
}

func TestAdvanceOrderStatus_InvalidTransitionIsConflict(t *testing.T) {
	f := newFixture(t)
	f.service.advanceErr = core.ErrInvalidOrderStatusTransition

	rec := f.do(t, http.MethodPost, "/orders/order-1/status", []byte(`{"status":"SHIPPED"}`), nil)

	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestAdvanceOrderStatus_UnknownStatusIsBadRequest(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/orders/order-1/status", []byte(`{"status":"TELEPORTED"}`), nil)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, f.service.orderAdvances)
}

func TestAdvanceServiceStatus(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/orders/order-1/service-status", []byte(`{"status":"BRIEF_SUBMITTED"}`), nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, f.service.serviceAdvances, 1)
	assert.Equal(t, core.ServiceStatusBriefSubmitted, f.service.serviceAdvances[0].Status)
}

func TestDownload_VerifiesSignedLink(t *testing.T) {
	f := newFixture(t)
	link, err := f.issuer.Issue(context.Background(), core.DeliverableGrant{
		DeliverableID: "dlv_1",
		OrderID:       "order-1",
		ExpiresAt:     time.Now().Add(time.Hour),
	})
	require.NoError(t, err)
	parsed, err := url.Parse(link)
	require.NoError(t, err)

	rec := f.do(t, http.MethodGet, parsed.RequestURI(), nil, nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []string{"dlv_1"}, f.service.downloads)
}

func TestDownload_RejectsForgedLink(t *testing.T) {
	f := newFixture(t)
	query := url.Values{}
	query.Set(security.QueryExpires, strconv.FormatInt(time.Now().Add(time.Hour).Unix(), 10))
	query.Set(security.QuerySignature, "deadbeef")

	rec := f.do(t, http.MethodGet, "/downloads/dlv_1?"+query.Encode(), nil, nil)

	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, f.service.downloads)
}

func TestDownload_RevokedDeliverableIsForbidden(t *testing.T) {
	f := newFixture(t)
	f.service.downloadErr = core.ErrDeliverableRevoked
	link, err := f.issuer.Issue(context.Background(), core.DeliverableGrant{
		DeliverableID: "dlv_1",
		ExpiresAt:     time.Now().Add(time.Hour),
	})
	require.NoError(t, err)
	parsed, err := url.Parse(link)
	require.NoError(t, err)

	rec := f.do(t, http.MethodGet, parsed.RequestURI(), nil, nil)

	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "fulfillment_up 1")
}

type stubService struct {
	mu              sync.Mutex
	events          []core.PaymentEvent
	checkouts       []core.CheckoutRequest
	orderAdvances   []core.AdvanceOrderStatusRequest
	serviceAdvances []core.AdvanceServiceStatusRequest
	downloads       []string

	eventErr    error
	advanceErr  error
	downloadErr error
}

func newStubService() *stubService {
	return &stubService{}
}

func (s *stubService) HandlePaymentEvent(_ context.Context, event core.PaymentEvent) (core.EventResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.eventErr != nil {
		return core.EventResult{}, s.eventErr
	}
	s.events = append(s.events, event)
	return core.EventResult{
		EventID: event.ExternalID,
		Kind:    event.Kind,
		Outcome: core.EventOutcomeApplied,
		OrderID: event.OrderRef.OrderID,
	}, nil
}

func (s *stubService) CreateCheckoutSession(_ context.Context, req core.CheckoutRequest) (core.CheckoutResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkouts = append(s.checkouts, req)
	return core.CheckoutResult{
		OrderID:     "order-1",
		OrderNumber: "ORD-366400-AB12",
		SessionID:   "cs_1",
		URL:         "https://checkout.example.com/cs_1",
		AmountCents: 4900,
		Currency:    "usd",
	}, nil
}

func (s *stubService) GetOrder(_ context.Context, orderID string) (core.OrderDetails, error) {
	if orderID != "order-1" {
		return core.OrderDetails{}, core.ErrOrderNotFound
	}
	invoice := core.Invoice{ID: "inv_1", OrderID: orderID, InvoiceNumber: "INV-366400-AB12", Status: core.InvoiceStatusPaid}
	return core.OrderDetails{
		Order: core.Order{
			ID:          orderID,
			OrderNumber: "ORD-366400-AB12",
			Status:      core.OrderStatusPaid,
			AmountCents: 4900,
			Currency:    "usd",
			Items: []core.OrderItem{{
				ID:              "item_1",
				ProductID:       "prod_ebook",
				ProductType:     core.ProductTypeDigital,
				UnitPriceCents:  4900,
				Quantity:        1,
				TotalPriceCents: 4900,
			}},
		},
		Invoice:      &invoice,
		Deliverables: []core.Deliverable{{ID: "dlv_1", OrderID: orderID, ProductID: "prod_ebook"}},
	}, nil
}

func (s *stubService) AdvanceOrderStatus(_ context.Context, req core.AdvanceOrderStatusRequest) (core.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.advanceErr != nil {
		return core.Order{}, s.advanceErr
	}
	s.orderAdvances = append(s.orderAdvances, req)
	return core.Order{ID: req.OrderID, Status: req.Status}, nil
}

func (s *stubService) AdvanceServiceStatus(_ context.Context, req core.AdvanceServiceStatusRequest) (core.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.serviceAdvances = append(s.serviceAdvances, req)
	return core.Order{ID: req.OrderID, Status: core.OrderStatusPaid, ServiceStatus: req.Status}, nil
}

func (s *stubService) RecordDeliverableDownload(_ context.Context, deliverableID string) (core.Deliverable, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.downloadErr != nil {
		return core.Deliverable{}, s.downloadErr
	}
	s.downloads = append(s.downloads, deliverableID)
	return core.Deliverable{ID: deliverableID, DownloadCount: len(s.downloads)}, nil
}

var _ core.FulfillmentService = (*stubService)(nil)
