package stripe

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"

	"github.com/goliatone/go-fulfillment/core"
	"github.com/goliatone/go-fulfillment/transport"
	goerrors "github.com/goliatone/go-errors"
)

type recordingAdapter struct {
	requests []transport.Request
	response transport.Response
	err      error
}

func (a *recordingAdapter) Kind() string { return transport.KindREST }

func (a *recordingAdapter) Do(_ context.Context, req transport.Request) (transport.Response, error) {
	a.requests = append(a.requests, req)
	return a.response, a.err
}

func sampleSessionRequest() core.CheckoutSessionRequest {
	return core.CheckoutSessionRequest{
		OrderID:       "order-1",
		OrderNumber:   "ORD-366400-AB12",
		Currency:      "USD",
		CustomerEmail: "buyer@example.com",
		SuccessURL:    "https://shop.example.com/thanks",
		CancelURL:     "https://shop.example.com/cart",
		Lines: []core.CheckoutSessionLine{
			{ProductID: "ebook", Title: "Go Patterns", UnitPriceCents: 2900, Quantity: 1},
			{ProductID: "poster", Title: "Gopher Poster", UnitPriceCents: 1000, Quantity: 2},
		},
		Metadata: map[string]string{"campaign": "spring"},
	}
}

func TestCheckoutClient_CreatesSession(t *testing.T) {
	adapter := &recordingAdapter{response: transport.Response{
		StatusCode: http.StatusOK,
		Body:       []byte(`{"id":"cs_test_1","url":"https://checkout.stripe.com/c/pay/cs_test_1","expires_at":1772452800}`),
	}}
	client, err := NewCheckoutClient(adapter, CheckoutConfig{SecretKey: "sk_test_123", APIBaseURL: "https://stripe.test/"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	session, err := client.CreateSession(context.Background(), sampleSessionRequest())
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if session.ID != "cs_test_1" || session.URL == "" || session.ExpiresAt == nil {
		t.Fatalf("unexpected session %+v", session)
	}

	if len(adapter.requests) != 1 {
		t.Fatalf("expected one request, got %d", len(adapter.requests))
	}
	req := adapter.requests[0]
	if req.Method != http.MethodPost || req.URL != "https://stripe.test/v1/checkout/sessions" {
		t.Fatalf("unexpected request %s %s", req.Method, req.URL)
	}
	if req.Headers["Authorization"] != "Bearer sk_test_123" || req.Headers["Stripe-Version"] != DefaultAPIVersion {
		t.Fatalf("unexpected headers %#v", req.Headers)
	}
	if req.Idempotency != "checkout-order-1" {
		t.Fatalf("unexpected idempotency key %q", req.Idempotency)
	}

	form, err := url.ParseQuery(string(req.Body))
	if err != nil {
		t.Fatalf("parse form: %v", err)
	}
	checks := map[string]string{
		"mode":                                          "payment",
		"client_reference_id":                           "order-1",
		"customer_email":                                "buyer@example.com",
		"line_items[0][price_data][currency]":           "usd",
		"line_items[0][price_data][unit_amount]":        "2900",
		"line_items[1][quantity]":                       "2",
		"line_items[1][price_data][product_data][name]": "Gopher Poster",
		"metadata[order_id]":                            "order-1",
		"metadata[order_number]":                        "ORD-366400-AB12",
		"metadata[campaign]":                            "spring",
		"success_url":                                   "https://shop.example.com/thanks?session_id={CHECKOUT_SESSION_ID}&order_id=order-1",
	}
	for key, want := range checks {
		if got := form.Get(key); got != want {
			t.Fatalf("form[%s] = %q, want %q", key, got, want)
		}
	}
}

func TestCheckoutClient_MapsAPIErrors(t *testing.T) {
	adapter := &recordingAdapter{response: transport.Response{
		StatusCode: http.StatusBadRequest,
		Body:       []byte(`{"error":{"type":"invalid_request_error","code":"parameter_missing","message":"Missing required param: line_items."}}`),
	}}
	client, err := NewCheckoutClient(adapter, CheckoutConfig{SecretKey: "sk_test_123"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	_, err = client.CreateSession(context.Background(), sampleSessionRequest())
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %v", err)
	}
	if rich.TextCode != core.FulfillmentErrorProviderFailed || rich.Code != http.StatusBadGateway {
		t.Fatalf("unexpected envelope text_code=%s code=%d", rich.TextCode, rich.Code)
	}
	if rich.Metadata["error_code"] != "parameter_missing" {
		t.Fatalf("expected provider error code in metadata, got %#v", rich.Metadata)
	}
}

func TestCheckoutClient_PropagatesTransportErrors(t *testing.T) {
	transportErr := errors.New("dial tcp: connection refused")
	client, err := NewCheckoutClient(&recordingAdapter{err: transportErr}, CheckoutConfig{SecretKey: "sk_test_123"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := client.CreateSession(context.Background(), sampleSessionRequest()); !errors.Is(err, transportErr) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestCheckoutClient_ValidatesInput(t *testing.T) {
	if _, err := NewCheckoutClient(nil, CheckoutConfig{}); err == nil {
		t.Fatalf("expected missing secret key to fail")
	}
	client, err := NewCheckoutClient(&recordingAdapter{}, CheckoutConfig{SecretKey: "sk_test_123"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	req := sampleSessionRequest()
	req.Lines = nil
	if _, err := client.CreateSession(context.Background(), req); err == nil {
		t.Fatalf("expected empty lines to fail")
	}
}
