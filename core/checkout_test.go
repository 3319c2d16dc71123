package core

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"
)

type stubCatalog struct {
	products map[string]Product
}

func (c stubCatalog) GetProduct(_ context.Context, productID string) (Product, error) {
	product, ok := c.products[productID]
	if !ok {
		return Product{}, ErrProductNotFound
	}
	return product, nil
}

type stubCarts struct {
	mu      sync.Mutex
	carts   map[string]Cart
	cleared []string
}

func (c *stubCarts) GetCart(_ context.Context, cartID string) (Cart, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cart, ok := c.carts[cartID]
	if !ok {
		return Cart{}, ErrEmptyCheckout
	}
	return cart, nil
}

func (c *stubCarts) ClearCart(_ context.Context, cartID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleared = append(c.cleared, cartID)
	delete(c.carts, cartID)
	return nil
}

type stubCheckoutProvider struct {
	requests []CheckoutSessionRequest
	err      error
}

func (p *stubCheckoutProvider) CreateSession(_ context.Context, req CheckoutSessionRequest) (CheckoutSession, error) {
	p.requests = append(p.requests, req)
	if p.err != nil {
		return CheckoutSession{}, p.err
	}
	return CheckoutSession{ID: "cs_test_" + req.OrderNumber, URL: "https://checkout.example.test/pay/" + req.OrderID}, nil
}

func testCatalog() stubCatalog {
	stock := 2
	return stubCatalog{products: map[string]Product{
		"ebook":  {ID: "ebook", Type: ProductTypeDigital, Title: "Field Guide", UnitPriceCents: 4900, Currency: "usd", Published: true},
		"poster": {ID: "poster", Type: ProductTypePhysical, Title: "Poster", UnitPriceCents: 1500, Currency: "usd", Stock: &stock, Published: true},
		"draft":  {ID: "draft", Type: ProductTypeDigital, Title: "Draft", UnitPriceCents: 100, Currency: "usd"},
		"euro":   {ID: "euro", Type: ProductTypeDigital, Title: "Euro Edition", UnitPriceCents: 3900, Currency: "eur", Published: true},
		"estate": {ID: "estate", Type: ProductTypeService, Title: "Estate", UnitPriceCents: math.MaxInt64 / 4, Currency: "usd", Published: true},
	}}
}

func fixedOrderNumber(time.Time) string {
	return "ORD-100200-ABCD"
}

func newCheckoutFixture(t *testing.T, provider *stubCheckoutProvider, carts *stubCarts) *serviceFixture {
	t.Helper()
	opts := []Option{
		WithCatalogReader(testCatalog()),
		WithCheckoutProvider(provider),
		WithOrderNumberGenerator(fixedOrderNumber),
	}
	if carts != nil {
		opts = append(opts, WithCartReader(carts))
	}
	fx := newServiceFixture(t, opts...)
	fx.uow.seedStock("poster", 2)
	return fx
}

func TestCreateCheckoutSessionSnapshotsPrices(t *testing.T) {
	provider := &stubCheckoutProvider{}
	fx := newCheckoutFixture(t, provider, nil)

	result, err := fx.service.CreateCheckoutSession(context.Background(), CheckoutRequest{
		Lines: []CheckoutLine{
			{ProductID: "ebook", Quantity: 1},
			{ProductID: "poster", Quantity: 2},
		},
		CustomerEmail: "buyer@example.com",
	})
	if err != nil {
		t.Fatalf("create checkout: %v", err)
	}
	if result.AmountCents != 7900 || result.Currency != "usd" || result.OrderNumber != "ORD-100200-ABCD" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.SessionID != "cs_test_ORD-100200-ABCD" || result.URL == "" {
		t.Fatalf("unexpected session: %+v", result)
	}

	state := fx.uow.snapshot()
	order := state.orders[result.OrderID]
	if order.Status != OrderStatusPendingPayment || order.PaymentSessionID != result.SessionID {
		t.Fatalf("unexpected stored order: %+v", order)
	}
	if total, _ := order.ItemsTotal(); len(order.Items) != 2 || total != order.AmountCents {
		t.Fatalf("item snapshot does not add up: %+v", order.Items)
	}
	if state.stock["poster"] != 0 {
		t.Fatalf("expected poster stock reserved, got %d", state.stock["poster"])
	}
	if len(provider.requests) != 1 || provider.requests[0].Metadata["order_id"] != result.OrderID {
		t.Fatalf("expected provider metadata to carry order id, got %+v", provider.requests)
	}
}

func TestCreateCheckoutSessionThenPaymentFulfills(t *testing.T) {
	fx := newCheckoutFixture(t, &stubCheckoutProvider{}, nil)
	ctx := context.Background()

	checkout, err := fx.service.CreateCheckoutSession(ctx, CheckoutRequest{Lines: []CheckoutLine{{ProductID: "ebook", Quantity: 1}}})
	if err != nil {
		t.Fatalf("create checkout: %v", err)
	}

	event := paymentEvent("evt_1", EventKindCheckoutCompleted, "", checkout.AmountCents)
	event.OrderRef = OrderRef{SessionID: checkout.SessionID}
	result, err := fx.service.HandlePaymentEvent(ctx, event)
	if err != nil {
		t.Fatalf("handle event: %v", err)
	}
	if result.OrderID != checkout.OrderID || result.To != OrderStatusPaid {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestCreateCheckoutSessionProviderFailureReleasesStock(t *testing.T) {
	provider := &stubCheckoutProvider{err: errors.New("provider timeout")}
	fx := newCheckoutFixture(t, provider, nil)

	_, err := fx.service.CreateCheckoutSession(context.Background(), CheckoutRequest{
		Lines: []CheckoutLine{{ProductID: "poster", Quantity: 2}},
	})
	if !errors.Is(err, ErrCheckoutProviderUnavailable) {
		t.Fatalf("expected provider unavailable, got %v", err)
	}

	state := fx.uow.snapshot()
	if state.stock["poster"] != 2 {
		t.Fatalf("expected stock restored, got %d", state.stock["poster"])
	}
	if len(state.orders) != 1 {
		t.Fatalf("expected one order, got %d", len(state.orders))
	}
	for _, order := range state.orders {
		if order.Status != OrderStatusFailed {
			t.Fatalf("expected failed order, got %s", order.Status)
		}
	}
	if len(state.notifications) != 0 {
		t.Fatalf("aborted checkout should not notify, got %d", len(state.notifications))
	}
}

func TestCreateCheckoutSessionRejectsInvalidRequests(t *testing.T) {
	cases := []struct {
		name  string
		lines []CheckoutLine
		want  error
	}{
		{name: "empty", want: ErrEmptyCheckout},
		{name: "unpublished", lines: []CheckoutLine{{ProductID: "draft", Quantity: 1}}, want: ErrProductUnavailable},
		{name: "unknown", lines: []CheckoutLine{{ProductID: "nope", Quantity: 1}}, want: ErrProductUnavailable},
		{name: "currency", lines: []CheckoutLine{{ProductID: "ebook", Quantity: 1}, {ProductID: "euro", Quantity: 1}}, want: ErrCurrencyMismatch},
		{name: "stock", lines: []CheckoutLine{{ProductID: "poster", Quantity: 3}}, want: ErrInsufficientStock},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			provider := &stubCheckoutProvider{}
			fx := newCheckoutFixture(t, provider, nil)
			_, err := fx.service.CreateCheckoutSession(context.Background(), CheckoutRequest{Lines: tc.lines})
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if len(provider.requests) != 0 {
				t.Fatalf("provider should not be called")
			}
			if got := len(fx.uow.snapshot().orders); got != 0 {
				t.Fatalf("expected no stored orders, got %d", got)
			}
		})
	}
}

func TestCreateCheckoutSessionRejectsBadQuantity(t *testing.T) {
	fx := newCheckoutFixture(t, &stubCheckoutProvider{}, nil)
	_, err := fx.service.CreateCheckoutSession(context.Background(), CheckoutRequest{
		Lines: []CheckoutLine{{ProductID: "ebook", Quantity: 0}},
	})
	if mapped := MapError(err); mapped == nil || mapped.TextCode != FulfillmentErrorBadInput {
		t.Fatalf("expected bad input, got %v", err)
	}
}

func TestCreateCheckoutSessionCapsQuantityWithoutConfig(t *testing.T) {
	provider := &stubCheckoutProvider{}
	fx := newCheckoutFixture(t, provider, nil)
	fx.service.config.Checkout.MaxQuantity = 0

	_, err := fx.service.CreateCheckoutSession(context.Background(), CheckoutRequest{
		Lines: []CheckoutLine{{ProductID: "ebook", Quantity: MaxLineQuantity + 1}},
	})
	if mapped := MapError(err); mapped == nil || mapped.TextCode != FulfillmentErrorBadInput {
		t.Fatalf("expected bad input above the hard cap, got %v", err)
	}
	if len(provider.requests) != 0 {
		t.Fatalf("provider should not be called")
	}
}

func TestCreateCheckoutSessionRejectsAmountOverflow(t *testing.T) {
	provider := &stubCheckoutProvider{}
	fx := newCheckoutFixture(t, provider, nil)

	cases := map[string][]CheckoutLine{
		"line":  {{ProductID: "estate", Quantity: 5}},
		"order": {{ProductID: "estate", Quantity: 3}, {ProductID: "estate", Quantity: 3}},
	}
	for name, lines := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := fx.service.CreateCheckoutSession(context.Background(), CheckoutRequest{Lines: lines})
			if mapped := MapError(err); mapped == nil || mapped.TextCode != FulfillmentErrorBadInput {
				t.Fatalf("expected bad input for overflowing amount, got %v", err)
			}
		})
	}
	if len(provider.requests) != 0 {
		t.Fatalf("provider should not be called")
	}
	if got := len(fx.uow.snapshot().orders); got != 0 {
		t.Fatalf("expected no stored orders, got %d", got)
	}
}

func TestCreateCheckoutSessionFromCart(t *testing.T) {
	carts := &stubCarts{carts: map[string]Cart{
		"cart-1": {ID: "cart-1", CustomerEmail: "cart@example.com", Lines: []CheckoutLine{{ProductID: "ebook", Quantity: 1}}},
	}}
	fx := newCheckoutFixture(t, &stubCheckoutProvider{}, carts)

	result, err := fx.service.CreateCheckoutSession(context.Background(), CheckoutRequest{CartID: "cart-1"})
	if err != nil {
		t.Fatalf("create checkout: %v", err)
	}
	if got := fx.uow.snapshot().orders[result.OrderID].CustomerEmail; got != "cart@example.com" {
		t.Fatalf("expected email from cart, got %q", got)
	}
	if len(carts.cleared) != 1 || carts.cleared[0] != "cart-1" {
		t.Fatalf("expected cart cleared, got %v", carts.cleared)
	}
}
