package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type CheckoutRequest struct {
	Lines         []CheckoutLine
	CartID        string
	CustomerEmail string
	CustomerName  string
	CustomerPhone string
	Currency      string
	SuccessURL    string
	CancelURL     string
	Metadata      map[string]string
}

type CheckoutResult struct {
	OrderID     string
	OrderNumber string
	SessionID   string
	URL         string
	AmountCents int64
	Currency    string
}

// CreateCheckoutSession snapshots catalog prices into a PENDING_PAYMENT order,
// reserves stock, then opens the provider session and stores its reference
// on the order for webhook correlation.
func (s *Service) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (result CheckoutResult, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"provider_id": s.config.ProviderID, "cart_id": req.CartID}
	defer func() {
		if result.OrderID != "" {
			fields["order_id"] = result.OrderID
			fields["amount_cents"] = result.AmountCents
		}
		s.observeOperation(ctx, startedAt, "create_checkout_session", err, fields)
	}()

	if s.catalog == nil {
		return CheckoutResult{}, fmt.Errorf("core: catalog reader is not configured")
	}
	if s.checkoutProvider == nil {
		return CheckoutResult{}, fmt.Errorf("core: checkout provider is not configured")
	}

	lines, email, err := s.resolveCheckoutLines(ctx, req)
	if err != nil {
		return CheckoutResult{}, err
	}
	order, err := s.buildPendingOrder(ctx, req, lines, email)
	if err != nil {
		return CheckoutResult{}, err
	}

	err = s.uow.Do(ctx, func(ctx context.Context, tx TxStores) error {
		created, createErr := tx.Orders().Create(ctx, order)
		if createErr != nil {
			return createErr
		}
		for _, item := range created.Items {
			if reserveErr := tx.Stock().Reserve(ctx, item.ProductID, item.Quantity); reserveErr != nil {
				return reserveErr
			}
		}
		order = created
		return nil
	})
	if err != nil {
		return CheckoutResult{}, err
	}

	session, providerErr := s.checkoutProvider.CreateSession(ctx, s.sessionRequest(order, req))
	if providerErr != nil {
		if abortErr := s.abortCheckout(ctx, order.ID); abortErr != nil {
			logWithLevel(ctx, s.logger, "error", "checkout abort failed", map[string]any{
				"order_id": order.ID,
				"error":    abortErr.Error(),
			})
		}
		return CheckoutResult{}, fmt.Errorf("%w: %v", ErrCheckoutProviderUnavailable, providerErr)
	}

	err = s.uow.Do(ctx, func(ctx context.Context, tx TxStores) error {
		locked, lockErr := tx.Orders().LockByID(ctx, order.ID)
		if lockErr != nil {
			return lockErr
		}
		locked.PaymentSessionID = strings.TrimSpace(session.ID)
		locked.UpdatedAt = s.now()
		return tx.Orders().Update(ctx, locked)
	})
	if err != nil {
		return CheckoutResult{}, err
	}

	if cartID := strings.TrimSpace(req.CartID); cartID != "" && s.carts != nil {
		if clearErr := s.carts.ClearCart(ctx, cartID); clearErr != nil {
			logWithLevel(ctx, s.logger, "warn", "cart clear failed after checkout", map[string]any{
				"cart_id":  cartID,
				"order_id": order.ID,
				"error":    clearErr.Error(),
			})
		}
	}

	return CheckoutResult{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		SessionID:   session.ID,
		URL:         session.URL,
		AmountCents: order.AmountCents,
		Currency:    order.Currency,
	}, nil
}

func (s *Service) resolveCheckoutLines(ctx context.Context, req CheckoutRequest) ([]CheckoutLine, string, error) {
	email := strings.TrimSpace(req.CustomerEmail)
	lines := append([]CheckoutLine(nil), req.Lines...)
	if len(lines) == 0 {
		cartID := strings.TrimSpace(req.CartID)
		if cartID == "" {
			return nil, "", ErrEmptyCheckout
		}
		if s.carts == nil {
			return nil, "", fmt.Errorf("core: cart reader is not configured")
		}
		cart, err := s.carts.GetCart(ctx, cartID)
		if err != nil {
			return nil, "", err
		}
		lines = append(lines, cart.Lines...)
		if email == "" {
			email = strings.TrimSpace(cart.CustomerEmail)
		}
	}
	if len(lines) == 0 {
		return nil, "", ErrEmptyCheckout
	}
	maxQuantity := s.config.Checkout.MaxQuantity
	if maxQuantity <= 0 || maxQuantity > MaxLineQuantity {
		maxQuantity = MaxLineQuantity
	}
	for _, line := range lines {
		if strings.TrimSpace(line.ProductID) == "" {
			return nil, "", s.badInput("core: checkout line product id is required")
		}
		if line.Quantity <= 0 || line.Quantity > maxQuantity {
			return nil, "", s.badInput(fmt.Sprintf("core: checkout line quantity for %s is invalid", line.ProductID))
		}
	}
	return lines, email, nil
}

func (s *Service) buildPendingOrder(ctx context.Context, req CheckoutRequest, lines []CheckoutLine, email string) (Order, error) {
	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	now := s.now()
	order := Order{
		ID:            uuid.NewString(),
		OrderNumber:   s.orderNumbers(now),
		Status:        OrderStatusPendingPayment,
		CustomerEmail: email,
		CustomerName:  strings.TrimSpace(req.CustomerName),
		CustomerPhone: strings.TrimSpace(req.CustomerPhone),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	for _, line := range lines {
		productID := strings.TrimSpace(line.ProductID)
		product, err := s.catalog.GetProduct(ctx, productID)
		if err != nil {
			if errors.Is(err, ErrProductNotFound) {
				return Order{}, fmt.Errorf("%w: %s", ErrProductUnavailable, productID)
			}
			return Order{}, err
		}
		if !product.Published {
			return Order{}, fmt.Errorf("%w: %s", ErrProductUnavailable, productID)
		}
		productCurrency := strings.ToLower(strings.TrimSpace(product.Currency))
		if productCurrency == "" {
			productCurrency = strings.ToLower(s.config.Checkout.DefaultCurrency)
		}
		if currency == "" {
			currency = productCurrency
		}
		if productCurrency != currency {
			return Order{}, fmt.Errorf("%w: %s is priced in %s, order is %s", ErrCurrencyMismatch, productID, productCurrency, currency)
		}
		total, err := LineTotal(product.UnitPriceCents, line.Quantity)
		if err != nil {
			return Order{}, s.badInput(fmt.Sprintf("core: checkout line total for %s: %v", productID, err))
		}
		amount, err := AddCents(order.AmountCents, total)
		if err != nil {
			return Order{}, s.badInput(fmt.Sprintf("core: checkout amount: %v", err))
		}
		order.Items = append(order.Items, OrderItem{
			ID:              uuid.NewString(),
			OrderID:         order.ID,
			ProductID:       product.ID,
			ProductType:     product.Type,
			Title:           product.Title,
			UnitPriceCents:  product.UnitPriceCents,
			Quantity:        line.Quantity,
			TotalPriceCents: total,
			CreatedAt:       now,
		})
		order.AmountCents = amount
	}
	order.Currency = currency
	return order, nil
}

func (s *Service) sessionRequest(order Order, req CheckoutRequest) CheckoutSessionRequest {
	successURL := strings.TrimSpace(req.SuccessURL)
	if successURL == "" {
		successURL = s.config.Checkout.SuccessURL
	}
	cancelURL := strings.TrimSpace(req.CancelURL)
	if cancelURL == "" {
		cancelURL = s.config.Checkout.CancelURL
	}
	metadata := make(map[string]string, len(req.Metadata)+2)
	for key, value := range req.Metadata {
		metadata[key] = value
	}
	metadata["order_id"] = order.ID
	metadata["order_number"] = order.OrderNumber

	lines := make([]CheckoutSessionLine, 0, len(order.Items))
	for _, item := range order.Items {
		lines = append(lines, CheckoutSessionLine{
			ProductID:      item.ProductID,
			Title:          item.Title,
			UnitPriceCents: item.UnitPriceCents,
			Quantity:       item.Quantity,
		})
	}
	return CheckoutSessionRequest{
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		Currency:      order.Currency,
		CustomerEmail: order.CustomerEmail,
		Lines:         lines,
		SuccessURL:    successURL,
		CancelURL:     cancelURL,
		Metadata:      metadata,
	}
}

// abortCheckout fails the order and returns its stock when the provider
// session could not be opened.
func (s *Service) abortCheckout(ctx context.Context, orderID string) error {
	return s.uow.Do(ctx, func(ctx context.Context, tx TxStores) error {
		order, err := tx.Orders().LockByID(ctx, orderID)
		if err != nil {
			return err
		}
		decision := s.machine.Decide(order, EventKindCheckoutExpired)
		decision.Notify = ""
		return s.dispatcher.Apply(ctx, tx, &order, decision, PaymentEvent{ExternalID: "checkout-abort:" + orderID})
	})
}
