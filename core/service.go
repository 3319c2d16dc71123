package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/google/uuid"
)

type Service struct {
	config            Config
	logger            Logger
	loggerProvider    LoggerProvider
	metricsRecorder   MetricsRecorder
	errorFactory      ErrorFactory
	errorMapper       ErrorMapper
	uow               UnitOfWork
	catalog           CatalogReader
	carts             CartReader
	checkoutProvider  CheckoutProvider
	machine           *StateMachine
	dispatcher        *FulfillmentDispatcher
	notificationWaker NotificationWaker
	orderNumbers      OrderNumberGenerator
	now               func() time.Time
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	builder := defaultServiceBuilder(cfg)
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("fulfillment", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("fulfillment"); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if builder.errorFactory == nil {
		builder.errorFactory = goerrors.New
	}
	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.errorMapper == nil {
		builder.errorMapper = defaultErrorMapper
	}
	if builder.configProvider == nil {
		builder.configProvider = NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = GoOptionsResolver{}
	}
	if builder.orderNumbers == nil {
		builder.orderNumbers = NewOrderNumber
	}
	if builder.clock == nil {
		builder.clock = func() time.Time { return time.Now().UTC() }
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	if builder.unitOfWork == nil && builder.repositoryFactory != nil {
		if factory, ok := builder.repositoryFactory.(StoreFactory); ok {
			builder.unitOfWork = factory.UnitOfWork()
		}
	}
	if builder.unitOfWork == nil {
		return nil, mapBuildError(builder.errorMapper, fmt.Errorf("core: unit of work is required"))
	}

	dispatcher, err := NewFulfillmentDispatcher(builder.deliverableIssuer, finalConfig.Deliverables.TTL)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	dispatcher.now = builder.clock

	return &Service{
		config:            finalConfig,
		logger:            logger,
		loggerProvider:    provider,
		metricsRecorder:   builder.metricsRecorder,
		errorFactory:      builder.errorFactory,
		errorMapper:       builder.errorMapper,
		uow:               builder.unitOfWork,
		catalog:           builder.catalog,
		carts:             builder.carts,
		checkoutProvider:  builder.checkoutProvider,
		machine:           NewStateMachine(builder.transitionRules),
		dispatcher:        dispatcher,
		notificationWaker: builder.notificationWaker,
		orderNumbers:      builder.orderNumbers,
		now:               builder.clock,
	}, nil
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return NewService(cfg, opts...)
}

func mapBuildError(mapper ErrorMapper, err error) error {
	if err == nil {
		return nil
	}
	if mapper == nil {
		return err
	}
	mapped := mapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

func (s *Service) Logger() Logger {
	if s == nil {
		return nil
	}
	return s.logger
}

func (s *Service) MetricsRecorder() MetricsRecorder {
	if s == nil {
		return nil
	}
	return s.metricsRecorder
}

// HandlePaymentEvent records the event in the ledger and applies its
// transition in the same unit of work. Duplicates and stale transitions are
// acknowledged without side effects.
func (s *Service) HandlePaymentEvent(ctx context.Context, event PaymentEvent) (result EventResult, err error) {
	startedAt := time.Now().UTC()
	event = s.normalizeEvent(event)
	fields := map[string]any{
		"provider_id": event.Provider,
		"event_id":    event.ExternalID,
		"event_kind":  string(event.Kind),
		"event_type":  event.Type,
	}
	defer func() {
		fields["outcome"] = string(result.Outcome)
		if result.OrderID != "" {
			fields["order_id"] = result.OrderID
		}
		if result.Reason != "" {
			fields["reason"] = result.Reason
		}
		s.observeOperation(ctx, startedAt, "handle_payment_event", err, fields)
	}()

	if s == nil || s.uow == nil {
		return EventResult{}, fmt.Errorf("core: service is not configured")
	}
	if event.ExternalID == "" {
		return EventResult{}, s.badInput("core: event id is required")
	}

	var decision Decision
	err = s.uow.Do(ctx, func(ctx context.Context, tx TxStores) error {
		attempt := EventResult{EventID: event.ExternalID, Kind: event.Kind}
		isNew, recordErr := tx.Ledger().RecordIfNew(ctx, LedgerEntry{
			ID:              uuid.NewString(),
			Provider:        event.Provider,
			ExternalEventID: event.ExternalID,
			EventType:       event.Type,
			Kind:            event.Kind,
			Outcome:         EventOutcomePending,
			Payload:         append([]byte(nil), event.Payload...),
			ReceivedAt:      s.now(),
		})
		if recordErr != nil {
			return recordErr
		}
		if !isNew {
			attempt.Outcome = EventOutcomeDuplicate
			result = attempt
			return nil
		}

		orderID, findErr := tx.Orders().FindIDByRef(ctx, event.OrderRef)
		if findErr != nil {
			if !errors.Is(findErr, ErrOrderNotFound) {
				return findErr
			}
			attempt.Outcome = EventOutcomeIgnored
			attempt.Reason = DecisionReasonOrderNotFound
			result = attempt
			return tx.Ledger().MarkOutcome(ctx, event.Provider, event.ExternalID, EventOutcomeIgnored, "")
		}
		attempt.OrderID = orderID

		order, lockErr := tx.Orders().LockByID(ctx, orderID)
		if lockErr != nil {
			return lockErr
		}
		decision = s.machine.Decide(order, event.Kind)
		attempt.From = decision.From
		attempt.To = decision.To
		if !decision.Applies {
			attempt.Outcome = EventOutcomeIgnored
			attempt.Reason = decision.Reason
			result = attempt
			return tx.Ledger().MarkOutcome(ctx, event.Provider, event.ExternalID, EventOutcomeIgnored, orderID)
		}

		if applyErr := s.dispatcher.Apply(ctx, tx, &order, decision, event); applyErr != nil {
			return applyErr
		}
		attempt.Outcome = EventOutcomeApplied
		attempt.To = order.Status
		result = attempt
		return tx.Ledger().MarkOutcome(ctx, event.Provider, event.ExternalID, EventOutcomeApplied, orderID)
	})
	if err != nil {
		result = EventResult{EventID: event.ExternalID, Kind: event.Kind}
		return result, transientError(err, "core: payment event processing failed")
	}

	if result.Outcome == EventOutcomeIgnored {
		anomaly := cloneFields(fields)
		anomaly["reason"] = result.Reason
		anomaly["order_id"] = result.OrderID
		anomaly["order_status"] = string(result.From)
		s.logAnomaly(ctx, "payment event acknowledged without transition", anomaly)
	}
	if result.Outcome == EventOutcomeApplied && decision.Notify != "" {
		s.wakeNotifications()
	}
	return result, nil
}

func (s *Service) normalizeEvent(event PaymentEvent) PaymentEvent {
	event.Provider = strings.TrimSpace(event.Provider)
	if event.Provider == "" && s != nil {
		event.Provider = s.config.ProviderID
	}
	event.ExternalID = strings.TrimSpace(event.ExternalID)
	event.Type = strings.TrimSpace(event.Type)
	if event.Kind == "" {
		event.Kind = EventKindUnknown
	}
	event.OrderRef = OrderRef{
		OrderID:         strings.TrimSpace(event.OrderRef.OrderID),
		SessionID:       strings.TrimSpace(event.OrderRef.SessionID),
		PaymentIntentID: strings.TrimSpace(event.OrderRef.PaymentIntentID),
	}
	event.Currency = strings.ToLower(strings.TrimSpace(event.Currency))
	return event
}

type OrderDetails struct {
	Order        Order
	Invoice      *Invoice
	Deliverables []Deliverable
}

func (s *Service) GetOrder(ctx context.Context, orderID string) (details OrderDetails, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"order_id": orderID}
	defer func() {
		s.observeOperation(ctx, startedAt, "get_order", err, fields)
	}()

	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return OrderDetails{}, s.badInput("core: order id is required")
	}
	err = s.uow.Do(ctx, func(ctx context.Context, tx TxStores) error {
		order, getErr := tx.Orders().Get(ctx, orderID)
		if getErr != nil {
			return getErr
		}
		found := OrderDetails{Order: order}
		invoice, invoiceErr := tx.Invoices().GetByOrder(ctx, orderID)
		switch {
		case invoiceErr == nil:
			found.Invoice = &invoice
		case !isNotFound(invoiceErr, ErrInvoiceNotFound):
			return invoiceErr
		}
		deliverables, listErr := tx.Deliverables().ListByOrder(ctx, orderID)
		if listErr != nil {
			return listErr
		}
		found.Deliverables = deliverables
		details = found
		return nil
	})
	if err != nil {
		return OrderDetails{}, err
	}
	return details, nil
}

type AdvanceOrderStatusRequest struct {
	OrderID   string
	Status    OrderStatus
	RequestID string
}

// AdvanceOrderStatus moves an order along the fulfillment track on behalf of
// an operator.
func (s *Service) AdvanceOrderStatus(ctx context.Context, req AdvanceOrderStatusRequest) (order Order, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"order_id": req.OrderID, "target_status": string(req.Status)}
	defer func() {
		s.observeOperation(ctx, startedAt, "advance_order_status", err, fields)
	}()

	req.OrderID = strings.TrimSpace(req.OrderID)
	if req.OrderID == "" {
		return Order{}, s.badInput("core: order id is required")
	}
	requestID := operatorRequestID(req.RequestID, req.OrderID, "order."+string(req.Status))

	replayed := false
	err = s.uow.Do(ctx, func(ctx context.Context, tx TxStores) error {
		locked, lockErr := tx.Orders().LockByID(ctx, req.OrderID)
		if lockErr != nil {
			return lockErr
		}
		if strings.TrimSpace(req.RequestID) != "" {
			seen, seenErr := s.operatorRequestSeen(ctx, tx, requestID, "order.status.advance", locked.ID)
			if seenErr != nil {
				return seenErr
			}
			if seen {
				order, replayed = locked, true
				return nil
			}
		}
		decision, decideErr := s.machine.DecideAdvance(locked, req.Status)
		if decideErr != nil {
			return decideErr
		}
		if applyErr := s.dispatcher.Apply(ctx, tx, &locked, decision, PaymentEvent{ExternalID: requestID}); applyErr != nil {
			return applyErr
		}
		order = locked
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	if replayed {
		fields["replayed"] = true
		return order, nil
	}
	s.wakeNotifications()
	return order, nil
}

type AdvanceServiceStatusRequest struct {
	OrderID   string
	Status    ServiceStatus
	RequestID string
}

func (s *Service) AdvanceServiceStatus(ctx context.Context, req AdvanceServiceStatusRequest) (order Order, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"order_id": req.OrderID, "service_status": string(req.Status)}
	defer func() {
		s.observeOperation(ctx, startedAt, "advance_service_status", err, fields)
	}()

	req.OrderID = strings.TrimSpace(req.OrderID)
	if req.OrderID == "" {
		return Order{}, s.badInput("core: order id is required")
	}
	requestID := operatorRequestID(req.RequestID, req.OrderID, "service."+string(req.Status))

	replayed := false
	err = s.uow.Do(ctx, func(ctx context.Context, tx TxStores) error {
		locked, lockErr := tx.Orders().LockByID(ctx, req.OrderID)
		if lockErr != nil {
			return lockErr
		}
		if strings.TrimSpace(req.RequestID) != "" {
			seen, seenErr := s.operatorRequestSeen(ctx, tx, requestID, "order.service_status.advance", locked.ID)
			if seenErr != nil {
				return seenErr
			}
			if seen {
				order, replayed = locked, true
				return nil
			}
		}
		if locked.Status.IsTerminal() && locked.Status != OrderStatusCompleted {
			return fmt.Errorf("%w: order is %s", ErrInvalidServiceStatusTransition, locked.Status)
		}
		if applyErr := s.dispatcher.ApplyServiceStatus(ctx, tx, &locked, req.Status, requestID); applyErr != nil {
			return applyErr
		}
		order = locked
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	if replayed {
		fields["replayed"] = true
		return order, nil
	}
	s.wakeNotifications()
	return order, nil
}

// operatorRequestID scopes an operator request id to one order and one target,
// so a key reused elsewhere gets its own outbox row. A blank key gets a
// generated id.
func operatorRequestID(requestID, orderID, target string) string {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		requestID = "op:" + uuid.NewString()
	}
	return requestID + ":" + orderID + ":" + target
}

// operatorRequestSeen records a client-supplied request id in the event ledger
// and reports whether an earlier committed request already carried it.
func (s *Service) operatorRequestSeen(ctx context.Context, tx TxStores, requestID, eventType, orderID string) (bool, error) {
	created, err := tx.Ledger().RecordIfNew(ctx, LedgerEntry{
		ID:              uuid.NewString(),
		Provider:        OperatorLedgerProvider,
		ExternalEventID: requestID,
		EventType:       eventType,
		Kind:            EventKindOperatorRequest,
		OrderID:         orderID,
		Outcome:         EventOutcomeApplied,
		ReceivedAt:      s.now(),
	})
	if err != nil {
		return false, err
	}
	return !created, nil
}

// RecordDeliverableDownload checks that the deliverable is still accessible and
// bumps its download counter.
func (s *Service) RecordDeliverableDownload(ctx context.Context, deliverableID string) (deliverable Deliverable, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"deliverable_id": deliverableID}
	defer func() {
		s.observeOperation(ctx, startedAt, "record_deliverable_download", err, fields)
	}()

	deliverableID = strings.TrimSpace(deliverableID)
	if deliverableID == "" {
		return Deliverable{}, s.badInput("core: deliverable id is required")
	}
	err = s.uow.Do(ctx, func(ctx context.Context, tx TxStores) error {
		current, getErr := tx.Deliverables().Get(ctx, deliverableID)
		if getErr != nil {
			return getErr
		}
		now := s.now()
		if accessErr := current.Accessible(now); accessErr != nil {
			return accessErr
		}
		updated, recordErr := tx.Deliverables().RecordDownload(ctx, deliverableID, now)
		if recordErr != nil {
			return recordErr
		}
		deliverable = updated
		return nil
	})
	if err != nil {
		return Deliverable{}, err
	}
	return deliverable, nil
}

func (s *Service) wakeNotifications() {
	if s == nil || s.notificationWaker == nil {
		return
	}
	s.notificationWaker.Wake()
}

func (s *Service) badInput(message string) error {
	factory := s.errorFactory
	if factory == nil {
		factory = goerrors.New
	}
	return ensureFulfillmentErrorEnvelope(
		factory(message, goerrors.CategoryBadInput).WithTextCode(FulfillmentErrorBadInput),
	)
}
