package fulfillment

import (
	"context"
	"testing"

	fulfillmentcommand "github.com/goliatone/go-fulfillment/command"
	"github.com/goliatone/go-fulfillment/core"
	fulfillmentquery "github.com/goliatone/go-fulfillment/query"
)

func TestNewFacade_WiresCommandsAndQueries(t *testing.T) {
	facade, err := NewFacade(&stubFacadeService{}, WithNotificationDrainer(&stubFacadeDrainer{}))
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}

	commands := facade.Commands()
	if commands.ProcessPaymentEvent == nil || commands.CreateCheckoutSession == nil ||
		commands.AdvanceOrderStatus == nil || commands.AdvanceServiceStatus == nil ||
		commands.RecordDownload == nil || commands.DispatchNotifications == nil {
		t.Fatalf("expected command handlers to be wired: %#v", commands)
	}
	if facade.Queries().GetOrder == nil {
		t.Fatalf("expected order query to be wired")
	}
	if facade.Service() == nil {
		t.Fatalf("expected service accessor")
	}
}

func TestNewFacade_DispatchRequiresDrainer(t *testing.T) {
	facade, err := NewFacade(&stubFacadeService{})
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}
	if facade.Commands().DispatchNotifications != nil {
		t.Fatalf("expected dispatch command to stay nil without a drainer")
	}
}

func TestFacade_CommandAndQueryDelegation(t *testing.T) {
	svc := &stubFacadeService{}
	drainer := &stubFacadeDrainer{}
	facade, err := NewFacade(svc, WithNotificationDrainer(drainer))
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}
	ctx := context.Background()

	if err := facade.Commands().ProcessPaymentEvent.Execute(ctx, fulfillmentcommand.ProcessPaymentEventMessage{
		Event: core.PaymentEvent{ExternalID: "evt_1", Type: "checkout.session.completed"},
	}); err != nil {
		t.Fatalf("process payment event: %v", err)
	}
	if svc.lastEventID != "evt_1" {
		t.Fatalf("unexpected payment event delegation %q", svc.lastEventID)
	}

	if err := facade.Commands().AdvanceOrderStatus.Execute(ctx, fulfillmentcommand.AdvanceOrderStatusMessage{
		Request: core.AdvanceOrderStatusRequest{OrderID: "ord_1", Status: core.OrderStatusProcessing, RequestID: "op-1"},
	}); err != nil {
		t.Fatalf("advance order status: %v", err)
	}
	if svc.lastAdvance.OrderID != "ord_1" || svc.lastAdvance.RequestID != "op-1" {
		t.Fatalf("unexpected advance delegation %#v", svc.lastAdvance)
	}

	if err := facade.Commands().RecordDownload.Execute(ctx, fulfillmentcommand.RecordDownloadMessage{DeliverableID: "dlv_1"}); err != nil {
		t.Fatalf("record download: %v", err)
	}
	if svc.lastDeliverableID != "dlv_1" {
		t.Fatalf("unexpected download delegation %q", svc.lastDeliverableID)
	}

	if err := facade.Commands().DispatchNotifications.Execute(ctx, fulfillmentcommand.DispatchNotificationsMessage{BatchSize: 7}); err != nil {
		t.Fatalf("dispatch notifications: %v", err)
	}
	if drainer.lastBatch != 7 {
		t.Fatalf("expected batch size 7, got %d", drainer.lastBatch)
	}

	details, err := facade.Queries().GetOrder.Query(ctx, fulfillmentquery.GetOrderMessage{OrderID: "ord_1"})
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if details.Order.ID != "ord_1" || details.Order.OrderNumber != "ORD-0001" {
		t.Fatalf("unexpected order query result %#v", details.Order)
	}
}

func TestNewFacade_RequiresService(t *testing.T) {
	facade, err := NewFacade(nil)
	if err == nil {
		t.Fatalf("expected nil service error")
	}
	if facade != nil {
		t.Fatalf("expected nil facade on error")
	}
}

func TestFacade_NilReceiver(t *testing.T) {
	var facade *Facade
	if facade.Commands().AdvanceOrderStatus != nil || facade.Queries().GetOrder != nil || facade.Service() != nil {
		t.Fatalf("expected zero values from nil facade")
	}
}

type stubFacadeService struct {
	lastEventID       string
	lastAdvance       core.AdvanceOrderStatusRequest
	lastDeliverableID string
}

func (s *stubFacadeService) HandlePaymentEvent(_ context.Context, event core.PaymentEvent) (core.EventResult, error) {
	s.lastEventID = event.ExternalID
	return core.EventResult{EventID: event.ExternalID}, nil
}

func (s *stubFacadeService) CreateCheckoutSession(context.Context, core.CheckoutRequest) (core.CheckoutResult, error) {
	return core.CheckoutResult{}, nil
}

func (s *stubFacadeService) GetOrder(_ context.Context, orderID string) (core.OrderDetails, error) {
	return core.OrderDetails{Order: core.Order{ID: orderID, OrderNumber: "ORD-0001"}}, nil
}

func (s *stubFacadeService) AdvanceOrderStatus(_ context.Context, req core.AdvanceOrderStatusRequest) (core.Order, error) {
	s.lastAdvance = req
	return core.Order{ID: req.OrderID, Status: req.Status}, nil
}

func (s *stubFacadeService) AdvanceServiceStatus(_ context.Context, req core.AdvanceServiceStatusRequest) (core.Order, error) {
	return core.Order{ID: req.OrderID}, nil
}

func (s *stubFacadeService) RecordDeliverableDownload(_ context.Context, deliverableID string) (core.Deliverable, error) {
	s.lastDeliverableID = deliverableID
	return core.Deliverable{ID: deliverableID, DownloadCount: 1}, nil
}

type stubFacadeDrainer struct {
	lastBatch int
}

func (d *stubFacadeDrainer) DispatchPending(_ context.Context, batchSize int) (core.DispatchStats, error) {
	d.lastBatch = batchSize
	return core.DispatchStats{}, nil
}

var _ CommandQueryService = core.FulfillmentService(nil)
