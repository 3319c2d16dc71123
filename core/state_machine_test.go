package core

import (
	"errors"
	"testing"
)

func TestStateMachineDecide(t *testing.T) {
	machine := NewStateMachine(nil)
	cases := []struct {
		name    string
		status  OrderStatus
		kind    EventKind
		applies bool
		to      OrderStatus
		reason  string
	}{
		{name: "completed pays pending", status: OrderStatusPendingPayment, kind: EventKindCheckoutCompleted, applies: true, to: OrderStatusPaid},
		{name: "expired fails pending", status: OrderStatusPendingPayment, kind: EventKindCheckoutExpired, applies: true, to: OrderStatusFailed},
		{name: "refund from paid", status: OrderStatusPaid, kind: EventKindChargeRefunded, applies: true, to: OrderStatusRefunded},
		{name: "refund from processing", status: OrderStatusProcessing, kind: EventKindChargeRefunded, applies: true, to: OrderStatusRefunded},
		{name: "refund from completed", status: OrderStatusCompleted, kind: EventKindChargeRefunded, applies: true, to: OrderStatusRefunded},
		{name: "completed on paid is stale", status: OrderStatusPaid, kind: EventKindCheckoutCompleted, reason: DecisionReasonStale},
		{name: "expired on paid is stale", status: OrderStatusPaid, kind: EventKindCheckoutExpired, reason: DecisionReasonStale},
		{name: "refund on pending is stale", status: OrderStatusPendingPayment, kind: EventKindChargeRefunded, reason: DecisionReasonStale},
		{name: "refund on shipped is stale", status: OrderStatusShipped, kind: EventKindChargeRefunded, reason: DecisionReasonStale},
		{name: "completed on refunded is terminal", status: OrderStatusRefunded, kind: EventKindCheckoutCompleted, reason: DecisionReasonTerminal},
		{name: "refund on refunded is terminal", status: OrderStatusRefunded, kind: EventKindChargeRefunded, reason: DecisionReasonTerminal},
		{name: "payment succeeded is informational", status: OrderStatusPendingPayment, kind: EventKindPaymentSucceeded, reason: DecisionReasonInformational},
		{name: "unknown kind", status: OrderStatusPendingPayment, kind: EventKindUnknown, reason: DecisionReasonUnknownKind},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			decision := machine.Decide(Order{Status: tc.status}, tc.kind)
			if decision.Applies != tc.applies {
				t.Fatalf("expected applies=%v, got %+v", tc.applies, decision)
			}
			if tc.applies && decision.To != tc.to {
				t.Fatalf("expected %s, got %s", tc.to, decision.To)
			}
			if !tc.applies {
				if decision.Reason != tc.reason {
					t.Fatalf("expected reason %q, got %q", tc.reason, decision.Reason)
				}
				if decision.To != tc.status || len(decision.Effects) != 0 || decision.Notify != "" {
					t.Fatalf("no-op decision carries side effects: %+v", decision)
				}
			}
		})
	}
}

func TestStateMachineCompletedEffects(t *testing.T) {
	decision := NewStateMachine(nil).Decide(Order{Status: OrderStatusPendingPayment}, EventKindCheckoutCompleted)
	for _, effect := range []Effect{EffectRecordPayment, EffectIssueInvoice, EffectMintDeliverables, EffectStartServiceWorkflow} {
		if !decision.Has(effect) {
			t.Fatalf("expected effect %s", effect)
		}
	}
	if decision.Notify != NotificationOrderPaid {
		t.Fatalf("expected order.paid notification, got %s", decision.Notify)
	}
}

func TestStateMachineCustomRules(t *testing.T) {
	machine := NewStateMachine(map[EventKind]TransitionRule{
		EventKindCheckoutCompleted: {
			From: []OrderStatus{OrderStatusPendingPayment},
			To:   OrderStatusPaid,
		},
	})
	if decision := machine.Decide(Order{Status: OrderStatusPaid}, EventKindChargeRefunded); decision.Applies {
		t.Fatalf("rules outside the custom table must not apply")
	}
	decision := machine.Decide(Order{Status: OrderStatusPendingPayment}, EventKindCheckoutCompleted)
	if !decision.Applies || len(decision.Effects) != 0 {
		t.Fatalf("unexpected decision: %+v", decision)
	}
}

func TestStateMachineRejectsRulesOutsideGraph(t *testing.T) {
	machine := NewStateMachine(map[EventKind]TransitionRule{
		EventKindCheckoutExpired: {
			From: []OrderStatus{OrderStatusRefunded},
			To:   OrderStatusPaid,
		},
	})
	decision := machine.Decide(Order{Status: OrderStatusRefunded}, EventKindCheckoutExpired)
	if decision.Applies || decision.Reason != DecisionReasonStale {
		t.Fatalf("expected graph to veto the rule, got %+v", decision)
	}
}

func TestStateMachineDecideAdvance(t *testing.T) {
	machine := NewStateMachine(nil)

	decision, err := machine.DecideAdvance(Order{Status: OrderStatusPaid}, OrderStatusProcessing)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if decision.Notify != NotificationOrderStatusChanged || len(decision.Effects) != 0 {
		t.Fatalf("unexpected decision: %+v", decision)
	}

	cancel, err := machine.DecideAdvance(Order{Status: OrderStatusPendingPayment}, OrderStatusCancelled)
	if err != nil {
		t.Fatalf("cancel pending: %v", err)
	}
	if !cancel.Has(EffectReleaseStock) || !cancel.Has(EffectRevokeDeliverables) {
		t.Fatalf("pending cancel should release stock and revoke: %+v", cancel.Effects)
	}
	cancelPaid, err := machine.DecideAdvance(Order{Status: OrderStatusPaid}, OrderStatusCancelled)
	if err != nil {
		t.Fatalf("cancel paid: %v", err)
	}
	if cancelPaid.Has(EffectReleaseStock) {
		t.Fatalf("paid cancel should not release stock twice")
	}

	for _, target := range []OrderStatus{OrderStatusPaid, OrderStatusRefunded, OrderStatusFailed, OrderStatusPendingPayment} {
		if _, err := machine.DecideAdvance(Order{Status: OrderStatusPendingPayment}, target); !errors.Is(err, ErrInvalidOrderStatusTransition) {
			t.Fatalf("expected %s to be reserved, got %v", target, err)
		}
	}
	if _, err := machine.DecideAdvance(Order{Status: OrderStatusShipped}, OrderStatusProcessing); !errors.Is(err, ErrInvalidOrderStatusTransition) {
		t.Fatalf("expected backwards move to fail, got %v", err)
	}
	if _, err := machine.DecideAdvance(Order{Status: OrderStatusCancelled}, OrderStatusCompleted); !errors.Is(err, ErrInvalidOrderStatusTransition) {
		t.Fatalf("expected terminal order to reject advance, got %v", err)
	}
}
