package core

import "fmt"

type Effect string

const (
	EffectRecordPayment        Effect = "record_payment"
	EffectIssueInvoice         Effect = "issue_invoice"
	EffectMintDeliverables     Effect = "mint_deliverables"
	EffectStartServiceWorkflow Effect = "start_service_workflow"
	EffectReleaseStock         Effect = "release_stock"
	EffectRefundInvoice        Effect = "refund_invoice"
	EffectRevokeDeliverables   Effect = "revoke_deliverables"
)

const (
	DecisionReasonUnknownKind   = "unknown_event_kind"
	DecisionReasonInformational = "informational_event"
	DecisionReasonStale         = "precondition_failed"
	DecisionReasonTerminal      = "terminal_order"
	DecisionReasonOrderNotFound = "order_not_found"
)

// TransitionRule is one row of the event dispatch table. An empty To marks
// an event that is recorded but never moves the order.
type TransitionRule struct {
	From    []OrderStatus
	To      OrderStatus
	Effects []Effect
	Notify  NotificationKind
}

func (r TransitionRule) accepts(status OrderStatus) bool {
	for _, from := range r.From {
		if from == status {
			return true
		}
	}
	return false
}

type Decision struct {
	Kind    EventKind
	Applies bool
	From    OrderStatus
	To      OrderStatus
	Effects []Effect
	Notify  NotificationKind
	Reason  string
}

func (d Decision) Has(effect Effect) bool {
	for _, candidate := range d.Effects {
		if candidate == effect {
			return true
		}
	}
	return false
}

func DefaultTransitionRules() map[EventKind]TransitionRule {
	return map[EventKind]TransitionRule{
		EventKindCheckoutCompleted: {
			From: []OrderStatus{OrderStatusPendingPayment},
			To:   OrderStatusPaid,
			Effects: []Effect{
				EffectRecordPayment,
				EffectIssueInvoice,
				EffectMintDeliverables,
				EffectStartServiceWorkflow,
			},
			Notify: NotificationOrderPaid,
		},
		EventKindCheckoutExpired: {
			From:    []OrderStatus{OrderStatusPendingPayment},
			To:      OrderStatusFailed,
			Effects: []Effect{EffectReleaseStock},
			Notify:  NotificationOrderExpired,
		},
		EventKindChargeRefunded: {
			From:    []OrderStatus{OrderStatusPaid, OrderStatusProcessing, OrderStatusCompleted},
			To:      OrderStatusRefunded,
			Effects: []Effect{EffectRefundInvoice, EffectRevokeDeliverables},
			Notify:  NotificationOrderRefunded,
		},
		EventKindPaymentSucceeded: {},
	}
}

// StateMachine is pure: decisions depend only on the order status and the
// event kind.
type StateMachine struct {
	rules map[EventKind]TransitionRule
}

func NewStateMachine(rules map[EventKind]TransitionRule) *StateMachine {
	if len(rules) == 0 {
		rules = DefaultTransitionRules()
	}
	copied := make(map[EventKind]TransitionRule, len(rules))
	for kind, rule := range rules {
		copied[kind] = rule
	}
	return &StateMachine{rules: copied}
}

func (m *StateMachine) Decide(order Order, kind EventKind) Decision {
	decision := Decision{Kind: kind, From: order.Status, To: order.Status}
	rule, ok := m.rules[kind]
	if !ok {
		decision.Reason = DecisionReasonUnknownKind
		return decision
	}
	if rule.To == "" {
		decision.Reason = DecisionReasonInformational
		return decision
	}
	if !rule.accepts(order.Status) {
		decision.Reason = DecisionReasonStale
		if order.Status.IsTerminal() {
			decision.Reason = DecisionReasonTerminal
		}
		return decision
	}
	if !orderTransitionAllowed(order.Status, rule.To) {
		decision.Reason = DecisionReasonStale
		return decision
	}
	decision.Applies = true
	decision.To = rule.To
	decision.Effects = append([]Effect(nil), rule.Effects...)
	decision.Notify = rule.Notify
	return decision
}

// DecideAdvance validates an operator driven move along the fulfillment
// track. Payment driven targets are reserved for provider events.
func (m *StateMachine) DecideAdvance(order Order, target OrderStatus) (Decision, error) {
	switch target {
	case OrderStatusPaid, OrderStatusRefunded, OrderStatusFailed, OrderStatusPendingPayment:
		return Decision{}, fmt.Errorf("%w: %s is reserved for payment events", ErrInvalidOrderStatusTransition, target)
	}
	if !orderTransitionAllowed(order.Status, target) {
		return Decision{}, fmt.Errorf("%w: %s -> %s", ErrInvalidOrderStatusTransition, order.Status, target)
	}
	decision := Decision{
		Applies: true,
		From:    order.Status,
		To:      target,
		Notify:  NotificationOrderStatusChanged,
	}
	if target == OrderStatusCancelled {
		decision.Effects = []Effect{EffectReleaseStock, EffectRevokeDeliverables}
		if order.Status != OrderStatusPendingPayment {
			decision.Effects = []Effect{EffectRevokeDeliverables}
		}
	}
	return decision, nil
}
