package stripe

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-fulfillment/core"
)

const ProviderID = "stripe"

const (
	EventCheckoutSessionCompleted = "checkout.session.completed"
	EventCheckoutSessionExpired   = "checkout.session.expired"
	EventChargeRefunded           = "charge.refunded"
	EventPaymentIntentSucceeded   = "payment_intent.succeeded"
)

var ErrMalformedEvent = errors.New("providers/stripe: malformed event")

var eventKinds = map[string]core.EventKind{
	EventCheckoutSessionCompleted: core.EventKindCheckoutCompleted,
	EventCheckoutSessionExpired:   core.EventKindCheckoutExpired,
	EventChargeRefunded:           core.EventKindChargeRefunded,
	EventPaymentIntentSucceeded:   core.EventKindPaymentSucceeded,
}

// KindForType maps a Stripe event type; unmapped types are EventKindUnknown.
func KindForType(eventType string) core.EventKind {
	if kind, ok := eventKinds[strings.TrimSpace(eventType)]; ok {
		return kind
	}
	return core.EventKindUnknown
}

type envelope struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type eventObject struct {
	ID              string            `json:"id"`
	Object          string            `json:"object"`
	PaymentIntent   json.RawMessage   `json:"payment_intent"`
	ClientReference string            `json:"client_reference_id"`
	Metadata        map[string]string `json:"metadata"`
	Currency        string            `json:"currency"`
	AmountTotal     *int64            `json:"amount_total"`
	AmountReceived  *int64            `json:"amount_received"`
	CustomerEmail   string            `json:"customer_email"`
	CustomerDetails *struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	} `json:"customer_details"`
}

// EventDecoder parses the raw webhook body. It must only run after the
// signature has been verified.
type EventDecoder struct {
	ProviderID string
}

func NewEventDecoder() EventDecoder {
	return EventDecoder{ProviderID: ProviderID}
}

func (d EventDecoder) Decode(rawBody []byte) (core.PaymentEvent, error) {
	var env envelope
	if err := json.Unmarshal(rawBody, &env); err != nil {
		return core.PaymentEvent{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	env.ID = strings.TrimSpace(env.ID)
	env.Type = strings.TrimSpace(env.Type)
	if env.ID == "" || env.Type == "" {
		return core.PaymentEvent{}, fmt.Errorf("%w: id and type are required", ErrMalformedEvent)
	}

	providerID := strings.TrimSpace(d.ProviderID)
	if providerID == "" {
		providerID = ProviderID
	}
	event := core.PaymentEvent{
		Provider:   providerID,
		ExternalID: env.ID,
		Type:       env.Type,
		Kind:       KindForType(env.Type),
		Payload:    append([]byte(nil), rawBody...),
	}
	if env.Created > 0 {
		event.CreatedAt = time.Unix(env.Created, 0).UTC()
	}
	if len(env.Data.Object) == 0 || string(env.Data.Object) == "null" {
		if event.Kind == core.EventKindUnknown {
			return event, nil
		}
		return core.PaymentEvent{}, fmt.Errorf("%w: data.object is required", ErrMalformedEvent)
	}

	var object eventObject
	if err := json.Unmarshal(env.Data.Object, &object); err != nil {
		if event.Kind == core.EventKindUnknown {
			return event, nil
		}
		return core.PaymentEvent{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	paymentIntent, err := expandableID(object.PaymentIntent)
	if err != nil {
		return core.PaymentEvent{}, err
	}

	event.Currency = strings.ToLower(strings.TrimSpace(object.Currency))
	event.OrderRef.OrderID = metadataOrderID(object.Metadata)
	switch event.Kind {
	case core.EventKindCheckoutCompleted, core.EventKindCheckoutExpired:
		event.OrderRef.SessionID = strings.TrimSpace(object.ID)
		event.OrderRef.PaymentIntentID = paymentIntent
		if event.OrderRef.OrderID == "" {
			event.OrderRef.OrderID = strings.TrimSpace(object.ClientReference)
		}
		event.AmountCents = object.AmountTotal
		event.CustomerEmail = strings.TrimSpace(object.CustomerEmail)
		if object.CustomerDetails != nil {
			if event.CustomerEmail == "" {
				event.CustomerEmail = strings.TrimSpace(object.CustomerDetails.Email)
			}
			event.CustomerName = strings.TrimSpace(object.CustomerDetails.Name)
		}
	case core.EventKindChargeRefunded:
		event.OrderRef.PaymentIntentID = paymentIntent
	case core.EventKindPaymentSucceeded:
		event.OrderRef.PaymentIntentID = strings.TrimSpace(object.ID)
		event.AmountCents = object.AmountReceived
	}
	return event, nil
}

// expandableID reads a field Stripe sends either as an id string or as the
// expanded object.
func expandableID(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return strings.TrimSpace(id), nil
	}
	var expanded struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &expanded); err != nil {
		return "", fmt.Errorf("%w: payment_intent: %v", ErrMalformedEvent, err)
	}
	return strings.TrimSpace(expanded.ID), nil
}

func metadataOrderID(metadata map[string]string) string {
	for _, key := range []string{"order_id", "orderId"} {
		if value := strings.TrimSpace(metadata[key]); value != "" {
			return value
		}
	}
	return ""
}
