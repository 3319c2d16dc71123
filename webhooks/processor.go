package webhooks

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/goliatone/go-fulfillment/core"
	goerrors "github.com/goliatone/go-errors"
)

const DefaultSignatureHeader = "Stripe-Signature"

// Delivery is one raw inbound webhook request. Body must be the exact bytes
// received on the wire.
type Delivery struct {
	Headers map[string]string
	Body    []byte
}

type Result struct {
	Accepted   bool
	StatusCode int
	Event      core.EventResult
	Metadata   map[string]any
}

type Verifier interface {
	Verify(rawBody []byte, header string) error
}

// EventDecoder parses a verified provider envelope into a PaymentEvent.
type EventDecoder interface {
	Decode(rawBody []byte) (core.PaymentEvent, error)
}

type EventDecoderFunc func(rawBody []byte) (core.PaymentEvent, error)

func (f EventDecoderFunc) Decode(rawBody []byte) (core.PaymentEvent, error) {
	return f(rawBody)
}

type EventHandler interface {
	HandlePaymentEvent(ctx context.Context, event core.PaymentEvent) (core.EventResult, error)
}

type Processor struct {
	ProviderID      string
	SignatureHeader string
	Verifier        Verifier
	Decoder         EventDecoder
	Handler         EventHandler
	Burst           BurstController
	Metrics         core.MetricsRecorder
}

func NewProcessor(providerID string, verifier Verifier, decoder EventDecoder, handler EventHandler) *Processor {
	return &Processor{
		ProviderID:      strings.TrimSpace(providerID),
		SignatureHeader: DefaultSignatureHeader,
		Verifier:        verifier,
		Decoder:         decoder,
		Handler:         handler,
		Metrics:         core.NopMetricsRecorder{},
	}
}

// Process verifies the signature before anything reads the body, then hands
// the decoded event to the handler. Rejected deliveries never reach the ledger.
func (p *Processor) Process(ctx context.Context, delivery Delivery) (Result, error) {
	if p == nil || p.Verifier == nil || p.Decoder == nil || p.Handler == nil {
		return Result{StatusCode: http.StatusInternalServerError},
			fmt.Errorf("webhooks: processor requires verifier, decoder and handler")
	}
	providerID := strings.TrimSpace(p.ProviderID)

	if err := p.Verifier.Verify(delivery.Body, headerValue(delivery.Headers, p.signatureHeader())); err != nil {
		p.count(ctx, "fulfillment.webhook.rejected", map[string]string{"provider": providerID, "reason": "signature"})
		return rejected(providerID, http.StatusBadRequest), signatureError(err)
	}

	event, err := p.Decoder.Decode(delivery.Body)
	if err != nil {
		p.count(ctx, "fulfillment.webhook.rejected", map[string]string{"provider": providerID, "reason": "decode"})
		return rejected(providerID, http.StatusBadRequest), decodeError(err)
	}
	if strings.TrimSpace(event.Provider) == "" {
		event.Provider = providerID
	}

	burstKey := BurstKey(event)
	if p.Burst != nil {
		decision, err := p.Burst.Allow(ctx, burstKey)
		if err != nil {
			return Result{StatusCode: http.StatusInternalServerError}, err
		}
		if !decision.Allow {
			return p.coalesced(ctx, event, decision), nil
		}
	}

	outcome, err := p.Handler.HandlePaymentEvent(ctx, event)
	if err != nil {
		mapped := core.MapError(err)
		status := http.StatusInternalServerError
		if mapped != nil && mapped.Code > 0 {
			status = mapped.Code
		}
		p.count(ctx, "fulfillment.webhook.failed", map[string]string{"provider": event.Provider, "kind": string(event.Kind)})
		result := rejected(event.Provider, status)
		result.Event = outcome
		return result, err
	}

	if p.Burst != nil {
		p.Burst.Settle(ctx, burstKey, outcome)
	}
	p.count(ctx, "fulfillment.webhook.accepted", map[string]string{
		"provider": event.Provider,
		"kind":     string(event.Kind),
		"outcome":  string(outcome.Outcome),
	})
	return Result{
		Accepted:   true,
		StatusCode: http.StatusOK,
		Event:      outcome,
		Metadata: map[string]any{
			"provider_id": event.Provider,
			"event_id":    outcome.EventID,
			"outcome":     string(outcome.Outcome),
			"deduped":     outcome.Outcome == core.EventOutcomeDuplicate,
		},
	}, nil
}

// coalesced answers a redelivery of a settled event without touching the
// ledger. It reports the same shape a ledger duplicate would.
func (p *Processor) coalesced(ctx context.Context, event core.PaymentEvent, decision BurstDecision) Result {
	outcome := decision.Result
	outcome.EventID = event.ExternalID
	outcome.Outcome = core.EventOutcomeDuplicate
	p.count(ctx, "fulfillment.webhook.coalesced", map[string]string{
		"provider": event.Provider,
		"kind":     string(event.Kind),
	})
	metadata := map[string]any{
		"provider_id": event.Provider,
		"event_id":    outcome.EventID,
		"outcome":     string(outcome.Outcome),
		"deduped":     true,
	}
	for key, value := range decision.Metadata {
		metadata[key] = value
	}
	return Result{
		Accepted:   true,
		StatusCode: http.StatusOK,
		Event:      outcome,
		Metadata:   metadata,
	}
}

func (p *Processor) signatureHeader() string {
	if p != nil && strings.TrimSpace(p.SignatureHeader) != "" {
		return p.SignatureHeader
	}
	return DefaultSignatureHeader
}

func (p *Processor) count(ctx context.Context, name string, tags map[string]string) {
	if p == nil || p.Metrics == nil {
		return
	}
	p.Metrics.IncCounter(ctx, name, 1, tags)
}

func rejected(providerID string, status int) Result {
	return Result{
		Accepted:   false,
		StatusCode: status,
		Metadata: map[string]any{
			"provider_id": providerID,
			"rejected":    true,
		},
	}
}

func signatureError(err error) error {
	if !errors.Is(err, ErrInvalidSignature) {
		err = fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return goerrors.Wrap(err, goerrors.CategoryAuth, "webhooks: signature verification failed").
		WithCode(http.StatusBadRequest).
		WithTextCode(core.FulfillmentErrorInvalidSignature)
}

func decodeError(err error) error {
	return goerrors.Wrap(err, goerrors.CategoryBadInput, "webhooks: malformed event payload").
		WithCode(http.StatusBadRequest).
		WithTextCode(core.FulfillmentErrorBadInput)
}

// HeadersFromHTTP flattens request headers, keeping the first value of each.
func HeadersFromHTTP(header http.Header) map[string]string {
	out := make(map[string]string, len(header))
	for key, values := range header {
		if len(values) == 0 {
			continue
		}
		out[key] = values[0]
	}
	return out
}

func headerValue(headers map[string]string, key string) string {
	if len(headers) == 0 {
		return ""
	}
	for existing, value := range headers {
		if strings.EqualFold(strings.TrimSpace(existing), strings.TrimSpace(key)) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
