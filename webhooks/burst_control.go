package webhooks

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-fulfillment/core"
)

type BurstMode string

const (
	BurstModeNone     BurstMode = "none"
	BurstModeCoalesce BurstMode = "coalesce"
)

type BurstDecision struct {
	Allow    bool
	Result   core.EventResult
	Metadata map[string]any
}

// BurstController short-circuits redeliveries of an event the service has
// already settled. Only settled events are remembered; a delivery that is
// still in flight or failed is never coalesced.
type BurstController interface {
	Allow(ctx context.Context, key string) (BurstDecision, error)
	Settle(ctx context.Context, key string, result core.EventResult)
}

type BurstOptions struct {
	Mode       BurstMode
	Window     time.Duration
	MaxEntries int
	Now        func() time.Time
}

type burstEntry struct {
	settledAt time.Time
	result    core.EventResult
}

type DefaultBurstController struct {
	mode       BurstMode
	window     time.Duration
	maxEntries int
	now        func() time.Time

	mu      sync.Mutex
	entries map[string]burstEntry
}

func NewBurstController(opts BurstOptions) *DefaultBurstController {
	window := opts.Window
	if window <= 0 {
		window = 2 * time.Second
	}
	maxEntries := opts.MaxEntries
	if maxEntries <= 0 {
		maxEntries = 4096
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &DefaultBurstController{
		mode:       normalizeBurstMode(opts.Mode),
		window:     window,
		maxEntries: maxEntries,
		now:        now,
		entries:    map[string]burstEntry{},
	}
}

func (c *DefaultBurstController) Allow(_ context.Context, key string) (BurstDecision, error) {
	key = strings.TrimSpace(key)
	if c == nil || c.mode == BurstModeNone || key == "" {
		return BurstDecision{Allow: true}, nil
	}

	now := c.now().UTC()
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.entries[key]
	if !exists || now.Sub(entry.settledAt) >= c.window {
		return BurstDecision{Allow: true}, nil
	}
	return BurstDecision{
		Allow:  false,
		Result: entry.result,
		Metadata: map[string]any{
			"burst_mode":      string(c.mode),
			"burst_key":       key,
			"burst_window_ms": c.window.Milliseconds(),
			"coalesced":       true,
		},
	}, nil
}

func (c *DefaultBurstController) Settle(_ context.Context, key string, result core.EventResult) {
	key = strings.TrimSpace(key)
	if c == nil || c.mode == BurstModeNone || key == "" {
		return
	}
	now := c.now().UTC()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = burstEntry{settledAt: now, result: result}
	c.cleanup(now)
}

func (c *DefaultBurstController) cleanup(now time.Time) {
	for key, entry := range c.entries {
		if now.Sub(entry.settledAt) >= c.window {
			delete(c.entries, key)
		}
	}
	if len(c.entries) <= c.maxEntries {
		return
	}
	// Still over capacity inside the window: drop the oldest.
	for len(c.entries) > c.maxEntries {
		var (
			oldestKey string
			oldestAt  time.Time
		)
		for key, entry := range c.entries {
			if oldestKey == "" || entry.settledAt.Before(oldestAt) {
				oldestKey, oldestAt = key, entry.settledAt
			}
		}
		delete(c.entries, oldestKey)
	}
}

// BurstKey identifies a provider event across redeliveries.
func BurstKey(event core.PaymentEvent) string {
	provider := strings.ToLower(strings.TrimSpace(event.Provider))
	externalID := strings.TrimSpace(event.ExternalID)
	if provider == "" || externalID == "" {
		return ""
	}
	return provider + ":" + externalID
}

func normalizeBurstMode(mode BurstMode) BurstMode {
	if strings.EqualFold(strings.TrimSpace(string(mode)), string(BurstModeCoalesce)) {
		return BurstModeCoalesce
	}
	return BurstModeNone
}

var _ BurstController = (*DefaultBurstController)(nil)
