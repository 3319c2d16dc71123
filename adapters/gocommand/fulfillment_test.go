package gocommand

import "testing"

func TestRegisterFulfillment_RequiresHandlers(t *testing.T) {
	adapter := NewRegistryAdapter(nil)
	defer adapter.Close()

	if err := RegisterFulfillment(adapter, FulfillmentHandlers{}); err == nil {
		t.Fatalf("expected missing service to fail")
	}
	if len(adapter.subscriptions) != 0 {
		t.Fatalf("expected no subscriptions after failed registration")
	}
}
