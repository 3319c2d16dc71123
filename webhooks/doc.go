// Package webhooks verifies inbound payment provider deliveries and hands
// them to the fulfillment service.
//
// A delivery is rejected with 400 before its body is parsed when the
// signature does not match. Accepted deliveries are deduplicated by the
// event ledger inside the service, so redeliveries answer 200.
package webhooks
