// Package core holds the payment fulfillment domain: orders and their items,
// invoices, deliverables, the event ledger contract, the order state machine
// and the dispatcher that applies its decisions inside one unit of work.
// Storage, transport and provider adapters depend on this package; core does
// not depend on any of them.
package core
