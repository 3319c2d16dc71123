// Package stripe adapts Stripe checkout sessions and webhook events to the
// provider-neutral fulfillment contracts.
package stripe
