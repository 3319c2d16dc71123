// Package transport executes outbound provider API calls.
package transport
