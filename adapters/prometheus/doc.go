// Package prometheus exposes fulfillment metrics through client_golang.
package prometheus
