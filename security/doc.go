// Package security signs and verifies expiring deliverable download links and
// opens config secrets sealed under the application key.
package security
