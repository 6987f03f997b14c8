// Package model defines the data structures used throughout the application.
package model

import "strings"

// Principal is the authenticated caller of a request.
//
// ID is assigned by the external identity provider and is stable for the
// lifetime of the account. Email is nil when the provider did not disclose
// one. Principals are resolved per request and never stored by this service.
type Principal struct {
	ID    string  `json:"id"`
	Email *string `json:"email,omitempty"`
}

// NormalizeEmail trims and lower-cases an address. It returns nil for nil or
// blank input so "no email" has exactly one representation.
func NormalizeEmail(email *string) *string {
	if email == nil {
		return nil
	}
	normalized := strings.ToLower(strings.TrimSpace(*email))
	if normalized == "" {
		return nil
	}
	return &normalized
}

// NewPrincipal builds a Principal with a normalized email. An empty email
// string means "absent".
func NewPrincipal(id, email string) Principal {
	return Principal{ID: id, Email: NormalizeEmail(&email)}
}
