// Package auth defines the API-key identity model used by the HTTP surface.
package auth

import "context"

// Scopes understood by the API endpoints.
const (
	ScopePromotionsRead  = "promotions:read"
	ScopePromotionsWrite = "promotions:write"
	ScopeCheckout        = "checkout:apply"
)

// APIKeyInfo is a validated API key: identity plus granted scopes.
type APIKeyInfo struct {
	ID      string
	KeyHash string
	Name    string
	Scopes  []string
}

// HasScope reports whether the key grants the named scope. The wildcard
// scope "*" grants everything.
func (k *APIKeyInfo) HasScope(scope string) bool {
	for _, s := range k.Scopes {
		if s == scope || s == "*" {
			return true
		}
	}
	return false
}

// Repository provides lookup of API keys by their HMAC-SHA256 hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error)
}
