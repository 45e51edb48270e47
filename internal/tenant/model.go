// Package tenant holds the data model shared across the authentication,
// rate-limit, and pipeline layers: Tenant, Credential, and the per-request
// Tenant Context derived from them.
package tenant

import "time"

// Tier is a tenant's closed-set service tier; it is total and monotone for
// limits (enterprise never has a lower limit than professional, etc.).
type Tier string

const (
	TierFree         Tier = "free"
	TierStarter      Tier = "starter"
	TierProfessional Tier = "professional"
	TierEnterprise   Tier = "enterprise"
)

// Tenant is the identity of a paying organization.
type Tenant struct {
	ID                 string
	DisplayName        string
	Tier               Tier
	Active             bool
	AllowedProviders    []string // empty or containing "*" means all
	RateLimitOverrides *LimitOverrides
	CostLimitOverrides *LimitOverrides
	MonthlyBudgetCap   *float64
	WebhookTarget      string
	WebhookSecret      string
}

// LimitOverrides carries explicit per-tenant overrides for the six
// rate-limit dimensions; a nil field means "fall back to tier/default".
type LimitOverrides struct {
	PerMinute *float64
	PerHour   *float64
	PerDay    *float64
}

// Credential is a per-tenant API token. The plaintext never leaves the
// caller; Hash is the sole lookup key downstream.
type Credential struct {
	ID               string
	TenantID         string
	Hash             string
	Preview          string
	Active           bool
	ExpiresAt        *time.Time
	Scopes           []string
	AllowedIPs       []string // exact, CIDR, or "*" wildcard entries
	AllowedEndpoints []string // exact, "prefix*", or "/regex/" entries
	AllowedProviders []string // empty or "*" means all
}

// IsExpired reports whether the credential's expiry has passed as of now.
func (c *Credential) IsExpired(now time.Time) bool {
	return c.ExpiresAt != nil && c.ExpiresAt.Before(now)
}

// Context is the bundle passed downstream after authentication. Its
// lifetime is exactly one request; it is never attached to transport
// objects, only threaded through context.Context or passed explicitly.
type Context struct {
	Tenant      Tenant
	Credential  Credential
	RequestID   string
	ClientIP    string
	UserAgent   string
	ArrivedAt   time.Time
	CachedFromDistributedTier bool
}
