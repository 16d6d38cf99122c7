package tenant

import "time"

// Subscription tiers and their monthly message allowances.
const (
	TierSmall     = "small"
	TierMedium    = "medium"
	TierUnlimited = "unlimited"
)

// MonthlyLimit returns the message allowance for a tier; unknown tiers
// fall back to the smallest allowance.
func MonthlyLimit(tier string) (limit int, unlimited bool) {
	switch tier {
	case TierUnlimited:
		return 0, true
	case TierMedium:
		return 2000, false
	default:
		return 500, false
	}
}

// Tenant is one isolated customer workspace.
type Tenant struct {
	ID        string
	Name      string
	Tier      string
	CreatedAt time.Time
}

// User is a dashboard login bound to a tenant.
type User struct {
	ID           string
	TenantID     string
	Email        string
	PasswordHash string
}

// Connection is a provider channel linked to a tenant.
type Connection struct {
	ID            string
	TenantID      string
	Provider      string
	ExternalID    string
	VerifyToken   string
	AccessToken   string
	Status        string
	LastCheckedAt time.Time
}

// Connection health states recorded by the periodic sweep.
const (
	ConnectionStatusUnknown = "unknown"
	ConnectionStatusUp      = "up"
	ConnectionStatusDown    = "down"
)

// AISettings is the tenant's typed automation configuration. Loosely
// stored per-tenant records are validated here at the boundary; the
// pipeline downstream relies on the defaults being already applied.
type AISettings struct {
	TenantID           string
	IsEnabled          bool
	PersonaName        string
	CustomInstructions string
	BlockedTopics      []string
	TransferKeyword    string
	Timezone           string
	// ActiveHoursStart/End are hours of day [0,24]; a window where
	// start > end wraps past midnight.
	ActiveHoursStart   int
	ActiveHoursEnd     int
	MaxHistoryMessages int
	ConnectionID       string
}

// Defaults applied when a tenant has no settings row or partial fields.
const (
	DefaultPersonaName = "Assistant"
	DefaultTimezone    = "UTC"
	DefaultMaxHistory  = 20
)
