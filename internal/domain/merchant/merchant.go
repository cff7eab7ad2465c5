package merchant

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/cassiomorais/payrecon/internal/domain/attempt"
	"github.com/rs/zerolog"
)

// Well-known credential keys.
const (
	KeySecretKey      = "secret_key"
	KeyPublishableKey = "publishable_key"
	KeyLoginID        = "login_id"
	KeyTransactionKey = "transaction_key"
	KeySigningKey     = "signing_key"
	KeyWebhookID      = "webhook_id"
	KeyWebhookSecret  = "webhook_secret"
)

// Credentials is a tenant's opaque key/value secret set for one gateway.
// It must never be logged with its values.
type Credentials map[string]string

func (c Credentials) Get(key string) string {
	return c[key]
}

// Missing returns the required keys that are absent or blank, sorted.
func (c Credentials) Missing(required ...string) []string {
	var missing []string
	for _, k := range required {
		if strings.TrimSpace(c[k]) == "" {
			missing = append(missing, k)
		}
	}
	sort.Strings(missing)
	return missing
}

// Clone returns an independent copy.
func (c Credentials) Clone() Credentials {
	out := make(Credentials, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// MarshalZerologObject logs the key names only.
func (c Credentials) MarshalZerologObject(e *zerolog.Event) {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	e.Strs("keys", keys)
}

// GatewayConfig is a tenant's configuration of one gateway. A tenant has at
// most one active config; older configs for the same gateway are kept so a
// re-enabled gateway can reuse its webhook registration.
type GatewayConfig struct {
	ID          int64
	UserID      int64
	Gateway     attempt.Gateway
	Active      bool
	LiveMode    bool
	Credentials Credentials
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Repository reads gateway configs and persists the webhook credential keys.
// Lookups return errors.ErrGatewayNotConfigured when nothing matches.
type Repository interface {
	// FindActive returns the tenant's active gateway config.
	FindActive(ctx context.Context, userID int64) (*GatewayConfig, error)

	// FindActiveByGateway returns the active config only if it is for gw.
	FindActiveByGateway(ctx context.Context, userID int64, gw attempt.Gateway) (*GatewayConfig, error)

	// FindLatestByGateway returns the most recently updated config for gw,
	// active or not.
	FindLatestByGateway(ctx context.Context, userID int64, gw attempt.Gateway) (*GatewayConfig, error)

	// FindPrevious returns the most recent inactive config for gw other than excludeID.
	FindPrevious(ctx context.Context, userID int64, gw attempt.Gateway, excludeID int64) (*GatewayConfig, error)

	// PutCredentials upserts credential keys on a config.
	PutCredentials(ctx context.Context, configID int64, values map[string]string) error

	// DeleteCredentials removes credential keys from a config.
	DeleteCredentials(ctx context.Context, configID int64, keys ...string) error
}
