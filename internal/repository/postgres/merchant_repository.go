package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/cassiomorais/payrecon/internal/domain/attempt"
	domainErrors "github.com/cassiomorais/payrecon/internal/domain/errors"
	"github.com/cassiomorais/payrecon/internal/domain/merchant"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const gatewayConfigColumns = `id, user_id, gateway, is_active, live_mode, created_at, updated_at`

var _ merchant.Repository = (*MerchantRepository)(nil)

// MerchantRepository implements merchant.Repository using PostgreSQL.
type MerchantRepository struct {
	pool *pgxpool.Pool
}

// NewMerchantRepository creates a new MerchantRepository.
func NewMerchantRepository(pool *pgxpool.Pool) *MerchantRepository {
	return &MerchantRepository{pool: pool}
}

func (r *MerchantRepository) db(ctx context.Context) Querier {
	return ConnFromCtx(ctx, r.pool)
}

// FindActive returns the tenant's active gateway config with its credentials.
func (r *MerchantRepository) FindActive(ctx context.Context, userID int64) (*merchant.GatewayConfig, error) {
	return r.load(ctx, r.db(ctx).QueryRow(ctx,
		`SELECT `+gatewayConfigColumns+` FROM user_payment_gateways
		 WHERE user_id = $1 AND is_active
		 ORDER BY updated_at DESC LIMIT 1`, userID))
}

// FindActiveByGateway returns the active config only if it is for gw.
func (r *MerchantRepository) FindActiveByGateway(ctx context.Context, userID int64, gw attempt.Gateway) (*merchant.GatewayConfig, error) {
	return r.load(ctx, r.db(ctx).QueryRow(ctx,
		`SELECT `+gatewayConfigColumns+` FROM user_payment_gateways
		 WHERE user_id = $1 AND gateway = $2 AND is_active
		 ORDER BY updated_at DESC LIMIT 1`, userID, string(gw)))
}

// FindLatestByGateway returns the most recently updated config for gw.
func (r *MerchantRepository) FindLatestByGateway(ctx context.Context, userID int64, gw attempt.Gateway) (*merchant.GatewayConfig, error) {
	return r.load(ctx, r.db(ctx).QueryRow(ctx,
		`SELECT `+gatewayConfigColumns+` FROM user_payment_gateways
		 WHERE user_id = $1 AND gateway = $2
		 ORDER BY is_active DESC, updated_at DESC LIMIT 1`, userID, string(gw)))
}

// FindPrevious returns the most recent inactive config for gw that carries a
// webhook registration.
func (r *MerchantRepository) FindPrevious(ctx context.Context, userID int64, gw attempt.Gateway, excludeID int64) (*merchant.GatewayConfig, error) {
	return r.load(ctx, r.db(ctx).QueryRow(ctx,
		`SELECT g.id, g.user_id, g.gateway, g.is_active, g.live_mode, g.created_at, g.updated_at
		 FROM user_payment_gateways g
		 WHERE g.user_id = $1 AND g.gateway = $2 AND g.id <> $3 AND NOT g.is_active
		   AND EXISTS (
		     SELECT 1 FROM user_payment_credentials c
		     WHERE c.gateway_config_id = g.id AND c.key = $4
		   )
		 ORDER BY g.updated_at DESC LIMIT 1`, userID, string(gw), excludeID, merchant.KeyWebhookID))
}

// PutCredentials upserts credential keys.
func (r *MerchantRepository) PutCredentials(ctx context.Context, configID int64, values map[string]string) error {
	for k, v := range values {
		_, err := r.db(ctx).Exec(ctx,
			`INSERT INTO user_payment_credentials (gateway_config_id, key, value, updated_at)
			 VALUES ($1, $2, $3, NOW())
			 ON CONFLICT (gateway_config_id, key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
			configID, k, v,
		)
		if err != nil {
			return fmt.Errorf("put credential %s: %w", k, err)
		}
	}
	_, err := r.db(ctx).Exec(ctx, `UPDATE user_payment_gateways SET updated_at = NOW() WHERE id = $1`, configID)
	if err != nil {
		return fmt.Errorf("touch gateway config: %w", err)
	}
	return nil
}

// DeleteCredentials removes credential keys.
func (r *MerchantRepository) DeleteCredentials(ctx context.Context, configID int64, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := r.db(ctx).Exec(ctx,
		`DELETE FROM user_payment_credentials WHERE gateway_config_id = $1 AND key = ANY($2)`,
		configID, keys,
	)
	if err != nil {
		return fmt.Errorf("delete credentials: %w", err)
	}
	return nil
}

func (r *MerchantRepository) load(ctx context.Context, row scanner) (*merchant.GatewayConfig, error) {
	cfg := &merchant.GatewayConfig{}
	var gw string
	err := row.Scan(&cfg.ID, &cfg.UserID, &gw, &cfg.Active, &cfg.LiveMode, &cfg.CreatedAt, &cfg.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainErrors.ErrGatewayNotConfigured
		}
		return nil, fmt.Errorf("scan gateway config: %w", err)
	}
	cfg.Gateway, err = attempt.ParseGateway(gw)
	if err != nil {
		return nil, err
	}

	rows, err := r.db(ctx).Query(ctx,
		`SELECT key, value FROM user_payment_credentials WHERE gateway_config_id = $1`, cfg.ID)
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}
	defer rows.Close()

	cfg.Credentials = merchant.Credentials{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		cfg.Credentials[k] = v
	}
	return cfg, rows.Err()
}
