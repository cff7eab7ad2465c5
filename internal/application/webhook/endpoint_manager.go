// Package webhook keeps tenant webhook registrations valid and applies
// inbound gateway notifications to the ledger.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/rs/zerolog"

	"github.com/cassiomorais/payrecon/internal/domain/attempt"
	domainErrors "github.com/cassiomorais/payrecon/internal/domain/errors"
	"github.com/cassiomorais/payrecon/internal/domain/merchant"
	"github.com/cassiomorais/payrecon/internal/domain/webhook"
	"github.com/cassiomorais/payrecon/internal/gateway"
	"github.com/cassiomorais/payrecon/internal/infrastructure/observability"
	"github.com/cassiomorais/payrecon/pkg/saga"
)

// Registrars builds the webhook registrar for a tenant config.
type Registrars interface {
	Registrar(cfg *merchant.GatewayConfig) (gateway.WebhookRegistrar, error)
}

// Locker serialises work on a key across processes.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// CallbackURL builds the URL a gateway posts a tenant's events to.
type CallbackURL func(slug string, userID int64) string

// Action is what Ensure did to reach a valid registration.
type Action string

const (
	ActionExisting Action = "existing"
	ActionReused   Action = "reused"
	ActionCreated  Action = "created"
	ActionDeleted  Action = "deleted"
)

// EnsureResult describes the registration now in place.
type EnsureResult struct {
	WebhookID string
	Action    Action
	Message   string
}

// EndpointManager guarantees one valid gateway-side registration per tenant
// and gateway.
type EndpointManager struct {
	merchants   merchant.Repository
	registrars  Registrars
	marker      webhook.DeletionMarker
	locker      Locker
	callbackURL CallbackURL
	metrics     *observability.Metrics
	logger      zerolog.Logger
}

func NewEndpointManager(
	merchants merchant.Repository,
	registrars Registrars,
	marker webhook.DeletionMarker,
	locker Locker,
	callbackURL CallbackURL,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *EndpointManager {
	return &EndpointManager{
		merchants:   merchants,
		registrars:  registrars,
		marker:      marker,
		locker:      locker,
		callbackURL: callbackURL,
		metrics:     metrics,
		logger:      logger,
	}
}

// Ensure validates the tenant's current registration and replaces it when it
// drifted. A previous config's registration for the same gateway is reused
// before a new one is created.
func (m *EndpointManager) Ensure(ctx context.Context, userID int64, gw attempt.Gateway) (*EnsureResult, error) {
	if m.locker == nil {
		return m.ensure(ctx, userID, gw)
	}
	var result *EnsureResult
	err := m.locker.WithLock(ctx, fmt.Sprintf("webhook:%s:%d", gw.Slug(), userID), func(ctx context.Context) error {
		var err error
		result, err = m.ensure(ctx, userID, gw)
		return err
	})
	if errors.Is(err, domainErrors.ErrLockAcquisitionFailed) {
		return nil, domainErrors.BusinessRule("webhook_busy", "Webhook setup is already in progress, try again shortly.").
			WithStatus(409)
	}
	return result, err
}

func (m *EndpointManager) ensure(ctx context.Context, userID int64, gw attempt.Gateway) (*EnsureResult, error) {
	cfg, err := m.merchants.FindActiveByGateway(ctx, userID, gw)
	if err != nil {
		if errors.Is(err, domainErrors.ErrGatewayNotConfigured) {
			return nil, domainErrors.NotFound("gateway_not_configured", "No active payment gateway configured for user")
		}
		return nil, fmt.Errorf("find gateway config: %w", err)
	}
	reg, err := m.registrars.Registrar(cfg)
	if err != nil {
		return nil, err
	}

	url := m.callbackURL(gw.Slug(), userID)
	sub := reg.Subscription()
	logger := m.logger.With().Int64("user_id", userID).Str("gateway", string(gw)).Logger()

	if id := cfg.Credentials.Get(merchant.KeyWebhookID); id != "" {
		if m.validate(ctx, reg, gw, id, url, sub, logger) {
			logger.Info().Str("webhook_id", id).Msg("User already has valid webhook")
			return m.done(gw, id, ActionExisting, "Webhook already exists"), nil
		}
	}

	if prev, err := m.merchants.FindPrevious(ctx, userID, gw, cfg.ID); err == nil {
		if res, ok, err := m.reuse(ctx, reg, gw, cfg, prev, url, sub, logger); err != nil || ok {
			return res, err
		}
	} else if !errors.Is(err, domainErrors.ErrGatewayNotConfigured) {
		return nil, fmt.Errorf("find previous gateway config: %w", err)
	}

	if err := m.merchants.DeleteCredentials(ctx, cfg.ID, merchant.KeyWebhookID, merchant.KeyWebhookSecret); err != nil {
		return nil, fmt.Errorf("clear webhook credentials: %w", err)
	}

	remote, err := m.register(ctx, reg, cfg, url, sub)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create webhook")
		return nil, err
	}

	logger.Info().Str("webhook_id", remote.ID).Str("url", url).Msg("Webhook created")
	return m.done(gw, remote.ID, ActionCreated, "Webhook created successfully"), nil
}

// register creates the remote registration and stores its credentials. A
// registration whose credentials could not be stored is deleted again so the
// gateway is not left posting to an endpoint nobody can verify.
func (m *EndpointManager) register(
	ctx context.Context,
	reg gateway.WebhookRegistrar,
	cfg *merchant.GatewayConfig,
	url string,
	sub gateway.Subscription,
) (*gateway.RemoteWebhook, error) {
	var remote *gateway.RemoteWebhook
	s := saga.New("webhook.register").
		AddStep(saga.Step{
			Name: "create_remote",
			Execute: func(ctx context.Context) error {
				var err error
				remote, err = reg.CreateWebhook(ctx, gateway.WebhookSpec{
					URL:         url,
					Events:      sub.Events,
					Description: fmt.Sprintf("Webhook for user %d", cfg.UserID),
					UserID:      cfg.UserID,
				})
				return err
			},
			Compensate: func(ctx context.Context) error {
				return reg.DeleteWebhook(ctx, remote.ID)
			},
		}).
		AddStep(saga.Step{
			Name: "store_credentials",
			Execute: func(ctx context.Context) error {
				values := map[string]string{merchant.KeyWebhookID: remote.ID}
				if remote.Secret != "" {
					values[merchant.KeyWebhookSecret] = remote.Secret
				}
				return m.merchants.PutCredentials(ctx, cfg.ID, values)
			},
		})

	if _, err := s.Execute(ctx); err != nil {
		return nil, err
	}
	return remote, nil
}

// reuse copies a previous config's registration onto cfg when it still
// validates. Gateways that sign with a per-registration secret need that
// secret too.
func (m *EndpointManager) reuse(
	ctx context.Context,
	reg gateway.WebhookRegistrar,
	gw attempt.Gateway,
	cfg, prev *merchant.GatewayConfig,
	url string,
	sub gateway.Subscription,
	logger zerolog.Logger,
) (*EnsureResult, bool, error) {
	id := prev.Credentials.Get(merchant.KeyWebhookID)
	secret := prev.Credentials.Get(merchant.KeyWebhookSecret)
	if id == "" || (sub.PerEndpointSecret && secret == "") {
		return nil, false, nil
	}
	if !m.validate(ctx, reg, gw, id, url, sub, logger) {
		return nil, false, nil
	}

	values := map[string]string{merchant.KeyWebhookID: id}
	if secret != "" {
		values[merchant.KeyWebhookSecret] = secret
	}
	if err := m.merchants.PutCredentials(ctx, cfg.ID, values); err != nil {
		return nil, false, fmt.Errorf("copy previous webhook credentials: %w", err)
	}
	logger.Info().Str("webhook_id", id).Int64("previous_gateway_id", prev.ID).Msg("Reusing previous webhook")
	return m.done(gw, id, ActionReused, "Previous webhook reused"), true, nil
}

// validate reports whether registration id matches url, status and events.
// A registration that exists but drifted is deleted; one that cannot be
// fetched is treated as gone.
func (m *EndpointManager) validate(
	ctx context.Context,
	reg gateway.WebhookRegistrar,
	gw attempt.Gateway,
	id, url string,
	sub gateway.Subscription,
	logger zerolog.Logger,
) bool {
	remote, err := reg.GetWebhook(ctx, id)
	if err != nil {
		logger.Info().Err(err).Str("webhook_id", id).Msg("Webhook no longer exists, will create new one")
		return false
	}
	if Matches(remote, url, sub) {
		return true
	}

	logger.Info().
		Str("webhook_id", id).
		Str("expected_url", url).
		Str("actual_url", remote.URL).
		Str("status", remote.Status).
		Strs("events", remote.Events).
		Msg("Webhook drifted from desired configuration")
	m.delete(ctx, reg, gw, id, logger)
	return false
}

// delete removes a drifted registration once across all callers.
func (m *EndpointManager) delete(ctx context.Context, reg gateway.WebhookRegistrar, gw attempt.Gateway, id string, logger zerolog.Logger) {
	claimed, err := m.marker.MarkDeleted(ctx, gw, id)
	if err != nil {
		logger.Warn().Err(err).Str("webhook_id", id).Msg("Failed to claim webhook deletion, skipping")
		return
	}
	if !claimed {
		logger.Info().Str("webhook_id", id).Msg("Webhook already deleted, skipping")
		return
	}
	if err := reg.DeleteWebhook(ctx, id); err != nil {
		logger.Warn().Err(err).Str("webhook_id", id).Msg("Failed to delete invalid webhook")
		if err := m.marker.Unmark(context.WithoutCancel(ctx), gw, id); err != nil {
			logger.Error().Err(err).Str("webhook_id", id).Msg("Failed to release webhook deletion claim")
		}
		return
	}
	m.count(gw, ActionDeleted)
	logger.Info().Str("webhook_id", id).Msg("Deleted invalid webhook")
}

func (m *EndpointManager) done(gw attempt.Gateway, id string, action Action, message string) *EnsureResult {
	m.count(gw, action)
	return &EnsureResult{WebhookID: id, Action: action, Message: message}
}

func (m *EndpointManager) count(gw attempt.Gateway, action Action) {
	if m.metrics != nil {
		m.metrics.WebhookEndpointActionsTotal.WithLabelValues(string(gw), string(action)).Inc()
	}
}

// Matches compares a registration with the desired one. Status is compared
// case-insensitively and events as sets.
func Matches(remote *gateway.RemoteWebhook, url string, sub gateway.Subscription) bool {
	if remote == nil || remote.URL != url || !strings.EqualFold(remote.Status, sub.ActiveStatus) {
		return false
	}
	have := slices.Clone(remote.Events)
	want := slices.Clone(sub.Events)
	slices.Sort(have)
	slices.Sort(want)
	return slices.Equal(have, want)
}
