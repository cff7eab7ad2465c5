package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/cassiomorais/payrecon/internal/domain/attempt"
	domainErrors "github.com/cassiomorais/payrecon/internal/domain/errors"
	"github.com/cassiomorais/payrecon/internal/domain/merchant"
	"github.com/cassiomorais/payrecon/internal/domain/webhook"
	"github.com/cassiomorais/payrecon/internal/infrastructure/observability"
)

// Recorder moves ledger rows. Transition is a compare-and-set that reports
// whether the status changed.
type Recorder interface {
	Transition(ctx context.Context, id int64, status attempt.Status, f attempt.Fields) (bool, error)
	Annotate(ctx context.Context, id int64, f attempt.Fields) error
}

// TransactionManager runs fn in a database transaction carried by ctx.
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Delivery is one inbound webhook request for a tenant's endpoint.
type Delivery struct {
	Gateway attempt.Gateway
	UserID  int64
	Body    []byte
	Headers http.Header
}

// Result classifies how a verified delivery was handled. Every result is
// acknowledged to the gateway.
type Result string

const (
	ResultApplied       Result = "applied"
	ResultNoop          Result = "noop"
	ResultDuplicate     Result = "duplicate"
	ResultIgnored       Result = "ignored"
	ResultForeignTenant Result = "foreign_tenant"
	ResultUnmatched     Result = "unmatched"
)

type Outcome struct {
	Result    Result
	EventID   string
	EventType string
	AttemptID int64
	Message   string
}

// inbound is a verified, parsed delivery ready to route.
type inbound struct {
	eventID   string
	eventType string
	// tenantID is the tenant the payload claims; 0 when it carries none.
	tenantID int64
	route    func(ctx context.Context) (Outcome, error)
}

// errUnmatched rolls back the event record so a redelivery can match once
// the attempt exists.
var errUnmatched = errors.New("webhook event matched no attempt")

// Processor verifies inbound gateway notifications and applies them to the
// ledger exactly once per event id.
type Processor struct {
	merchants merchant.Repository
	ledger    attempt.Ledger
	recorder  Recorder
	events    webhook.EventRepository
	tx        TransactionManager
	metrics   *observability.Metrics
	logger    zerolog.Logger
	now       func() time.Time
}

func NewProcessor(
	merchants merchant.Repository,
	ledger attempt.Ledger,
	recorder Recorder,
	events webhook.EventRepository,
	tx TransactionManager,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Processor {
	return &Processor{
		merchants: merchants,
		ledger:    ledger,
		recorder:  recorder,
		events:    events,
		tx:        tx,
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
	}
}

// Handle verifies d against the tenant's credentials and applies it. An
// error means the delivery was rejected (bad signature, malformed payload,
// missing configuration) or could not be stored and should be retried.
func (p *Processor) Handle(ctx context.Context, d Delivery) (out Outcome, err error) {
	ctx, end := observability.StartSpan(ctx, "webhook.handle",
		attribute.String("gateway", string(d.Gateway)),
		attribute.Int64("user_id", d.UserID),
	)
	defer func() { end(err) }()

	logger := p.logger.With().Str("gateway", string(d.Gateway)).Int64("user_id", d.UserID).Logger()

	in, err := p.parse(ctx, d)
	if err != nil {
		logger.Warn().Err(err).Msg("Webhook rejected")
		p.count(d.Gateway, "unknown", "rejected")
		return Outcome{}, err
	}

	out, err = p.process(ctx, d, in)
	if err != nil {
		logger.Error().Err(err).Str("event_type", in.eventType).Str("event_id", in.eventID).Msg("Webhook processing failed")
		p.count(d.Gateway, in.eventType, "error")
		return Outcome{}, err
	}

	logger.Info().
		Str("event_type", out.EventType).
		Str("event_id", out.EventID).
		Int64("attempt_id", out.AttemptID).
		Str("outcome", string(out.Result)).
		Str("message", out.Message).
		Msg("Webhook processed")
	p.count(d.Gateway, out.EventType, string(out.Result))
	return out, nil
}

func (p *Processor) parse(ctx context.Context, d Delivery) (*inbound, error) {
	if d.UserID <= 0 {
		return nil, domainErrors.Validation("invalid_user", "Invalid user id")
	}
	creds, err := p.credentials(ctx, d)
	if err != nil {
		return nil, err
	}
	switch d.Gateway {
	case attempt.GatewayStripe:
		return p.parseStripe(d, creds)
	case attempt.GatewayAuthorizeNet:
		return p.parseAuthorizeNet(d, creds)
	}
	return nil, domainErrors.Validation("unsupported_gateway", fmt.Sprintf("Unsupported gateway: %s", d.Gateway))
}

// credentials loads the tenant's newest config for the gateway, active or
// not, so events for payments taken before a credential rotation still
// verify. A tenant without one gets empty credentials and fails
// verification with a configuration error.
func (p *Processor) credentials(ctx context.Context, d Delivery) (merchant.Credentials, error) {
	cfg, err := p.merchants.FindLatestByGateway(ctx, d.UserID, d.Gateway)
	if err != nil {
		if errors.Is(err, domainErrors.ErrGatewayNotConfigured) {
			return merchant.Credentials{}, nil
		}
		return nil, fmt.Errorf("load webhook credentials: %w", err)
	}
	return cfg.Credentials, nil
}

func (p *Processor) process(ctx context.Context, d Delivery, in *inbound) (Outcome, error) {
	if in.tenantID != 0 && in.tenantID != d.UserID {
		return Outcome{
			Result:    ResultForeignTenant,
			EventID:   in.eventID,
			EventType: in.eventType,
			Message:   fmt.Sprintf("Event belongs to user %d", in.tenantID),
		}, nil
	}

	var out Outcome
	err := p.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := p.events.RecordEvent(txCtx, &webhook.Event{
			Gateway:    d.Gateway,
			EventID:    in.eventID,
			EventType:  in.eventType,
			UserID:     d.UserID,
			ReceivedAt: p.now(),
		}); err != nil {
			return err
		}
		o, err := in.route(txCtx)
		if err != nil {
			return err
		}
		out = o
		if o.Result == ResultUnmatched {
			return errUnmatched
		}
		return nil
	})
	switch {
	case errors.Is(err, domainErrors.ErrEventAlreadyProcessed):
		out = Outcome{Result: ResultDuplicate, Message: "Event already processed"}
	case errors.Is(err, errUnmatched):
	case err != nil:
		return Outcome{}, err
	}
	out.EventID = in.eventID
	out.EventType = in.eventType
	return out, nil
}

// transition moves a to status and reports whether anything changed.
func (p *Processor) transition(ctx context.Context, a *attempt.PaymentAttempt, status attempt.Status, f attempt.Fields) (Outcome, error) {
	changed, err := p.recorder.Transition(ctx, a.ID, status, f)
	if err != nil {
		return Outcome{}, err
	}
	if !changed {
		return Outcome{
			Result:    ResultNoop,
			AttemptID: a.ID,
			Message:   fmt.Sprintf("Attempt already %s", a.Status),
		}, nil
	}
	return Outcome{Result: ResultApplied, AttemptID: a.ID, Message: status.String()}, nil
}

func (p *Processor) annotate(ctx context.Context, a *attempt.PaymentAttempt, f attempt.Fields) (Outcome, error) {
	if err := p.recorder.Annotate(ctx, a.ID, f); err != nil {
		return Outcome{}, err
	}
	return Outcome{Result: ResultApplied, AttemptID: a.ID, Message: "Annotated"}, nil
}

// attemptFor loads attempt id and checks it belongs to userID and, when ops
// are given, has one of them.
func (p *Processor) attemptFor(ctx context.Context, userID, id int64, ops ...attempt.Operation) (*attempt.PaymentAttempt, error) {
	if id <= 0 {
		return nil, domainErrors.ErrAttemptNotFound
	}
	a, err := p.ledger.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.UserID != userID {
		return nil, domainErrors.ErrAttemptNotFound
	}
	if len(ops) > 0 && !slices.Contains(ops, a.Operation) {
		return nil, domainErrors.ErrAttemptNotFound
	}
	return a, nil
}

// unmatched converts a not-found lookup into an acknowledged miss.
func unmatched(err error, format string, args ...any) (Outcome, error) {
	if errors.Is(err, domainErrors.ErrAttemptNotFound) {
		return Outcome{Result: ResultUnmatched, Message: fmt.Sprintf(format, args...)}, nil
	}
	return Outcome{}, err
}

func ignored(eventType string) Outcome {
	return Outcome{Result: ResultIgnored, Message: "Unhandled event type: " + eventType}
}

func decode[T any](raw json.RawMessage) (*T, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, &domainErrors.PaymentError{
			Kind:    domainErrors.KindValidation,
			Code:    "invalid_payload",
			Message: "Invalid event object",
			Err:     err,
		}
	}
	return &v, nil
}

func (p *Processor) count(gw attempt.Gateway, eventType, outcome string) {
	if p.metrics != nil {
		p.metrics.WebhookEventsTotal.WithLabelValues(string(gw), eventType, outcome).Inc()
	}
}
