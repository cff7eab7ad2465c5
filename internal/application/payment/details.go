package payment

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	domainErrors "github.com/cassiomorais/payrecon/internal/domain/errors"
	"github.com/cassiomorais/payrecon/internal/gateway"
	"github.com/cassiomorais/payrecon/internal/infrastructure/observability"
)

// Details returns the ledger view of transactionID. With live set the
// gateway is asked for its current view as well.
func (o *Orchestrator) Details(ctx context.Context, tenant gateway.Tenant, transactionID string, live bool) (d *gateway.Details, err error) {
	transactionID = strings.TrimSpace(transactionID)
	ctx, end := observability.StartSpan(ctx, "payment.details",
		attribute.Int64("user_id", tenant.UserID),
		attribute.String("transaction_id", transactionID),
		attribute.Bool("live", live),
	)
	defer func() { end(err) }()

	if transactionID == "" {
		return nil, domainErrors.Validation("missing_transaction_id", "Transaction ID is required")
	}
	cfg, err := o.configFor(ctx, tenant.UserID, transactionID)
	if err != nil {
		return nil, err
	}
	adapter, err := o.adapters.Adapter(cfg)
	if err != nil {
		return nil, err
	}
	return adapter.QueryDetails(ctx, gateway.DetailsRequest{
		UserID:        tenant.UserID,
		TransactionID: transactionID,
		Live:          live,
	})
}
