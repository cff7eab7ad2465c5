package attempt

import (
	"fmt"
	"strconv"
	"strings"

	domainerrors "github.com/cassiomorais/payrecon/internal/domain/errors"
)

const invoicePrefix = "ATT"

// Invoice is the positional envelope ATT-{userId}-{attemptId}-{tempOrderNumber}[-{storeId}]
// embedded in outbound gateway metadata and parsed back from webhooks.
type Invoice struct {
	UserID          int64
	AttemptID       int64
	TempOrderNumber string
	StoreID         int64
	HasStore        bool
}

func (i Invoice) String() string {
	s := fmt.Sprintf("%s-%d-%d-%s", invoicePrefix, i.UserID, i.AttemptID, i.TempOrderNumber)
	if i.HasStore {
		s += "-" + strconv.FormatInt(i.StoreID, 10)
	}
	return s
}

// Fit returns the envelope shortened to at most n bytes. The store id is
// dropped first, then the temp order number is cut. The user and attempt ids
// are always kept since webhook routing reads only those.
func (i Invoice) Fit(n int) string {
	if s := i.String(); len(s) <= n {
		return s
	}
	head := fmt.Sprintf("%s-%d-%d-", invoicePrefix, i.UserID, i.AttemptID)
	room := max(n-len(head), 0)
	order := i.TempOrderNumber
	if len(order) > room {
		order = order[:room]
	}
	return head + order
}

// ParseInvoice decodes an invoice number. The store id segment is optional.
func ParseInvoice(s string) (Invoice, error) {
	parts := strings.Split(strings.TrimSpace(s), "-")
	if len(parts) < 4 || len(parts) > 5 || parts[0] != invoicePrefix {
		return Invoice{}, fmt.Errorf("%w: %q", domainerrors.ErrInvalidInvoice, s)
	}

	userID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return Invoice{}, fmt.Errorf("%w: user id %q", domainerrors.ErrInvalidInvoice, parts[1])
	}
	attemptID, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return Invoice{}, fmt.Errorf("%w: attempt id %q", domainerrors.ErrInvalidInvoice, parts[2])
	}

	inv := Invoice{UserID: userID, AttemptID: attemptID, TempOrderNumber: parts[3]}
	if len(parts) == 5 && parts[4] != "" {
		storeID, err := strconv.ParseInt(parts[4], 10, 64)
		if err != nil {
			return Invoice{}, fmt.Errorf("%w: store id %q", domainerrors.ErrInvalidInvoice, parts[4])
		}
		inv.StoreID = storeID
		inv.HasStore = true
	}
	return inv, nil
}
