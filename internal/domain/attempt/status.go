package attempt

import "fmt"

// Status is the ledger status of a payment attempt. The ordinal values are
// persisted and shared with the reporting side, so they must not be reordered.
type Status int

const (
	StatusPaid Status = iota
	StatusHandled
	StatusRefund
	StatusAttempt
	StatusError
	StatusVoid
)

var statusNames = [...]string{"Paid", "Handled", "Refund", "Attempt", "Error", "Void"}

func (s Status) String() string {
	if !s.Valid() {
		return fmt.Sprintf("Status(%d)", int(s))
	}
	return statusNames[s]
}

// Valid reports whether s is one of the known ledger statuses.
func (s Status) Valid() bool {
	return s >= StatusPaid && s <= StatusVoid
}

// IsTerminal reports whether s is a resolved status. Attempt is the only
// status a webhook or synchronous response may still move.
func (s Status) IsTerminal() bool {
	return s != StatusAttempt
}

// CanApply reports whether a row currently in s may be moved to target.
// Pending rows move once; a row already in target accepts the same
// transition again so confirming events can stamp late-arriving fields.
func (s Status) CanApply(target Status) bool {
	return s == StatusAttempt || s == target
}

// Operation distinguishes the financial action a ledger row represents.
type Operation string

const (
	OperationCharge Operation = "charge"
	OperationRefund Operation = "refund"
	OperationVoid   Operation = "void"
)

func (o Operation) Valid() bool {
	switch o {
	case OperationCharge, OperationRefund, OperationVoid:
		return true
	}
	return false
}

// IsReversal reports whether rows of this operation carry negative amounts.
func (o Operation) IsReversal() bool {
	return o == OperationRefund || o == OperationVoid
}

// TransactionStatus is the code returned to API callers for reversal results
// ("2" refund, "1" void).
func (o Operation) TransactionStatus() string {
	switch o {
	case OperationRefund:
		return "2"
	case OperationVoid:
		return "1"
	}
	return ""
}
