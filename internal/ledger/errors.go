package ledger

import "errors"

// Protocol errors. Every error aborts the whole transaction with no partial
// effect; callers classify with errors.Is and retry by re-deriving addresses.
var (
	// ErrAlreadyExists is returned when a derived address is already
	// initialized (name taken, wallet already registered, item already listed).
	ErrAlreadyExists = errors.New("account already exists")

	// ErrNotFound is returned when an expected record or account is absent,
	// including a listing already closed by a concurrent purchase.
	ErrNotFound = errors.New("account not found")

	// ErrInsufficientBalance is returned when a payer lacks the required
	// asset or currency balance.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrRuleViolation is returned when the rule-enforcement program rejects
	// a transfer under the asset's current policy.
	ErrRuleViolation = errors.New("transfer violates asset rules")

	// ErrUnauthorized is returned when a required signer or authority is
	// missing.
	ErrUnauthorized = errors.New("missing required signer or authority")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")
)
