package pool

import "errors"

// Error classes. Every pool error unwraps to exactly one of these so callers
// can branch on the kind of failure without listing every sentinel.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrLifecycle    = errors.New("invalid pool state")
	ErrValidation   = errors.New("invalid argument")
	ErrInsufficient = errors.New("insufficient resources")
	ErrTransfer     = errors.New("asset transfer failed")
)

var (
	ErrNotFactory = classError(ErrUnauthorized, "caller is not the pool factory")

	ErrNotInitialized      = classError(ErrLifecycle, "pool not initialized")
	ErrAlreadyInitialized  = classError(ErrLifecycle, "pool already initialized")
	ErrAlreadyResolved     = classError(ErrLifecycle, "pool already resolved")
	ErrNotResolved         = classError(ErrLifecycle, "pool not resolved")
	ErrPoolEnded           = classError(ErrLifecycle, "pool trading has ended")
	ErrPoolNotEnded        = classError(ErrLifecycle, "pool has not reached its end time")
	ErrDisputed            = classError(ErrLifecycle, "pool resolution is disputed")
	ErrNotDisputed         = classError(ErrLifecycle, "pool resolution is not disputed")
	ErrDisputeWindowClosed = classError(ErrLifecycle, "dispute window has closed")
	ErrDisputeSettled      = classError(ErrLifecycle, "dispute already settled")

	ErrLengthMismatch     = classError(ErrValidation, "array length mismatch")
	ErrInvalidOption      = classError(ErrValidation, "option index out of range")
	ErrZeroAmount         = classError(ErrValidation, "amount must be greater than 0")
	ErrInvalidFeeRate     = classError(ErrValidation, "fee rate exceeds 1000 basis points")
	ErrInvalidThreshold   = classError(ErrValidation, "resolution threshold must be greater than 0")
	ErrInvalidOptionCount = classError(ErrValidation, "pool needs at least 2 options")
	ErrInvalidWeight      = classError(ErrValidation, "option weight must be greater than 0")
	ErrInvalidEndTime     = classError(ErrValidation, "end time must be in the future")
	ErrInvalidAsset       = classError(ErrValidation, "payment asset is required")
	ErrInvalidFactory     = classError(ErrValidation, "factory address is required")

	ErrInsufficientPosition = classError(ErrInsufficient, "withdrawal exceeds liquidity position")
	ErrInsufficientReserve  = classError(ErrInsufficient, "amount exceeds option reserve")
	ErrEmptyReserve         = classError(ErrInsufficient, "trade would empty the option reserve")
	ErrOverflow             = classError(ErrInsufficient, "arithmetic overflow")
)

// ErrReentrant is returned when an operation is invoked while another
// operation on the same pool is settling with the asset. An asset callback
// that calls back into the pool gets it, as does a concurrent caller, which
// may retry.
var ErrReentrant = errors.New("reentrant call")

type poolError struct {
	class error
	msg   string
}

func classError(class error, msg string) error {
	return &poolError{class: class, msg: msg}
}

func (e *poolError) Error() string { return e.msg }

func (e *poolError) Unwrap() error { return e.class }

// transferError wraps a failure reported by the payment asset.
type transferError struct {
	op  string
	err error
}

func (e *transferError) Error() string {
	return e.op + ": " + ErrTransfer.Error() + ": " + e.err.Error()
}

func (e *transferError) Unwrap() []error { return []error{ErrTransfer, e.err} }
