package entitlement

import "errors"

var (
	ErrRecordNotFound = errors.New("entitlement record not found")
	ErrRecordExists   = errors.New("entitlement record already exists")

	ErrNoOpTransition    = errors.New("requested plan equals current plan")
	ErrIllegalTransition = errors.New("illegal entitlement transition")
	ErrNothingToRevert   = errors.New("no pending scheduled change to revert")
	ErrSessionExpired    = errors.New("checkout session expired")

	ErrConflict = errors.New("concurrent entitlement mutation detected")

	ErrNoCounterRegistered  = errors.New("no usage counter registered for resource")
	ErrLimitExceeded        = errors.New("plan limit exceeded")
	ErrDowngradeNotPossible = errors.New("downgrade not possible with current usage")
	ErrFailedToCountUsage   = errors.New("failed to count resource usage")
)
