package plans

import "errors"

var (
	ErrPlanNotFound             = errors.New("plan not found")
	ErrInvalidPlanConfiguration = errors.New("invalid plan configuration")
	ErrDuplicateRank            = errors.New("duplicate plan rank")
	ErrNoFreePlan               = errors.New("catalog requires exactly one rank-0 plan")
)
