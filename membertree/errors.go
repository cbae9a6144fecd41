package membertree

import (
	"errors"
)

var ErrSponsorNotFound = errors.New("sponsor not found")

var ErrSponsorRequired = errors.New("sponsor code is required")

var ErrMemberNotFound = errors.New("member not found")

var ErrDuplicateCode = errors.New("member code already exists")

var ErrDuplicateEmail = errors.New("email already exists")

// ErrPositionUnavailable is returned under PositionPolicyStrict when the preferred slot of the
// sponsor is already taken. Callers can retry without a preference to get a spill placement.
var ErrPositionUnavailable = errors.New("preferred position unavailable")

// ErrTreeInvariantViolation means the stored structure is corrupt. It is never retryable.
var ErrTreeInvariantViolation = errors.New("tree invariant violation")

// ErrConcurrentModification is returned by a Store when the member set changed between the
// snapshot and the commit. The whole placement transaction can be retried.
var ErrConcurrentModification = errors.New("concurrent modification of member tree")

var ErrInvalidInput = errors.New("invalid input")

// IsRetryable reports whether the operation that returned err can be attempted again as-is.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}
