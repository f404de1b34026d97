package errors

import stdErrors "errors"

// Reason names a domain rejection so callers and clients can branch on it
// without parsing messages.
type Reason string

const (
	ReasonPoolClosed            Reason = "POOL_CLOSED"
	ReasonPoolFull              Reason = "POOL_FULL"
	ReasonDuplicateParticipant  Reason = "DUPLICATE_PARTICIPANT"
	ReasonDeadlinePassed        Reason = "DEADLINE_PASSED"
	ReasonParticipantNotFound   Reason = "PARTICIPANT_NOT_FOUND"
	ReasonPoolLocked            Reason = "POOL_LOCKED"
	ReasonBelowMinimumTier      Reason = "BELOW_MINIMUM_TIER"
	ReasonPoolNotConfirmed      Reason = "POOL_NOT_CONFIRMED"
	ReasonNoApplicablePriceTier Reason = "NO_APPLICABLE_PRICE_TIER"
	ReasonCapacityExceeded      Reason = "CAPACITY_EXCEEDED"
	ReasonRunLocked             Reason = "RUN_LOCKED"
	ReasonEmptyRun              Reason = "EMPTY_RUN"
	ReasonStopNotActive         Reason = "STOP_NOT_ACTIVE"
	ReasonStopsOutstanding      Reason = "STOPS_OUTSTANDING"
	ReasonInvalidTransition     Reason = "INVALID_TRANSITION"
	ReasonSettlementOutstanding Reason = "SETTLEMENT_OUTSTANDING"
	ReasonNegativeAmount        Reason = "NEGATIVE_AMOUNT"
	ReasonOverpaymentRejected   Reason = "OVERPAYMENT_REJECTED"
	ReasonDueBelowPaid          Reason = "DUE_BELOW_PAID"
	ReasonSettlementNotFound    Reason = "SETTLEMENT_NOT_FOUND"
	ReasonAmountOutOfRange      Reason = "AMOUNT_OUT_OF_RANGE"
	ReasonConflict              Reason = "CONFLICT"
)

// Rejection builds a typed error carrying both the transport code and the domain reason.
func Rejection(code Code, reason Reason, message string) *Error {
	return New(code, message).WithReason(reason)
}

// HasReason reports whether err (or anything it wraps) is a typed error with reason.
func HasReason(err error, reason Reason) bool {
	for e := err; e != nil; e = stdErrors.Unwrap(e) {
		if typed, ok := e.(*Error); ok && typed.Reason() == reason {
			return true
		}
	}
	return false
}

// ReasonOf returns the first non-empty reason in the chain.
func ReasonOf(err error) Reason {
	for e := err; e != nil; e = stdErrors.Unwrap(e) {
		if typed, ok := e.(*Error); ok && typed.Reason() != "" {
			return typed.Reason()
		}
	}
	return ""
}

// VersionConflict is returned by stores when a compare-and-swap on version loses a race.
func VersionConflict(aggregate string) *Error {
	return Rejection(CodeAggregateBusy, ReasonConflict, aggregate+" was modified concurrently, retry")
}
