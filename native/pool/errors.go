package pool

import "errors"

var (
	// ErrInvalidLimits rejects contribution settings that violate the
	// ordering, ceiling, or token-drop floor constraints.
	ErrInvalidLimits = errors.New("pool: invalid contribution limits")

	// ErrLimitExceeded rejects a deposit or withdrawal that would violate
	// the current min/max/pool-cap limits or the whitelist.
	ErrLimitExceeded = errors.New("pool: contribution limits violated")

	// ErrWithdrawalBelowFloor rejects a partial withdrawal that would
	// leave a nonzero contribution below the minimum. Withdraw to exactly
	// zero or stay at or above the floor.
	ErrWithdrawalBelowFloor = errors.New("pool: partial withdrawal below contribution floor")

	// ErrWrongState rejects an operation that is not legal in the pool's
	// current lifecycle state.
	ErrWrongState = errors.New("pool: operation not allowed in current state")

	// ErrUnauthorized rejects callers lacking the creator, admin, or fee
	// team role required by the operation.
	ErrUnauthorized = errors.New("pool: caller not authorized")

	// ErrNoValueAllowed rejects calls that carry attached value where none
	// is accepted.
	ErrNoValueAllowed = errors.New("pool: call must not carry value")

	// ErrEmptyTokenBalance rejects token confirmation when the pool holds
	// none of the given token.
	ErrEmptyTokenBalance = errors.New("pool: no tokens received")

	// ErrAlreadyConfirmed rejects a second token confirmation; the token
	// address locks on the first.
	ErrAlreadyConfirmed = errors.New("pool: tokens already confirmed")

	// ErrUnexpectedRefundSender rejects refund value from any address
	// other than the one recorded by ExpectRefund.
	ErrUnexpectedRefundSender = errors.New("pool: refund from unexpected sender")

	// ErrNoFeesDue rejects a fee transfer when no withheld fees remain.
	ErrNoFeesDue = errors.New("pool: no fees due")

	// ErrInsufficientFunds signals that the held balance cannot honor a
	// computed payout. It should be unreachable while the ledger
	// invariants hold; hitting it surfaces a bookkeeping bug.
	ErrInsufficientFunds = errors.New("pool: held balance cannot honor payout")
)
