package events

import (
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
)

const (
	TypePoolDeposit           = "pool.deposit"
	TypePoolWithdrawal        = "pool.withdrawal"
	TypePoolRebalanced        = "pool.rebalanced"
	TypePoolWhitelistChange   = "pool.whitelist_change"
	TypePoolStatusChange      = "pool.status_change"
	TypePoolPaidOut           = "pool.paid_out"
	TypePoolRefundReceived    = "pool.refund_received"
	TypePoolTokensReceived    = "pool.tokens_received"
	TypePoolTokensConfirmed   = "pool.tokens_confirmed"
	TypePoolTokensDistributed = "pool.tokens_distributed"
	TypePoolAirdrop           = "pool.airdrop"
	TypePoolFeesForwarded     = "pool.fees_forwarded"
	TypePoolFeesDiscounted    = "pool.fees_discounted"
)

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

type PoolDeposit struct {
	Pool        common.Address
	Participant common.Address
	Amount      *big.Int
}

func (PoolDeposit) EventType() string { return TypePoolDeposit }

func (e PoolDeposit) Attributes() map[string]string {
	return map[string]string{
		"pool":        e.Pool.Hex(),
		"participant": e.Participant.Hex(),
		"amount":      formatAmount(e.Amount),
	}
}

type PoolWithdrawal struct {
	Pool        common.Address
	Participant common.Address
	Amount      *big.Int
}

func (PoolWithdrawal) EventType() string { return TypePoolWithdrawal }

func (e PoolWithdrawal) Attributes() map[string]string {
	return map[string]string{
		"pool":        e.Pool.Hex(),
		"participant": e.Participant.Hex(),
		"amount":      formatAmount(e.Amount),
	}
}

type PoolRebalanced struct {
	Pool         common.Address
	Participant  common.Address
	Contribution *big.Int
	Remaining    *big.Int
}

func (PoolRebalanced) EventType() string { return TypePoolRebalanced }

func (e PoolRebalanced) Attributes() map[string]string {
	return map[string]string{
		"pool":         e.Pool.Hex(),
		"participant":  e.Participant.Hex(),
		"contribution": formatAmount(e.Contribution),
		"remaining":    formatAmount(e.Remaining),
	}
}

type PoolWhitelistChange struct {
	Pool        common.Address
	Participant common.Address
	Whitelisted bool
}

func (PoolWhitelistChange) EventType() string { return TypePoolWhitelistChange }

func (e PoolWhitelistChange) Attributes() map[string]string {
	return map[string]string{
		"pool":        e.Pool.Hex(),
		"participant": e.Participant.Hex(),
		"whitelisted": strconv.FormatBool(e.Whitelisted),
	}
}

type PoolStatusChange struct {
	Pool   common.Address
	Status string
}

func (PoolStatusChange) EventType() string { return TypePoolStatusChange }

func (e PoolStatusChange) Attributes() map[string]string {
	return map[string]string{
		"pool":   e.Pool.Hex(),
		"status": e.Status,
	}
}

type PoolPaidOut struct {
	Pool        common.Address
	Destination common.Address
	Amount      *big.Int
}

func (PoolPaidOut) EventType() string { return TypePoolPaidOut }

func (e PoolPaidOut) Attributes() map[string]string {
	return map[string]string{
		"pool":        e.Pool.Hex(),
		"destination": e.Destination.Hex(),
		"amount":      formatAmount(e.Amount),
	}
}

type PoolRefundReceived struct {
	Pool   common.Address
	Sender common.Address
	Amount *big.Int
}

func (PoolRefundReceived) EventType() string { return TypePoolRefundReceived }

func (e PoolRefundReceived) Attributes() map[string]string {
	return map[string]string{
		"pool":   e.Pool.Hex(),
		"sender": e.Sender.Hex(),
		"amount": formatAmount(e.Amount),
	}
}

type PoolTokensReceived struct {
	Pool   common.Address
	Token  common.Address
	Sender common.Address
	Amount *big.Int
}

func (PoolTokensReceived) EventType() string { return TypePoolTokensReceived }

func (e PoolTokensReceived) Attributes() map[string]string {
	return map[string]string{
		"pool":   e.Pool.Hex(),
		"token":  e.Token.Hex(),
		"sender": e.Sender.Hex(),
		"amount": formatAmount(e.Amount),
	}
}

type PoolTokensConfirmed struct {
	Pool    common.Address
	Token   common.Address
	Balance *big.Int
}

func (PoolTokensConfirmed) EventType() string { return TypePoolTokensConfirmed }

func (e PoolTokensConfirmed) Attributes() map[string]string {
	return map[string]string{
		"pool":    e.Pool.Hex(),
		"token":   e.Token.Hex(),
		"balance": formatAmount(e.Balance),
	}
}

type PoolTokensDistributed struct {
	Pool       common.Address
	Token      common.Address
	Recipients int
}

func (PoolTokensDistributed) EventType() string { return TypePoolTokensDistributed }

func (e PoolTokensDistributed) Attributes() map[string]string {
	return map[string]string{
		"pool":       e.Pool.Hex(),
		"token":      e.Token.Hex(),
		"recipients": strconv.Itoa(e.Recipients),
	}
}

type PoolAirdrop struct {
	Pool   common.Address
	Token  common.Address
	Amount *big.Int
}

func (PoolAirdrop) EventType() string { return TypePoolAirdrop }

func (e PoolAirdrop) Attributes() map[string]string {
	attrs := map[string]string{
		"pool":   e.Pool.Hex(),
		"amount": formatAmount(e.Amount),
	}
	if e.Token != (common.Address{}) {
		attrs["token"] = e.Token.Hex()
	}
	return attrs
}

type PoolFeesForwarded struct {
	Pool   common.Address
	Amount *big.Int
}

func (PoolFeesForwarded) EventType() string { return TypePoolFeesForwarded }

func (e PoolFeesForwarded) Attributes() map[string]string {
	return map[string]string{
		"pool":   e.Pool.Hex(),
		"amount": formatAmount(e.Amount),
	}
}

type PoolFeesDiscounted struct {
	Pool                common.Address
	CreatorFeesPerEther *big.Int
	TeamFeesPerEther    *big.Int
}

func (PoolFeesDiscounted) EventType() string { return TypePoolFeesDiscounted }

func (e PoolFeesDiscounted) Attributes() map[string]string {
	return map[string]string{
		"pool":       e.Pool.Hex(),
		"creatorFee": formatAmount(e.CreatorFeesPerEther),
		"teamFee":    formatAmount(e.TeamFeesPerEther),
	}
}
