package pool

import (
	"bytes"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// ParticipantSnapshot is one ledger entry in serialized form.
type ParticipantSnapshot struct {
	Address       common.Address
	Contribution  *big.Int
	Remaining     *big.Int
	Whitelisted   bool
	Exists        bool
	GasOwed       bool
	RefundClaimed *big.Int
}

// TokenPaidSnapshot records how much of a token one participant has
// already received.
type TokenPaidSnapshot struct {
	Participant common.Address
	Amount      *big.Int
}

// TokenSnapshot captures the distribution bookkeeping for one token.
type TokenSnapshot struct {
	Token common.Address
	Sent  *big.Int
	Paid  []TokenPaidSnapshot
}

// Snapshot is the engine's complete persistent state. Participants keep
// their insertion order; token and payout maps are flattened into
// deterministically ordered slices so an encoded snapshot is
// byte-stable.
type Snapshot struct {
	Status     uint8
	Restricted bool

	MinContribution *big.Int
	MaxContribution *big.Int
	MaxPoolBalance  *big.Int

	Participants []ParticipantSnapshot

	PoolBalance       *big.Int
	TotalContributors uint64
	HeldBalance       *big.Int

	CreatorFeesPerEther *big.Int
	TeamFeesPerEther    *big.Int
	FeesWithheld        *big.Int

	TotalTokenDrops       uint8
	GasCostPerContributor *big.Int
	ContributorsAtPayout  uint64
	ReservePrepaid        bool
	DistributionReserve   *big.Int

	TokensConfirmed bool
	ConfirmedToken  common.Address
	Tokens          []TokenSnapshot

	ExpectingRefund bool
	RefundSender    common.Address
	TotalRefunded   *big.Int
}

// Snapshot captures the full ledger state for persistence.
func (e *Engine) Snapshot() *Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	snap := &Snapshot{
		Status:                uint8(e.status),
		Restricted:            e.restricted,
		MinContribution:       cloneOrZero(e.limits.MinContribution),
		MaxContribution:       cloneOrZero(e.limits.MaxContribution),
		MaxPoolBalance:        cloneOrZero(e.limits.MaxPoolBalance),
		PoolBalance:           new(big.Int).Set(e.poolBalance),
		TotalContributors:     uint64(e.totalContributors),
		HeldBalance:           new(big.Int).Set(e.heldBalance),
		CreatorFeesPerEther:   new(big.Int).Set(e.creatorFeesPerEther),
		TeamFeesPerEther:      new(big.Int).Set(e.teamFeesPerEther),
		FeesWithheld:          new(big.Int).Set(e.feesWithheld),
		TotalTokenDrops:       e.totalTokenDrops,
		GasCostPerContributor: new(big.Int).Set(e.gasCostPerContributor),
		ContributorsAtPayout:  uint64(e.contributorsAtPayout),
		ReservePrepaid:        e.reservePrepaid,
		DistributionReserve:   new(big.Int).Set(e.distributionReserve),
		TokensConfirmed:       e.tokensConfirmed,
		ConfirmedToken:        e.confirmedToken,
		ExpectingRefund:       e.expectRefund,
		RefundSender:          e.refundSender,
		TotalRefunded:         new(big.Int).Set(e.totalRefunded),
	}
	for _, addr := range e.table.order {
		p := e.table.entries[addr]
		snap.Participants = append(snap.Participants, ParticipantSnapshot{
			Address:       addr,
			Contribution:  new(big.Int).Set(p.Contribution),
			Remaining:     new(big.Int).Set(p.Remaining),
			Whitelisted:   p.Whitelisted,
			Exists:        p.Exists,
			GasOwed:       e.gasOwed[addr],
			RefundClaimed: cloneOrZero(e.refundClaimed[addr]),
		})
	}
	tokens := make([]common.Address, 0, len(e.registeredTokens))
	for token := range e.registeredTokens {
		tokens = append(tokens, token)
	}
	sort.Slice(tokens, func(i, j int) bool {
		return bytes.Compare(tokens[i][:], tokens[j][:]) < 0
	})
	for _, token := range tokens {
		ts := TokenSnapshot{Token: token, Sent: cloneOrZero(e.tokensSent[token])}
		paid := e.tokenPaid[token]
		for _, addr := range e.table.order {
			amount, ok := paid[addr]
			if !ok || amount.Sign() == 0 {
				continue
			}
			ts.Paid = append(ts.Paid, TokenPaidSnapshot{Participant: addr, Amount: new(big.Int).Set(amount)})
		}
		snap.Tokens = append(snap.Tokens, ts)
	}
	return snap
}

// checkAmounts rejects snapshots carrying a negative balance, fee rate,
// or limit. Nil fields decode as zero and are fine.
func (snap *Snapshot) checkAmounts() error {
	scalars := map[string]*big.Int{
		"min contribution":         snap.MinContribution,
		"max contribution":         snap.MaxContribution,
		"max pool balance":         snap.MaxPoolBalance,
		"pool balance":             snap.PoolBalance,
		"held balance":             snap.HeldBalance,
		"creator fees":             snap.CreatorFeesPerEther,
		"team fees":                snap.TeamFeesPerEther,
		"withheld fees":            snap.FeesWithheld,
		"gas cost per contributor": snap.GasCostPerContributor,
		"distribution reserve":     snap.DistributionReserve,
		"total refunded":           snap.TotalRefunded,
	}
	for name, v := range scalars {
		if v != nil && v.Sign() < 0 {
			return fmt.Errorf("pool: snapshot carries negative %s", name)
		}
	}
	for _, ps := range snap.Participants {
		if negative(ps.Contribution) || negative(ps.Remaining) || negative(ps.RefundClaimed) {
			return fmt.Errorf("pool: snapshot carries negative amount for participant %s", ps.Address.Hex())
		}
	}
	for _, ts := range snap.Tokens {
		if negative(ts.Sent) {
			return fmt.Errorf("pool: snapshot carries negative sent amount for token %s", ts.Token.Hex())
		}
		for _, tp := range ts.Paid {
			if negative(tp.Amount) {
				return fmt.Errorf("pool: snapshot carries negative paid amount for token %s", ts.Token.Hex())
			}
		}
	}
	return nil
}

func negative(v *big.Int) bool {
	return v != nil && v.Sign() < 0
}

// RestoreSnapshot replaces the engine's ledger state with a previously
// captured snapshot. Deployment-time wiring (creator, admins, services)
// is not part of a snapshot and stays as configured.
func (e *Engine) RestoreSnapshot(snap *Snapshot) error {
	if snap == nil {
		return fmt.Errorf("pool: nil snapshot")
	}
	if !Status(snap.Status).Valid() {
		return fmt.Errorf("pool: snapshot carries invalid status %d", snap.Status)
	}
	if err := snap.checkAmounts(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.status = Status(snap.Status)
	e.restricted = snap.Restricted
	e.limits = Limits{
		MinContribution: cloneOrZero(snap.MinContribution),
		MaxContribution: cloneOrZero(snap.MaxContribution),
		MaxPoolBalance:  cloneOrZero(snap.MaxPoolBalance),
	}
	e.table = NewTable()
	e.gasOwed = make(map[common.Address]bool)
	e.refundClaimed = make(map[common.Address]*big.Int)
	for _, ps := range snap.Participants {
		p := e.table.Ensure(ps.Address)
		p.Contribution = cloneOrZero(ps.Contribution)
		p.Remaining = cloneOrZero(ps.Remaining)
		p.Whitelisted = ps.Whitelisted
		p.Exists = ps.Exists
		if ps.GasOwed {
			e.gasOwed[ps.Address] = true
		}
		if ps.RefundClaimed != nil && ps.RefundClaimed.Sign() > 0 {
			e.refundClaimed[ps.Address] = new(big.Int).Set(ps.RefundClaimed)
		}
	}
	e.poolBalance = cloneOrZero(snap.PoolBalance)
	e.totalContributors = int(snap.TotalContributors)
	e.heldBalance = cloneOrZero(snap.HeldBalance)
	e.creatorFeesPerEther = cloneOrZero(snap.CreatorFeesPerEther)
	e.teamFeesPerEther = cloneOrZero(snap.TeamFeesPerEther)
	e.feesWithheld = cloneOrZero(snap.FeesWithheld)
	e.totalTokenDrops = snap.TotalTokenDrops
	e.gasCostPerContributor = cloneOrZero(snap.GasCostPerContributor)
	e.contributorsAtPayout = int(snap.ContributorsAtPayout)
	e.reservePrepaid = snap.ReservePrepaid
	e.distributionReserve = cloneOrZero(snap.DistributionReserve)
	e.tokensConfirmed = snap.TokensConfirmed
	e.confirmedToken = snap.ConfirmedToken
	e.registeredTokens = make(map[common.Address]bool)
	e.tokensSent = make(map[common.Address]*big.Int)
	e.tokenPaid = make(map[common.Address]map[common.Address]*big.Int)
	for _, ts := range snap.Tokens {
		e.registeredTokens[ts.Token] = true
		e.tokensSent[ts.Token] = cloneOrZero(ts.Sent)
		paid := make(map[common.Address]*big.Int, len(ts.Paid))
		for _, tp := range ts.Paid {
			paid[tp.Participant] = cloneOrZero(tp.Amount)
		}
		e.tokenPaid[ts.Token] = paid
	}
	e.expectRefund = snap.ExpectingRefund
	e.refundSender = snap.RefundSender
	e.totalRefunded = cloneOrZero(snap.TotalRefunded)
	return nil
}
