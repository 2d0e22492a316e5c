package pool

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"poolbase/core/events"
)

// contributionTarget computes how much of total may sit in contribution
// for addr under the current limits: zero for blacklisted participants,
// otherwise min(total, individual cap, pool headroom) with the floor
// rule applied last. granted is the contribution already allocated to
// the other participants; admins are capped by the pool balance only.
func (e *Engine) contributionTarget(addr common.Address, p *Participant, total, granted *big.Int) *big.Int {
	if !p.Whitelisted {
		return big.NewInt(0)
	}
	target := new(big.Int).Set(total)
	individual := e.limits.MaxContribution
	if e.isAdmin(addr) {
		individual = e.limits.MaxPoolBalance
	}
	if individual.Sign() > 0 && target.Cmp(individual) > 0 {
		target.Set(individual)
	}
	if e.limits.MaxPoolBalance.Sign() > 0 {
		headroom := new(big.Int).Sub(e.limits.MaxPoolBalance, granted)
		if headroom.Sign() < 0 {
			headroom.SetInt64(0)
		}
		if target.Cmp(headroom) > 0 {
			target.Set(headroom)
		}
	}
	if e.limits.MinContribution.Sign() > 0 && target.Cmp(e.limits.MinContribution) < 0 {
		target.SetInt64(0)
	}
	return target
}

// applyTarget moves a participant to the given split, keeping the pool
// counter and contributor count in step.
func (e *Engine) applyTarget(p *Participant, total, target *big.Int) {
	hadContribution := p.Contribution.Sign() > 0
	delta := new(big.Int).Sub(target, p.Contribution)
	e.poolBalance.Add(e.poolBalance, delta)
	p.Contribution = new(big.Int).Set(target)
	p.Remaining = new(big.Int).Sub(total, target)
	hasContribution := p.Contribution.Sign() > 0
	switch {
	case hadContribution && !hasContribution:
		e.totalContributors--
	case !hadContribution && hasContribution:
		e.totalContributors++
	}
}

// rebalanceOne re-partitions one participant under the current limits,
// taking everyone else's standing contribution as given. Running it
// twice with unchanged limits is a no-op.
func (e *Engine) rebalanceOne(addr common.Address) {
	p, ok := e.table.Get(addr)
	if !ok {
		return
	}
	total := p.Total()
	granted := new(big.Int).Sub(e.poolBalance, p.Contribution)
	target := e.contributionTarget(addr, p, total, granted)
	if target.Cmp(p.Contribution) == 0 {
		return
	}
	e.applyTarget(p, total, target)
	e.emit(events.PoolRebalanced{Pool: e.address, Participant: addr,
		Contribution: new(big.Int).Set(p.Contribution), Remaining: new(big.Int).Set(p.Remaining)})
}

// rebalanceAll rebuilds the allocation from scratch in insertion order.
// Each participant sees only the headroom left by earlier registrants,
// so when the pool cap tightens, the first registered keep their
// contribution and the last absorb the deficit.
func (e *Engine) rebalanceAll() {
	granted := big.NewInt(0)
	for _, addr := range e.table.order {
		p := e.table.entries[addr]
		total := p.Total()
		target := e.contributionTarget(addr, p, total, granted)
		if target.Cmp(p.Contribution) != 0 {
			e.applyTarget(p, total, target)
			e.emit(events.PoolRebalanced{Pool: e.address, Participant: addr,
				Contribution: new(big.Int).Set(p.Contribution), Remaining: new(big.Int).Set(p.Remaining)})
		}
		granted.Add(granted, p.Contribution)
	}
}

// SetContributionSettings validates and applies new limits. A tightening
// change (raised floor, lowered caps) re-settles every participant so the
// invariants hold immediately; a loosening change only promotes the
// addresses the caller names, leaving everyone else's split alone.
func (e *Engine) SetContributionSettings(caller common.Address, limits Limits, targets []common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	if err := e.requireStatus(StatusOpen); err != nil {
		return err
	}
	next := limits.Clone()
	if err := next.Validate(); err != nil {
		return err
	}
	if err := validateDropFloor(next.MinContribution, e.totalTokenDrops); err != nil {
		return err
	}
	tightened := next.MinContribution.Cmp(e.limits.MinContribution) > 0 ||
		capLowered(e.limits.MaxContribution, next.MaxContribution) ||
		capLowered(e.limits.MaxPoolBalance, next.MaxPoolBalance)
	e.limits = next
	if tightened {
		e.rebalanceAll()
		return nil
	}
	for _, addr := range targets {
		e.rebalanceOne(addr)
	}
	return nil
}

// capLowered reports whether a max-style limit became stricter, treating
// zero as unlimited.
func capLowered(old, next *big.Int) bool {
	if next.Sign() == 0 {
		return false
	}
	if old.Sign() == 0 {
		return true
	}
	return next.Cmp(old) < 0
}

// ModifyWhitelist flags additions and removals. Removals demote the
// whole contribution immediately; additions restore eligibility only.
// Promotion back into contribution takes a deposit or an explicit
// rebalance.
func (e *Engine) ModifyWhitelist(caller common.Address, add, remove []common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	if err := e.requireStatus(StatusOpen); err != nil {
		return err
	}
	for _, addr := range remove {
		p := e.table.Ensure(addr)
		if !p.Whitelisted {
			continue
		}
		p.Whitelisted = false
		e.rebalanceOne(addr)
		e.emit(events.PoolWhitelistChange{Pool: e.address, Participant: addr, Whitelisted: false})
	}
	for _, addr := range add {
		p := e.table.Ensure(addr)
		if p.Whitelisted {
			continue
		}
		p.Whitelisted = true
		e.emit(events.PoolWhitelistChange{Pool: e.address, Participant: addr, Whitelisted: true})
	}
	return nil
}

// RemoveWhitelist disables whitelist enforcement entirely and restores
// every participant's contribution where the limits leave room.
func (e *Engine) RemoveWhitelist(caller common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireCreator(caller); err != nil {
		return err
	}
	if err := e.requireStatus(StatusOpen); err != nil {
		return err
	}
	e.restricted = false
	for _, addr := range e.table.order {
		e.table.entries[addr].Whitelisted = true
	}
	e.rebalanceAll()
	return nil
}

// SetTokenDrops changes the number of distribution rounds the
// reimbursement accounting must support. The contribution floor must
// cover twice the per-contributor cost at the new count.
func (e *Engine) SetTokenDrops(caller common.Address, drops uint8) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireCreator(caller); err != nil {
		return err
	}
	if err := e.requireStatus(StatusOpen); err != nil {
		return err
	}
	if drops > MaxTokenDrops {
		return fmt.Errorf("%w: token drops above %d", ErrInvalidLimits, MaxTokenDrops)
	}
	if err := validateDropFloor(e.limits.MinContribution, drops); err != nil {
		return err
	}
	e.totalTokenDrops = drops
	return nil
}
