package pool

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"poolbase/core/events"
)

// TokenShare computes the proportional claim on totalAsset for one
// contribution. Fee netting and the per-contributor cost are floored on
// both sides of the division with the same rule, so summed shares can
// never exceed totalAsset.
func TokenShare(contribution, poolBalance, feesPerEther, costPerContributor *big.Int, contributors int, totalAsset *big.Int) *big.Int {
	if contribution.Sign() == 0 || poolBalance.Sign() == 0 || totalAsset.Sign() == 0 {
		return big.NewInt(0)
	}
	num := netOfFees(contribution, feesPerEther)
	num.Sub(num, costPerContributor)
	if num.Sign() <= 0 {
		return big.NewInt(0)
	}
	den := netOfFees(poolBalance, feesPerEther)
	den.Sub(den, new(big.Int).Mul(costPerContributor, big.NewInt(int64(contributors))))
	if den.Sign() <= 0 {
		return big.NewInt(0)
	}
	share := new(big.Int).Mul(num, totalAsset)
	return share.Div(share, den)
}

// netOfFees deducts the per-ether fee from x, rounding the fee down.
func netOfFees(x, feesPerEther *big.Int) *big.Int {
	fee := new(big.Int).Mul(x, feesPerEther)
	fee.Div(fee, WeiPerEther)
	return new(big.Int).Sub(x, fee)
}

// TransferResult reports the outcome of one recipient in a batch payout.
// Batch operations never abort on a single recipient: a failed transfer
// is recorded here and the batch carries on.
type TransferResult struct {
	Participant common.Address
	Tokens      *big.Int
	Ether       *big.Int
	Err         error
}

// TransferTokensToAll distributes the given token to every participant.
// The recipient set is resolved under the same lock as the batch, so a
// concurrent registration cannot slip between snapshot and payout.
func (e *Engine) TransferTokensToAll(caller, token common.Address) ([]TransferResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.transferTokensLocked(caller, token, e.table.Addresses())
}

// TransferTokensTo pays each named recipient the delta between their
// cumulative token share and what they have already received, flushing
// any remaining ether balance alongside. Repeat or overlapping calls are
// harmless: an already-paid recipient's delta is zero.
func (e *Engine) TransferTokensTo(caller, token common.Address, recipients []common.Address) ([]TransferResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.transferTokensLocked(caller, token, recipients)
}

func (e *Engine) transferTokensLocked(caller, token common.Address, recipients []common.Address) ([]TransferResult, error) {
	if e.status != StatusPaid && e.status != StatusRefunding {
		return nil, fmt.Errorf("%w: pool is %s", ErrWrongState, e.status)
	}
	if !e.tokensConfirmed {
		return nil, fmt.Errorf("%w: tokens not confirmed", ErrWrongState)
	}
	if !e.registeredTokens[token] {
		return nil, fmt.Errorf("%w: token not registered for distribution", ErrWrongState)
	}
	if e.tokens == nil {
		return nil, fmt.Errorf("pool: token caller not configured")
	}
	balance, err := e.tokens.BalanceOf(token, e.address)
	if err != nil {
		return nil, fmt.Errorf("pool: token balance query: %w", err)
	}
	sent := e.tokensSent[token]
	if sent == nil {
		sent = big.NewInt(0)
		e.tokensSent[token] = sent
	}
	totalReceived := new(big.Int).Add(sent, balance)

	paid := e.tokenPaid[token]
	if paid == nil {
		paid = make(map[common.Address]*big.Int)
		e.tokenPaid[token] = paid
	}

	results := make([]TransferResult, 0, len(recipients))
	for _, addr := range recipients {
		res := TransferResult{Participant: addr, Tokens: big.NewInt(0), Ether: big.NewInt(0)}
		p, ok := e.table.Get(addr)
		if !ok {
			results = append(results, res)
			continue
		}
		share := TokenShare(p.Contribution, e.poolBalance, e.totalFeesPerEther(),
			e.gasCostPerContributor, e.contributorsAtPayout, totalReceived)
		already := paid[addr]
		if already == nil {
			already = big.NewInt(0)
		}
		delta := new(big.Int).Sub(share, already)
		if delta.Sign() > 0 {
			ok, err := e.tokens.Transfer(token, addr, delta)
			if err != nil || !ok {
				res.Err = fmt.Errorf("pool: token transfer refused")
				if err != nil {
					res.Err = fmt.Errorf("pool: token transfer: %w", err)
				}
				results = append(results, res)
				continue
			}
			paid[addr] = share
			sent.Add(sent, delta)
			res.Tokens = delta
		}
		if p.Remaining.Sign() > 0 {
			flush := new(big.Int).Set(p.Remaining)
			p.Remaining.SetInt64(0)
			if err := e.payOut(addr, flush); err != nil {
				p.Remaining.Set(flush)
				res.Err = err
				results = append(results, res)
				continue
			}
			res.Ether = flush
		}
		results = append(results, res)
	}
	e.emit(events.PoolTokensDistributed{Pool: e.address, Token: token, Recipients: len(results)})
	return results, nil
}

// WithdrawAllForMany applies WithdrawAll to every listed address.
// Unknown addresses and zero payouts are skipped, not errors, so the
// caller can split a large recipient set across calls with overlap.
func (e *Engine) WithdrawAllForMany(addrs []common.Address) ([]TransferResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	results := make([]TransferResult, 0, len(addrs))
	for _, addr := range addrs {
		res := TransferResult{Participant: addr, Tokens: big.NewInt(0), Ether: big.NewInt(0)}
		paid, err := e.withdrawAllLocked(addr)
		if err != nil {
			res.Err = err
		} else {
			res.Ether = paid
		}
		results = append(results, res)
	}
	return results, nil
}

// AirdropEther apportions attached value pro rata to the frozen
// contribution snapshot, crediting each contributor's remaining balance.
// Non-admin callers fund the push cost for one drop out of the attached
// value; it is forwarded to gasFeeRecipient.
func (e *Engine) AirdropEther(caller common.Address, value, gasPrice *big.Int, gasFeeRecipient common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireAirdroppable(); err != nil {
		return err
	}
	if gasPrice == nil || gasPrice.Sign() <= 0 {
		return fmt.Errorf("%w: gas price must be positive", ErrLimitExceeded)
	}
	if value == nil || value.Sign() <= 0 {
		return fmt.Errorf("%w: nothing to distribute", ErrLimitExceeded)
	}
	charge := big.NewInt(0)
	if !e.isAdmin(caller) {
		charge = e.pushCost(gasPrice)
		if value.Cmp(charge) <= 0 {
			return fmt.Errorf("%w: value does not cover the distribution cost", ErrLimitExceeded)
		}
	}
	distributable := new(big.Int).Sub(value, charge)
	e.heldBalance.Add(e.heldBalance, value)
	if charge.Sign() > 0 {
		if err := e.payOut(gasFeeRecipient, charge); err != nil {
			e.heldBalance.Sub(e.heldBalance, value)
			return err
		}
	}
	for _, addr := range e.table.order {
		p := e.table.entries[addr]
		if p.Contribution.Sign() == 0 {
			continue
		}
		share := new(big.Int).Mul(p.Contribution, distributable)
		share.Div(share, e.poolBalance)
		p.Remaining.Add(p.Remaining, share)
	}
	e.emit(events.PoolAirdrop{Pool: e.address, Amount: distributable})
	return nil
}

// AirdropTokens registers an additionally received token for
// distribution through TransferTokensTo, reimbursing the push cost the
// same way AirdropEther does.
func (e *Engine) AirdropTokens(caller, token common.Address, value, gasPrice *big.Int, gasFeeRecipient common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireAirdroppable(); err != nil {
		return err
	}
	if gasPrice == nil || gasPrice.Sign() <= 0 {
		return fmt.Errorf("%w: gas price must be positive", ErrLimitExceeded)
	}
	if !e.isAdmin(caller) {
		charge := e.pushCost(gasPrice)
		if value == nil || value.Cmp(charge) < 0 {
			return fmt.Errorf("%w: value does not cover the distribution cost", ErrLimitExceeded)
		}
		e.heldBalance.Add(e.heldBalance, value)
		if err := e.payOut(gasFeeRecipient, charge); err != nil {
			e.heldBalance.Sub(e.heldBalance, value)
			return err
		}
	} else if value != nil && value.Sign() > 0 {
		e.heldBalance.Add(e.heldBalance, value)
	}
	e.registeredTokens[token] = true
	e.emit(events.PoolAirdrop{Pool: e.address, Token: token})
	return nil
}

func (e *Engine) requireAirdroppable() error {
	if e.status != StatusPaid {
		return fmt.Errorf("%w: pool is %s", ErrWrongState, e.status)
	}
	if !e.tokensConfirmed {
		return fmt.Errorf("%w: tokens not confirmed", ErrWrongState)
	}
	return nil
}

// pushCost is the reimbursement for pushing one drop to every
// contributor at the given gas price.
func (e *Engine) pushCost(gasPrice *big.Int) *big.Int {
	cost := new(big.Int).Mul(big.NewInt(gasPerRecipient), gasPrice)
	return cost.Mul(cost, big.NewInt(int64(e.contributorsAtPayout)))
}

// TransferFees forwards any withheld fees to the fee service. Legal only
// once tokens are confirmed; the refund path returns fees to the
// participants instead.
func (e *Engine) TransferFees() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireStatus(StatusPaid); err != nil {
		return err
	}
	if !e.tokensConfirmed {
		return fmt.Errorf("%w: tokens not confirmed", ErrWrongState)
	}
	return e.forwardFeesLocked()
}

// TransferAndDistributeFees forwards fees and asks the service to pay
// the recipient's outstanding balance out.
func (e *Engine) TransferAndDistributeFees() error {
	if err := e.TransferFees(); err != nil && !errors.Is(err, ErrNoFeesDue) {
		return err
	}
	return e.feeService.DistributeFees(e.address)
}

func (e *Engine) forwardFeesLocked() error {
	if e.feesWithheld.Sign() == 0 {
		return ErrNoFeesDue
	}
	amount := new(big.Int).Set(e.feesWithheld)
	if e.heldBalance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: withheld fees exceed held balance", ErrInsufficientFunds)
	}
	e.feesWithheld.SetInt64(0)
	e.heldBalance.Sub(e.heldBalance, amount)
	if _, err := e.feeService.ComputeAndForwardFee(e.address, amount); err != nil {
		e.feesWithheld.Set(amount)
		e.heldBalance.Add(e.heldBalance, amount)
		return fmt.Errorf("pool: fee service: %w", err)
	}
	e.emit(events.PoolFeesForwarded{Pool: e.address, Amount: amount})
	return nil
}

// DiscountFees lowers the fee rates. Only a team member of the fee
// service may grant the discount, only while the pool is Open, and only
// downward.
func (e *Engine) DiscountFees(caller common.Address, newCreatorFee, newTeamFee *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.feeService.IsTeamMember(caller) {
		return fmt.Errorf("%w: fee team only", ErrUnauthorized)
	}
	if err := e.requireStatus(StatusOpen); err != nil {
		return err
	}
	creator := cloneOrZero(newCreatorFee)
	team := cloneOrZero(newTeamFee)
	if creator.Cmp(e.creatorFeesPerEther) > 0 || team.Cmp(e.teamFeesPerEther) > 0 {
		return fmt.Errorf("%w: discount cannot raise fees", ErrInvalidLimits)
	}
	e.creatorFeesPerEther = creator
	e.teamFeesPerEther = team
	e.emit(events.PoolFeesDiscounted{Pool: e.address, CreatorFeesPerEther: creator, TeamFeesPerEther: team})
	return nil
}
