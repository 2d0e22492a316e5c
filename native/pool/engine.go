package pool

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"poolbase/core/events"
)

// Distribution-cost accounting. Pushing one payout to one recipient is
// budgeted at a fixed gas allowance, reimbursed at a fixed price.
const gasPerRecipient = 150_000

// autoDistributionGasPrice is the reimbursement price used for reserved
// distribution costs: 40 gwei.
var autoDistributionGasPrice = new(big.Int).Mul(big.NewInt(40), big.NewInt(1_000_000_000))

// maxCreatorFeePerEther caps the configurable creator fee below 50%.
var maxCreatorFeePerEther = new(big.Int).Div(WeiPerEther, big.NewInt(2))

// MaxTokenDrops bounds how many distinct distribution rounds the
// reimbursement accounting supports.
const MaxTokenDrops = 10

// EtherSender moves ether out of the pool. Implementations are expected
// to either complete the transfer or report an error; the engine treats a
// failed send as fatal to the operation and rolls its bookkeeping back.
type EtherSender interface {
	SendEther(to common.Address, amount *big.Int) error
}

// TokenCaller is the external token primitive: balance queries against
// the pool's own address and transfers of previously received tokens.
// A false result from Transfer means the recipient rejected the tokens;
// batch distribution skips such recipients and carries on.
type TokenCaller interface {
	BalanceOf(token, holder common.Address) (*big.Int, error)
	Transfer(token, to common.Address, amount *big.Int) (bool, error)
}

// FeeService is the external fee computation and distribution
// collaborator. Register fixes the team rate for the pool and returns
// it; ComputeAndForwardFee receives withheld fees and returns the amount
// retained.
type FeeService interface {
	Register(pool common.Address, creatorFeesPerEther *big.Int, recipient common.Address) (*big.Int, error)
	ComputeAndForwardFee(pool common.Address, amount *big.Int) (*big.Int, error)
	DistributeFees(pool common.Address) error
	IsTeamMember(addr common.Address) bool
}

// Config fixes a pool's deployment-time parameters. All of them are
// immutable after construction except the limits, whitelist, and token
// drop count, which have their own guarded setters.
type Config struct {
	// Address is the pool's own vault address, used for token balance
	// queries.
	Address common.Address
	Creator common.Address
	Admins  []common.Address

	FeeService          FeeService
	Ether               EtherSender
	Tokens              TokenCaller
	CreatorFeesPerEther *big.Int

	Limits     Limits
	Restricted bool

	TotalTokenDrops        uint8
	AutoDistributionWallet common.Address
}

// Engine owns the contribution ledger and its lifecycle. Every exported
// method is one atomic call: it locks the ledger, validates fully,
// mutates, and performs outbound transfers only after bookkeeping is
// complete. A failing call leaves the ledger unchanged.
type Engine struct {
	mu sync.Mutex

	address common.Address
	creator common.Address
	admins  map[common.Address]bool

	feeService FeeService
	ether      EtherSender
	tokens     TokenCaller

	status     Status
	limits     Limits
	restricted bool

	table             *Table
	poolBalance       *big.Int // sum of contributions, the running counter
	totalContributors int
	heldBalance       *big.Int // ether held and not yet forwarded

	creatorFeesPerEther *big.Int
	teamFeesPerEther    *big.Int
	feesWithheld        *big.Int

	totalTokenDrops        uint8
	autoDistributionWallet common.Address

	// Frozen at the Open exit for payout arithmetic.
	gasCostPerContributor  *big.Int
	contributorsAtPayout   int
	gasOwed                map[common.Address]bool
	reservePrepaid         bool
	distributionReserve    *big.Int

	tokensConfirmed  bool
	confirmedToken   common.Address
	registeredTokens map[common.Address]bool
	tokensSent       map[common.Address]*big.Int                    // per token
	tokenPaid        map[common.Address]map[common.Address]*big.Int // token -> participant

	refundSender  common.Address
	expectRefund  bool
	totalRefunded *big.Int
	refundClaimed map[common.Address]*big.Int

	emitter events.Emitter
}

// NewEngine validates the configuration, registers the pool with the fee
// service, and returns an Open pool.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Ether == nil {
		return nil, fmt.Errorf("pool: ether sender not configured")
	}
	if cfg.FeeService == nil {
		return nil, fmt.Errorf("pool: fee service not configured")
	}
	if cfg.TotalTokenDrops > MaxTokenDrops {
		return nil, fmt.Errorf("%w: token drops above %d", ErrInvalidLimits, MaxTokenDrops)
	}
	limits := cfg.Limits.Clone()
	if err := limits.Validate(); err != nil {
		return nil, err
	}
	if err := validateDropFloor(limits.MinContribution, cfg.TotalTokenDrops); err != nil {
		return nil, err
	}
	creatorFee := cloneOrZero(cfg.CreatorFeesPerEther)
	if creatorFee.Sign() < 0 || creatorFee.Cmp(maxCreatorFeePerEther) >= 0 {
		return nil, fmt.Errorf("%w: creator fee must be below half an ether per ether", ErrInvalidLimits)
	}
	teamFee, err := cfg.FeeService.Register(cfg.Address, creatorFee, cfg.Creator)
	if err != nil {
		return nil, fmt.Errorf("pool: fee service registration: %w", err)
	}

	e := &Engine{
		address:                cfg.Address,
		creator:                cfg.Creator,
		admins:                 make(map[common.Address]bool),
		feeService:             cfg.FeeService,
		ether:                  cfg.Ether,
		tokens:                 cfg.Tokens,
		status:                 StatusOpen,
		limits:                 limits,
		restricted:             cfg.Restricted,
		table:                  NewTable(),
		poolBalance:            big.NewInt(0),
		heldBalance:            big.NewInt(0),
		creatorFeesPerEther:    creatorFee,
		teamFeesPerEther:       cloneOrZero(teamFee),
		feesWithheld:           big.NewInt(0),
		totalTokenDrops:        cfg.TotalTokenDrops,
		autoDistributionWallet: cfg.AutoDistributionWallet,
		gasCostPerContributor:  big.NewInt(0),
		gasOwed:                make(map[common.Address]bool),
		distributionReserve:    big.NewInt(0),
		registeredTokens:       make(map[common.Address]bool),
		tokensSent:             make(map[common.Address]*big.Int),
		tokenPaid:              make(map[common.Address]map[common.Address]*big.Int),
		totalRefunded:          big.NewInt(0),
		refundClaimed:          make(map[common.Address]*big.Int),
		emitter:                events.NoopEmitter{},
	}
	e.admins[cfg.Creator] = true
	creatorEntry := e.table.Ensure(cfg.Creator)
	creatorEntry.Whitelisted = true
	for _, admin := range cfg.Admins {
		e.admins[admin] = true
		entry := e.table.Ensure(admin)
		entry.Whitelisted = true
	}
	return e, nil
}

// SetEmitter configures the event emitter. Passing nil resets it to a
// no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(evt events.Event) {
	if e.emitter != nil {
		e.emitter.Emit(evt)
	}
}

func (e *Engine) isAdmin(addr common.Address) bool { return e.admins[addr] }

func (e *Engine) requireCreator(caller common.Address) error {
	if caller != e.creator {
		return fmt.Errorf("%w: creator only", ErrUnauthorized)
	}
	return nil
}

func (e *Engine) requireAdmin(caller common.Address) error {
	if !e.isAdmin(caller) {
		return fmt.Errorf("%w: admin only", ErrUnauthorized)
	}
	return nil
}

func (e *Engine) requireStatus(want Status) error {
	if e.status != want {
		return fmt.Errorf("%w: pool is %s", ErrWrongState, e.status)
	}
	return nil
}

func validateDropFloor(min *big.Int, drops uint8) error {
	if drops == 0 {
		return nil
	}
	floor := new(big.Int).Mul(perContributorCost(drops), big.NewInt(2))
	if cloneOrZero(min).Cmp(floor) < 0 {
		return fmt.Errorf("%w: min contribution must cover twice the distribution cost", ErrInvalidLimits)
	}
	return nil
}

// perContributorCost is the reserved reimbursement for pushing payouts
// to one contributor across the given number of drops.
func perContributorCost(drops uint8) *big.Int {
	cost := new(big.Int).Mul(big.NewInt(gasPerRecipient), autoDistributionGasPrice)
	return cost.Mul(cost, big.NewInt(int64(drops)))
}

// payOut decrements the held balance and performs the transfer. Callers
// must have finished their bookkeeping first and roll it back if payOut
// reports an error.
func (e *Engine) payOut(to common.Address, amount *big.Int) error {
	if amount.Sign() == 0 {
		return nil
	}
	if e.heldBalance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: need %s, hold %s", ErrInsufficientFunds, amount, e.heldBalance)
	}
	if err := e.ether.SendEther(to, amount); err != nil {
		return fmt.Errorf("pool: ether transfer: %w", err)
	}
	e.heldBalance.Sub(e.heldBalance, amount)
	return nil
}

// Deposit credits value from the sender. The resulting position must sit
// entirely in contribution: a deposit that would spill into remaining,
// fall below the floor, or breach the whitelist is rejected whole.
func (e *Engine) Deposit(from common.Address, value *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireStatus(StatusOpen); err != nil {
		return err
	}
	if value == nil || value.Sign() <= 0 {
		return fmt.Errorf("%w: deposit must be positive", ErrLimitExceeded)
	}
	p, ok := e.table.Get(from)
	if !ok {
		p = e.table.Ensure(from)
		if !e.restricted {
			p.Whitelisted = true
		}
	}
	total := new(big.Int).Add(p.Total(), value)
	granted := new(big.Int).Sub(e.poolBalance, p.Contribution)
	target := e.contributionTarget(from, p, total, granted)
	if target.Cmp(total) != 0 {
		return fmt.Errorf("%w: deposit does not fit within limits", ErrLimitExceeded)
	}
	if e.limits.MinContribution.Sign() > 0 && target.Cmp(e.limits.MinContribution) < 0 {
		return fmt.Errorf("%w: deposit below min contribution", ErrLimitExceeded)
	}
	e.applyTarget(p, total, target)
	p.Exists = true
	e.heldBalance.Add(e.heldBalance, value)
	e.emit(events.PoolDeposit{Pool: e.address, Participant: from, Amount: cloneOrZero(value)})
	return nil
}

// Withdraw removes amount from the sender's position while the pool is
// Open, draining remaining before contribution. A nonzero contribution
// may not be left below the floor.
func (e *Engine) Withdraw(from common.Address, amount *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireStatus(StatusOpen); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: withdrawal must be positive", ErrLimitExceeded)
	}
	p, ok := e.table.Get(from)
	if !ok || amount.Cmp(p.Total()) > 0 {
		return fmt.Errorf("%w: withdrawal exceeds balance", ErrLimitExceeded)
	}
	fromRemaining := new(big.Int).Set(p.Remaining)
	if fromRemaining.Cmp(amount) > 0 {
		fromRemaining.Set(amount)
	}
	fromContribution := new(big.Int).Sub(amount, fromRemaining)
	newContribution := new(big.Int).Sub(p.Contribution, fromContribution)
	if newContribution.Sign() > 0 && e.limits.MinContribution.Sign() > 0 &&
		newContribution.Cmp(e.limits.MinContribution) < 0 {
		return fmt.Errorf("%w: %s left below floor", ErrWithdrawalBelowFloor, newContribution)
	}

	prev := p.Clone()
	prevPool := new(big.Int).Set(e.poolBalance)
	prevContributors := e.totalContributors
	p.Remaining.Sub(p.Remaining, fromRemaining)
	if fromContribution.Sign() > 0 {
		p.Contribution.Set(newContribution)
		e.poolBalance.Sub(e.poolBalance, fromContribution)
		if newContribution.Sign() == 0 {
			e.totalContributors--
		}
	}
	if err := e.payOut(from, amount); err != nil {
		e.table.entries[from] = prev
		e.poolBalance = prevPool
		e.totalContributors = prevContributors
		return err
	}
	e.emit(events.PoolWithdrawal{Pool: e.address, Participant: from, Amount: cloneOrZero(amount)})
	return nil
}

// WithdrawAll pays out everything the sender is owed in the current
// state: the whole position while Open, the cost-deducted position after
// failure, remaining only while Paid, and remaining plus the accrued
// refund share while Refunding.
func (e *Engine) WithdrawAll(from common.Address) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.withdrawAllLocked(from)
}

func (e *Engine) withdrawAllLocked(from common.Address) (*big.Int, error) {
	p, ok := e.table.Get(from)
	if !ok {
		return big.NewInt(0), nil
	}
	payout := new(big.Int)
	prev := p.Clone()
	prevPool := new(big.Int).Set(e.poolBalance)
	prevContributors := e.totalContributors
	prevReserve := new(big.Int).Set(e.distributionReserve)
	prevClaimed := cloneOrZero(e.refundClaimed[from])
	gasWasOwed := e.gasOwed[from]

	switch e.status {
	case StatusOpen, StatusFailed:
		payout.Add(p.Contribution, p.Remaining)
		if p.Contribution.Sign() > 0 {
			e.poolBalance.Sub(e.poolBalance, p.Contribution)
			e.totalContributors--
		}
		p.Contribution.SetInt64(0)
		p.Remaining.SetInt64(0)
		if e.status == StatusFailed {
			payout = e.deductGasCharge(from, payout)
		}
	case StatusPaid:
		payout.Set(p.Remaining)
		p.Remaining.SetInt64(0)
	case StatusRefunding:
		payout.Set(p.Remaining)
		p.Remaining.SetInt64(0)
		share := e.refundShare(p.Contribution)
		claimed := e.refundClaimed[from]
		if claimed == nil {
			claimed = big.NewInt(0)
		}
		delta := new(big.Int).Sub(share, claimed)
		if delta.Sign() > 0 {
			payout.Add(payout, delta)
			e.refundClaimed[from] = share
		}
		payout = e.deductGasCharge(from, payout)
	default:
		return nil, fmt.Errorf("%w: pool is %s", ErrWrongState, e.status)
	}

	if payout.Sign() == 0 {
		e.gasOwed[from] = gasWasOwed
		return payout, nil
	}
	if err := e.payOut(from, payout); err != nil {
		e.table.entries[from] = prev
		e.poolBalance = prevPool
		e.totalContributors = prevContributors
		e.distributionReserve = prevReserve
		e.refundClaimed[from] = prevClaimed
		e.gasOwed[from] = gasWasOwed
		return nil, err
	}
	e.emit(events.PoolWithdrawal{Pool: e.address, Participant: from, Amount: cloneOrZero(payout)})
	return payout, nil
}

// deductGasCharge applies the one-time per-contributor distribution
// charge to a payout. When the reserve was not prepaid to the
// auto-distribution wallet, the charge accrues to the in-pool reserve.
func (e *Engine) deductGasCharge(from common.Address, payout *big.Int) *big.Int {
	if !e.gasOwed[from] {
		return payout
	}
	e.gasOwed[from] = false
	charge := e.gasCostPerContributor
	if payout.Cmp(charge) <= 0 {
		if !e.reservePrepaid {
			e.distributionReserve.Add(e.distributionReserve, payout)
		}
		return big.NewInt(0)
	}
	if !e.reservePrepaid {
		e.distributionReserve.Add(e.distributionReserve, charge)
	}
	return new(big.Int).Sub(payout, charge)
}

// refundShare is the pro-rata claim on everything the refund sender has
// returned so far. It is deliberately not capped at the original
// contribution: a refund larger than the forwarded balance is split in
// the same proportions.
func (e *Engine) refundShare(contribution *big.Int) *big.Int {
	if contribution.Sign() == 0 || e.poolBalance.Sign() == 0 || e.totalRefunded.Sign() == 0 {
		return big.NewInt(0)
	}
	share := new(big.Int).Mul(contribution, e.totalRefunded)
	return share.Div(share, e.poolBalance)
}

// Fail freezes the pool and enables cost-deducted refund withdrawals.
func (e *Engine) Fail(caller common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireCreator(caller); err != nil {
		return err
	}
	if err := e.requireStatus(StatusOpen); err != nil {
		return err
	}
	plan := e.planDistributionReserve()
	prepaid := false
	if plan.prepay.Sign() > 0 {
		if err := e.payOut(e.autoDistributionWallet, plan.prepay); err != nil {
			return err
		}
		prepaid = true
	}
	e.commitDistributionReserve(plan, prepaid)
	e.status = StatusFailed
	e.emit(events.PoolStatusChange{Pool: e.address, Status: e.status.String()})
	return nil
}

// reservePlan stages the payout-time reimbursement bookkeeping so the
// caller can run its outbound transfers before anything is committed.
type reservePlan struct {
	contributors int
	cost         *big.Int
	owed         []common.Address
	reserve      *big.Int // cost × contributors, withheld from the payout
	prepay       *big.Int // reserve again when a wallet will prepay it, else zero
}

// planDistributionReserve freezes the payout snapshot and carves out the
// per-contributor reimbursement when token drops are configured. The
// reservation is empty with zero contributors.
func (e *Engine) planDistributionReserve() reservePlan {
	plan := reservePlan{
		contributors: e.totalContributors,
		cost:         big.NewInt(0),
		reserve:      big.NewInt(0),
		prepay:       big.NewInt(0),
	}
	if e.totalTokenDrops == 0 || plan.contributors == 0 {
		return plan
	}
	plan.cost = perContributorCost(e.totalTokenDrops)
	plan.reserve = new(big.Int).Mul(plan.cost, big.NewInt(int64(plan.contributors)))
	for _, addr := range e.table.order {
		if e.table.entries[addr].Contribution.Sign() > 0 {
			plan.owed = append(plan.owed, addr)
		}
	}
	if e.autoDistributionWallet != (common.Address{}) {
		plan.prepay = plan.reserve
	}
	return plan
}

func (e *Engine) commitDistributionReserve(plan reservePlan, prepaid bool) {
	e.contributorsAtPayout = plan.contributors
	e.gasCostPerContributor = plan.cost
	for _, addr := range plan.owed {
		e.gasOwed[addr] = true
	}
	e.reservePrepaid = prepaid
}

// PayToPresale forwards the pool's contribution balance, net of withheld
// fees and the distribution reserve, to the sale contract and moves the
// pool to Paid. The call itself must not carry value.
func (e *Engine) PayToPresale(caller, dest common.Address, minPoolBalance *big.Int, value *big.Int, data []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireCreator(caller); err != nil {
		return err
	}
	if err := e.requireStatus(StatusOpen); err != nil {
		return err
	}
	if value != nil && value.Sign() != 0 {
		return ErrNoValueAllowed
	}
	if minPoolBalance != nil && minPoolBalance.Sign() > 0 && e.poolBalance.Cmp(minPoolBalance) < 0 {
		return fmt.Errorf("%w: pool balance below configured minimum", ErrLimitExceeded)
	}
	fees := new(big.Int).Mul(e.poolBalance, e.totalFeesPerEther())
	fees.Div(fees, WeiPerEther)
	plan := e.planDistributionReserve()
	forward := new(big.Int).Sub(e.poolBalance, fees)
	forward.Sub(forward, plan.reserve)
	if forward.Sign() < 0 {
		return fmt.Errorf("%w: fees and reserve exceed pool balance", ErrInsufficientFunds)
	}
	outbound := new(big.Int).Add(forward, plan.prepay)
	if e.heldBalance.Cmp(outbound) < 0 {
		return fmt.Errorf("%w: need %s, hold %s", ErrInsufficientFunds, outbound, e.heldBalance)
	}
	// The forward transfer runs before any bookkeeping: a failed send
	// leaves the pool Open and untouched.
	if err := e.payOut(dest, forward); err != nil {
		return err
	}
	prepaid := false
	if plan.prepay.Sign() > 0 {
		// A failed prepay is not fatal: the reserve stays in the held
		// balance and is deducted lazily at withdrawal instead.
		if err := e.payOut(e.autoDistributionWallet, plan.prepay); err == nil {
			prepaid = true
		}
	}
	e.commitDistributionReserve(plan, prepaid)
	e.feesWithheld = fees
	e.status = StatusPaid
	e.emit(events.PoolStatusChange{Pool: e.address, Status: e.status.String()})
	e.emit(events.PoolPaidOut{Pool: e.address, Destination: dest, Amount: forward})
	return nil
}

// ExpectRefund arms the refund path: only value sent by the recorded
// sender will be accepted from now on. On the Paid to Refunding
// transition each participant's withheld fee share is returned to their
// remaining balance. Repeat calls re-point the expected sender.
func (e *Engine) ExpectRefund(caller, sender common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireCreator(caller); err != nil {
		return err
	}
	if e.status != StatusPaid && e.status != StatusRefunding {
		return fmt.Errorf("%w: pool is %s", ErrWrongState, e.status)
	}
	if e.tokensConfirmed {
		return fmt.Errorf("%w: tokens already confirmed", ErrWrongState)
	}
	if e.status == StatusPaid {
		e.returnFeeShares()
		e.status = StatusRefunding
		e.emit(events.PoolStatusChange{Pool: e.address, Status: e.status.String()})
	}
	e.refundSender = sender
	e.expectRefund = true
	return nil
}

func (e *Engine) returnFeeShares() {
	rate := e.totalFeesPerEther()
	if rate.Sign() == 0 {
		return
	}
	for _, addr := range e.table.order {
		p := e.table.entries[addr]
		if p.Contribution.Sign() == 0 {
			continue
		}
		share := new(big.Int).Mul(p.Contribution, rate)
		share.Div(share, WeiPerEther)
		p.Remaining.Add(p.Remaining, share)
		e.feesWithheld.Sub(e.feesWithheld, share)
	}
	if e.feesWithheld.Sign() < 0 {
		e.feesWithheld.SetInt64(0)
	}
}

// RefundReceived accounts value returned by the sale contract. Only the
// sender recorded by ExpectRefund is accepted.
func (e *Engine) RefundReceived(from common.Address, value *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireStatus(StatusRefunding); err != nil {
		return err
	}
	if from != e.refundSender {
		return ErrUnexpectedRefundSender
	}
	if value == nil || value.Sign() <= 0 {
		return fmt.Errorf("%w: refund must be positive", ErrLimitExceeded)
	}
	e.totalRefunded.Add(e.totalRefunded, value)
	e.heldBalance.Add(e.heldBalance, value)
	e.emit(events.PoolRefundReceived{Pool: e.address, Sender: from, Amount: cloneOrZero(value)})
	return nil
}

// ConfirmTokens locks the distribution token, forwards the withheld fees
// to the fee service, and optionally returns surplus ether to the
// creator. Callable exactly once per pool lifetime.
func (e *Engine) ConfirmTokens(caller, token common.Address, refundRemainingEther bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireCreator(caller); err != nil {
		return err
	}
	if err := e.requireStatus(StatusPaid); err != nil {
		return err
	}
	if e.tokensConfirmed {
		return ErrAlreadyConfirmed
	}
	if e.tokens == nil {
		return fmt.Errorf("pool: token caller not configured")
	}
	balance, err := e.tokens.BalanceOf(token, e.address)
	if err != nil {
		return fmt.Errorf("pool: token balance query: %w", err)
	}
	if balance == nil || balance.Sign() == 0 {
		return ErrEmptyTokenBalance
	}
	if err := e.forwardFeesLocked(); err != nil && !errors.Is(err, ErrNoFeesDue) {
		return err
	}
	e.tokensConfirmed = true
	e.confirmedToken = token
	e.registeredTokens[token] = true
	if refundRemainingEther {
		if err := e.refundSurplusToCreator(); err != nil {
			return err
		}
	}
	e.emit(events.PoolTokensConfirmed{Pool: e.address, Token: token, Balance: cloneOrZero(balance)})
	return nil
}

// refundSurplusToCreator returns ether above what participants and the
// unclaimed reserve are owed.
func (e *Engine) refundSurplusToCreator() error {
	owed := new(big.Int).Set(e.distributionReserve)
	for _, addr := range e.table.order {
		owed.Add(owed, e.table.entries[addr].Remaining)
	}
	if !e.reservePrepaid {
		for _, owes := range e.gasOwed {
			if owes {
				owed.Add(owed, e.gasCostPerContributor)
			}
		}
	}
	surplus := new(big.Int).Sub(e.heldBalance, owed)
	if surplus.Sign() <= 0 {
		return nil
	}
	return e.payOut(e.creator, surplus)
}

// TokenFallback is the notification hook invoked when tokens arrive. It
// has no ledger effect; distribution math reads live token balances.
func (e *Engine) TokenFallback(token, from common.Address, value *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status != StatusPaid && e.status != StatusRefunding {
		return fmt.Errorf("%w: pool is %s", ErrWrongState, e.status)
	}
	e.emit(events.PoolTokensReceived{Pool: e.address, Token: token, Sender: from, Amount: cloneOrZero(value)})
	return nil
}

// Status returns the pool's lifecycle state.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// PoolContributionBalance returns the running sum of contributions.
func (e *Engine) PoolContributionBalance() *big.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return new(big.Int).Set(e.poolBalance)
}

// TotalContributors returns the count of participants with a nonzero
// contribution.
func (e *Engine) TotalContributors() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.totalContributors
}

// HeldBalance returns the ether currently held by the pool.
func (e *Engine) HeldBalance() *big.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return new(big.Int).Set(e.heldBalance)
}

// ParticipantBalances returns the full-ledger read view as parallel
// arrays in insertion order.
func (e *Engine) ParticipantBalances() Balances {
	e.mu.Lock()
	defer e.mu.Unlock()
	b := Balances{
		Addresses:     e.table.Addresses(),
		Contributions: make([]*big.Int, 0, e.table.Len()),
		Remainings:    make([]*big.Int, 0, e.table.Len()),
		Whitelisted:   make([]bool, 0, e.table.Len()),
		Exists:        make([]bool, 0, e.table.Len()),
	}
	for _, addr := range b.Addresses {
		p := e.table.entries[addr]
		b.Contributions = append(b.Contributions, new(big.Int).Set(p.Contribution))
		b.Remainings = append(b.Remainings, new(big.Int).Set(p.Remaining))
		b.Whitelisted = append(b.Whitelisted, p.Whitelisted)
		b.Exists = append(b.Exists, p.Exists)
	}
	return b
}

func (e *Engine) totalFeesPerEther() *big.Int {
	return new(big.Int).Add(e.creatorFeesPerEther, e.teamFeesPerEther)
}
