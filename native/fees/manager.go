package fees

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrNoTeamMembers     = errors.New("fees: at least one team member required")
	ErrNotTeamMember     = errors.New("fees: caller is not a team member")
	ErrUnknownPool       = errors.New("fees: pool not registered")
	ErrAlreadyRegistered = errors.New("fees: pool already registered")
	ErrFeeTooHigh        = errors.New("fees: creator fee must be below half an ether per ether")
	ErrFeeIncrease       = errors.New("fees: fees may only be lowered")
)

// Default clamp bounds for the team's per-ether cut: half the creator
// fee, floored at 0.005 ether and capped at 0.01 ether.
var (
	DefaultMinTeamFeePerEther = big.NewInt(5_000_000_000_000_000)
	DefaultMaxTeamFeePerEther = big.NewInt(10_000_000_000_000_000)
)

var weiPerEther = big.NewInt(1_000_000_000_000_000_000)

var halfEther = new(big.Int).Div(weiPerEther, big.NewInt(2))

// EtherSender pays ether out of the manager's custody.
type EtherSender interface {
	SendEther(to common.Address, amount *big.Int) error
}

type poolRecord struct {
	numerator   *big.Int // creator fee per ether
	denominator *big.Int // creator plus team fee per ether
	recipient   common.Address
	outstanding *big.Int
}

// Manager is the fee registry and splitter shared by every pool. Each
// registered pool forwards its withheld fees here once; the manager
// splits them between the pool's recipient and the team pot and tracks
// what each party may still claim.
type Manager struct {
	mu sync.Mutex

	ether EtherSender

	team       []common.Address
	teamSet    map[common.Address]bool
	minTeamFee *big.Int
	maxTeamFee *big.Int

	pools map[common.Address]*poolRecord

	teamTotal   *big.Int // cumulative team earnings
	teamClaimed map[common.Address]*big.Int
}

// NewManager builds a manager for the given team. Duplicate members are
// collapsed. Nil clamp bounds fall back to the defaults.
func NewManager(ether EtherSender, team []common.Address, minTeamFee, maxTeamFee *big.Int) (*Manager, error) {
	if ether == nil {
		return nil, fmt.Errorf("fees: ether sender not configured")
	}
	m := &Manager{
		ether:       ether,
		teamSet:     make(map[common.Address]bool),
		minTeamFee:  DefaultMinTeamFeePerEther,
		maxTeamFee:  DefaultMaxTeamFeePerEther,
		pools:       make(map[common.Address]*poolRecord),
		teamTotal:   big.NewInt(0),
		teamClaimed: make(map[common.Address]*big.Int),
	}
	for _, member := range team {
		if m.teamSet[member] {
			continue
		}
		m.teamSet[member] = true
		m.team = append(m.team, member)
	}
	if len(m.team) == 0 {
		return nil, ErrNoTeamMembers
	}
	if minTeamFee != nil {
		m.minTeamFee = new(big.Int).Set(minTeamFee)
	}
	if maxTeamFee != nil {
		m.maxTeamFee = new(big.Int).Set(maxTeamFee)
	}
	if m.minTeamFee.Cmp(m.maxTeamFee) > 0 {
		return nil, fmt.Errorf("fees: team fee floor above cap")
	}
	return m, nil
}

// teamFeeFor clamps half the creator fee into the configured band.
func (m *Manager) teamFeeFor(creatorFeesPerEther *big.Int) *big.Int {
	fee := new(big.Int).Div(creatorFeesPerEther, big.NewInt(2))
	if fee.Cmp(m.minTeamFee) < 0 {
		return new(big.Int).Set(m.minTeamFee)
	}
	if fee.Cmp(m.maxTeamFee) > 0 {
		return new(big.Int).Set(m.maxTeamFee)
	}
	return fee
}

// Register records a pool and fixes its fee split. It returns the team's
// per-ether cut. A pool registers exactly once.
func (m *Manager) Register(pool common.Address, creatorFeesPerEther *big.Int, recipient common.Address) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pools[pool]; ok {
		return nil, ErrAlreadyRegistered
	}
	creatorFee := big.NewInt(0)
	if creatorFeesPerEther != nil {
		creatorFee = new(big.Int).Set(creatorFeesPerEther)
	}
	if creatorFee.Sign() < 0 || creatorFee.Cmp(halfEther) >= 0 {
		return nil, ErrFeeTooHigh
	}
	teamFee := m.teamFeeFor(creatorFee)
	m.pools[pool] = &poolRecord{
		numerator:   creatorFee,
		denominator: new(big.Int).Add(creatorFee, teamFee),
		recipient:   recipient,
		outstanding: big.NewInt(0),
	}
	return teamFee, nil
}

// ComputeAndForwardFee splits an incoming fee amount between the pool's
// recipient and the team pot. The whole amount stays in the manager's
// custody until claimed.
func (m *Manager) ComputeAndForwardFee(pool common.Address, amount *big.Int) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.pools[pool]
	if !ok {
		return nil, ErrUnknownPool
	}
	if amount == nil || amount.Sign() <= 0 {
		return big.NewInt(0), nil
	}
	share := big.NewInt(0)
	if rec.denominator.Sign() > 0 {
		share.Mul(amount, rec.numerator)
		share.Div(share, rec.denominator)
	}
	rec.outstanding.Add(rec.outstanding, share)
	m.teamTotal.Add(m.teamTotal, new(big.Int).Sub(amount, share))
	return new(big.Int).Set(amount), nil
}

// DistributeFees pays out the recipient's outstanding balance. A zero
// balance is not an error; batch callers sweep many pools at once.
func (m *Manager) DistributeFees(pool common.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.pools[pool]
	if !ok {
		return ErrUnknownPool
	}
	if rec.outstanding.Sign() == 0 {
		return nil
	}
	amount := new(big.Int).Set(rec.outstanding)
	rec.outstanding.SetInt64(0)
	if err := m.ether.SendEther(rec.recipient, amount); err != nil {
		rec.outstanding.Set(amount)
		return fmt.Errorf("fees: recipient payout: %w", err)
	}
	return nil
}

// DiscountFees lowers a pool's split going forward. Team members only,
// and only downward on both legs.
func (m *Manager) DiscountFees(caller, pool common.Address, newCreatorFee, newTeamFee *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.teamSet[caller] {
		return ErrNotTeamMember
	}
	rec, ok := m.pools[pool]
	if !ok {
		return ErrUnknownPool
	}
	creator := big.NewInt(0)
	if newCreatorFee != nil {
		creator = new(big.Int).Set(newCreatorFee)
	}
	team := big.NewInt(0)
	if newTeamFee != nil {
		team = new(big.Int).Set(newTeamFee)
	}
	oldTeam := new(big.Int).Sub(rec.denominator, rec.numerator)
	if creator.Cmp(rec.numerator) > 0 || team.Cmp(oldTeam) > 0 {
		return ErrFeeIncrease
	}
	rec.numerator = creator
	rec.denominator = new(big.Int).Add(creator, team)
	return nil
}

// IsTeamMember reports team membership.
func (m *Manager) IsTeamMember(addr common.Address) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.teamSet[addr]
}

// memberShare is the member's unclaimed slice of the cumulative team
// earnings under an equal split.
func (m *Manager) memberShare(member common.Address) *big.Int {
	share := new(big.Int).Div(m.teamTotal, big.NewInt(int64(len(m.team))))
	claimed := m.teamClaimed[member]
	if claimed == nil {
		claimed = big.NewInt(0)
	}
	due := new(big.Int).Sub(share, claimed)
	if due.Sign() < 0 {
		due.SetInt64(0)
	}
	return due
}

// ClaimMyTeamFees pays the caller their unclaimed share of the team pot.
func (m *Manager) ClaimMyTeamFees(caller common.Address) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.teamSet[caller] {
		return nil, ErrNotTeamMember
	}
	return m.claimLocked(caller)
}

func (m *Manager) claimLocked(member common.Address) (*big.Int, error) {
	due := m.memberShare(member)
	if due.Sign() == 0 {
		return big.NewInt(0), nil
	}
	claimed := m.teamClaimed[member]
	if claimed == nil {
		claimed = big.NewInt(0)
		m.teamClaimed[member] = claimed
	}
	claimed.Add(claimed, due)
	if err := m.ether.SendEther(member, due); err != nil {
		claimed.Sub(claimed, due)
		return nil, fmt.Errorf("fees: team payout: %w", err)
	}
	return due, nil
}

// DistributeTeamFees sweeps every member's unclaimed share. Any team
// member may trigger it. A member whose payout fails keeps their claim;
// the sweep carries on.
func (m *Manager) DistributeTeamFees(caller common.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.teamSet[caller] {
		return ErrNotTeamMember
	}
	var firstErr error
	for _, member := range m.team {
		if _, err := m.claimLocked(member); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
