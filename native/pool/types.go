package pool

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Status represents the lifecycle states of a contribution pool. The
// lifecycle is one-way: Open moves to Failed or Paid, Paid moves to
// Refunding, and nothing ever returns to Open.
type Status uint8

const (
	StatusOpen Status = iota
	StatusFailed
	StatusPaid
	StatusRefunding
)

// Valid reports whether the status value is within the supported range.
func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusFailed, StatusPaid, StatusRefunding:
		return true
	default:
		return false
	}
}

func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusFailed:
		return "failed"
	case StatusPaid:
		return "paid"
	case StatusRefunding:
		return "refunding"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// Participant holds the per-address ledger entry. Contribution counts
// toward the pool balance and earns payout shares; Remaining is held for
// the participant but excluded from the pool balance. Records are never
// deleted, only zeroed.
type Participant struct {
	Contribution *big.Int
	Remaining    *big.Int
	Whitelisted  bool
	Exists       bool
}

func newParticipant() *Participant {
	return &Participant{Contribution: big.NewInt(0), Remaining: big.NewInt(0)}
}

// Total returns contribution plus remaining.
func (p *Participant) Total() *big.Int {
	if p == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Add(p.Contribution, p.Remaining)
}

// Clone returns a deep copy so callers can mutate the copy without
// affecting the stored entry.
func (p *Participant) Clone() *Participant {
	if p == nil {
		return nil
	}
	return &Participant{
		Contribution: new(big.Int).Set(p.Contribution),
		Remaining:    new(big.Int).Set(p.Remaining),
		Whitelisted:  p.Whitelisted,
		Exists:       p.Exists,
	}
}

// Table is the participant ledger: a map keyed by address plus an
// insertion-ordered index. The order is the tie-break for greedy
// rebalancing, so it must be stable.
type Table struct {
	order   []common.Address
	entries map[common.Address]*Participant
}

// NewTable returns an empty participant table.
func NewTable() *Table {
	return &Table{entries: make(map[common.Address]*Participant)}
}

// Get returns the entry for addr, if any.
func (t *Table) Get(addr common.Address) (*Participant, bool) {
	p, ok := t.entries[addr]
	return p, ok
}

// Ensure returns the entry for addr, creating a zeroed one on first use.
func (t *Table) Ensure(addr common.Address) *Participant {
	if p, ok := t.entries[addr]; ok {
		return p
	}
	p := newParticipant()
	t.entries[addr] = p
	t.order = append(t.order, addr)
	return p
}

// Addresses returns the participant addresses in insertion order.
func (t *Table) Addresses() []common.Address {
	return append([]common.Address(nil), t.order...)
}

// Len returns the number of entries in the table.
func (t *Table) Len() int { return len(t.order) }

// Limits carries the contribution constraints of a pool. A zero value
// for MaxContribution or MaxPoolBalance means unlimited; MinContribution
// zero means no floor.
type Limits struct {
	MinContribution *big.Int
	MaxContribution *big.Int
	MaxPoolBalance  *big.Int
}

// LimitCeiling bounds every limit field so that share arithmetic can
// never overflow intermediate products: one billion ether, in wei.
var LimitCeiling = new(big.Int).Mul(big.NewInt(1_000_000_000), WeiPerEther)

// WeiPerEther is the scaling factor for per-ether fee rates.
var WeiPerEther = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// Clone returns a deep copy of the limits.
func (l Limits) Clone() Limits {
	return Limits{
		MinContribution: cloneOrZero(l.MinContribution),
		MaxContribution: cloneOrZero(l.MaxContribution),
		MaxPoolBalance:  cloneOrZero(l.MaxPoolBalance),
	}
}

// Validate checks the ordering and ceiling constraints:
// min <= max <= maxPool where zero max fields mean unlimited.
func (l Limits) Validate() error {
	min := cloneOrZero(l.MinContribution)
	max := cloneOrZero(l.MaxContribution)
	maxPool := cloneOrZero(l.MaxPoolBalance)
	if min.Sign() < 0 || max.Sign() < 0 || maxPool.Sign() < 0 {
		return fmt.Errorf("%w: negative limit", ErrInvalidLimits)
	}
	for _, v := range []*big.Int{min, max, maxPool} {
		if v.Cmp(LimitCeiling) > 0 {
			return fmt.Errorf("%w: limit exceeds ceiling", ErrInvalidLimits)
		}
	}
	if max.Sign() > 0 && min.Cmp(max) > 0 {
		return fmt.Errorf("%w: min contribution above max contribution", ErrInvalidLimits)
	}
	if maxPool.Sign() > 0 {
		if max.Cmp(maxPool) > 0 {
			return fmt.Errorf("%w: max contribution above max pool balance", ErrInvalidLimits)
		}
		if min.Cmp(maxPool) > 0 {
			return fmt.Errorf("%w: min contribution above max pool balance", ErrInvalidLimits)
		}
	}
	return nil
}

func cloneOrZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// Balances is the full-ledger read view used by auditors and tests to
// reconstruct pool state: parallel arrays in participant insertion order.
type Balances struct {
	Addresses     []common.Address
	Contributions []*big.Int
	Remainings    []*big.Int
	Whitelisted   []bool
	Exists        []bool
}
