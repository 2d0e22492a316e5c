package pool

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestWhitelistChurnScenario(t *testing.T) {
	tp := newTestPool(t, func(cfg *Config) {
		cfg.Limits = Limits{
			MinContribution: ether(1),
			MaxContribution: ether(50),
			MaxPoolBalance:  ether(50),
		}
	})
	buyers := make([]common.Address, 6)
	deposits := []int64{5, 3, 6, 7, 8, 9}
	for i := range buyers {
		buyers[i] = newTestAddress(byte(0x11 + i))
		mustDeposit(t, tp, buyers[i], ether(deposits[i]))
	}
	expectPool(t, tp, ether(38), 6)

	// Blacklisting moves the whole position out of contribution.
	if err := tp.engine.ModifyWhitelist(tp.creator, nil, []common.Address{buyers[1], buyers[3]}); err != nil {
		t.Fatalf("blacklist: %v", err)
	}
	expectBalance(t, tp, buyers[1], ether(0), ether(3))
	expectBalance(t, tp, buyers[3], ether(0), ether(7))
	expectPool(t, tp, ether(28), 4)

	// Raising the floor to 5 re-settles everyone; the surviving
	// contributions all clear it already.
	if err := tp.engine.SetContributionSettings(tp.creator, Limits{
		MinContribution: ether(5),
		MaxContribution: ether(50),
		MaxPoolBalance:  ether(50),
	}, nil); err != nil {
		t.Fatalf("raise floor: %v", err)
	}
	expectPool(t, tp, ether(28), 4)

	// Re-whitelisting does not promote by itself.
	if err := tp.engine.ModifyWhitelist(tp.creator, []common.Address{buyers[1]}, nil); err != nil {
		t.Fatalf("re-whitelist: %v", err)
	}
	expectBalance(t, tp, buyers[1], ether(0), ether(3))
	expectPool(t, tp, ether(28), 4)

	if _, err := tp.engine.WithdrawAll(buyers[4]); err != nil {
		t.Fatalf("withdrawAll: %v", err)
	}
	if err := tp.engine.Withdraw(buyers[5], ether(9)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	expectPool(t, tp, ether(11), 2)
	if got := tp.engine.HeldBalance(); got.Cmp(ether(21)) != 0 {
		t.Fatalf("held balance: got %s want 21 ether", got)
	}
}

func TestTighteningRebalancesEveryone(t *testing.T) {
	tp := newTestPool(t, func(cfg *Config) {
		cfg.Limits = Limits{MaxContribution: ether(50)}
	})
	buyer1 := newTestAddress(0x11)
	buyer2 := newTestAddress(0x12)
	mustDeposit(t, tp, buyer1, ether(5))
	mustDeposit(t, tp, buyer2, ether(3))

	if err := tp.engine.SetContributionSettings(tp.creator, Limits{MaxContribution: ether(4)}, nil); err != nil {
		t.Fatalf("lower cap: %v", err)
	}
	expectBalance(t, tp, buyer1, ether(4), ether(1))
	expectBalance(t, tp, buyer2, ether(3), ether(0))
	expectPool(t, tp, ether(7), 2)
}

func TestLooseningPromotesOnlyTargets(t *testing.T) {
	tp := newTestPool(t, func(cfg *Config) {
		cfg.Limits = Limits{MaxContribution: ether(50)}
	})
	buyer1 := newTestAddress(0x11)
	buyer2 := newTestAddress(0x12)
	mustDeposit(t, tp, buyer1, ether(5))
	mustDeposit(t, tp, buyer2, ether(3))
	if err := tp.engine.SetContributionSettings(tp.creator, Limits{MaxContribution: ether(2)}, nil); err != nil {
		t.Fatalf("lower cap: %v", err)
	}
	expectBalance(t, tp, buyer1, ether(2), ether(3))
	expectBalance(t, tp, buyer2, ether(2), ether(1))

	if err := tp.engine.SetContributionSettings(tp.creator, Limits{MaxContribution: ether(50)}, []common.Address{buyer1}); err != nil {
		t.Fatalf("raise cap: %v", err)
	}
	expectBalance(t, tp, buyer1, ether(5), ether(0))
	expectBalance(t, tp, buyer2, ether(2), ether(1))
	expectPool(t, tp, ether(7), 2)
}

func TestFloorZeroesPositionsBelowIt(t *testing.T) {
	tp := newTestPool(t, func(cfg *Config) {
		cfg.Limits = Limits{MinContribution: ether(1)}
	})
	buyer1 := newTestAddress(0x11)
	buyer2 := newTestAddress(0x12)
	mustDeposit(t, tp, buyer1, ether(5))
	mustDeposit(t, tp, buyer2, ether(3))

	if err := tp.engine.SetContributionSettings(tp.creator, Limits{MinContribution: ether(4)}, nil); err != nil {
		t.Fatalf("raise floor: %v", err)
	}
	expectBalance(t, tp, buyer1, ether(5), ether(0))
	expectBalance(t, tp, buyer2, ether(0), ether(3))
	expectPool(t, tp, ether(5), 1)
}

func TestRebalanceIsIdempotent(t *testing.T) {
	tp := newTestPool(t, func(cfg *Config) {
		cfg.Limits = Limits{MaxContribution: ether(50)}
	})
	buyer := newTestAddress(0x11)
	mustDeposit(t, tp, buyer, ether(5))
	limits := Limits{MaxContribution: ether(3)}
	if err := tp.engine.SetContributionSettings(tp.creator, limits, nil); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	if err := tp.engine.SetContributionSettings(tp.creator, limits, []common.Address{buyer}); err != nil {
		t.Fatalf("second apply: %v", err)
	}
	expectBalance(t, tp, buyer, ether(3), ether(2))
	expectPool(t, tp, ether(3), 1)
}

func TestRemoveWhitelistRestoresEveryone(t *testing.T) {
	tp := newTestPool(t, func(cfg *Config) { cfg.Restricted = true })
	buyer1 := newTestAddress(0x11)
	buyer2 := newTestAddress(0x12)
	if err := tp.engine.ModifyWhitelist(tp.creator, []common.Address{buyer1, buyer2}, nil); err != nil {
		t.Fatalf("whitelist: %v", err)
	}
	mustDeposit(t, tp, buyer1, ether(2))
	mustDeposit(t, tp, buyer2, ether(4))
	if err := tp.engine.ModifyWhitelist(tp.creator, nil, []common.Address{buyer2}); err != nil {
		t.Fatalf("blacklist: %v", err)
	}
	expectBalance(t, tp, buyer2, ether(0), ether(4))

	buyer3 := newTestAddress(0x13)
	if err := tp.engine.RemoveWhitelist(buyer1); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("non-creator removeWhitelist: got %v", err)
	}
	if err := tp.engine.RemoveWhitelist(tp.creator); err != nil {
		t.Fatalf("removeWhitelist: %v", err)
	}
	expectBalance(t, tp, buyer2, ether(4), ether(0))
	expectPool(t, tp, ether(6), 2)
	// The pool is unrestricted from here on.
	mustDeposit(t, tp, buyer3, ether(1))
	expectPool(t, tp, ether(7), 3)
}

func TestPoolCapTighteningKeepsEarliestContributors(t *testing.T) {
	tp := newTestPool(t, nil)
	buyer1 := newTestAddress(0x11)
	buyer2 := newTestAddress(0x12)
	mustDeposit(t, tp, buyer1, ether(5))
	mustDeposit(t, tp, buyer2, ether(1))
	// The cap now only covers buyer1's position. Buyer1 registered
	// first, so buyer2 is the one demoted.
	if err := tp.engine.SetContributionSettings(tp.creator, Limits{
		MaxContribution: ether(5),
		MaxPoolBalance:  ether(5),
	}, nil); err != nil {
		t.Fatalf("settings: %v", err)
	}
	expectBalance(t, tp, buyer1, ether(5), ether(0))
	expectBalance(t, tp, buyer2, ether(0), ether(1))
	expectPool(t, tp, ether(5), 1)
}

func TestPoolCapAllocatesInRegistrationOrder(t *testing.T) {
	tp := newTestPool(t, nil)
	buyer1 := newTestAddress(0x11)
	buyer2 := newTestAddress(0x12)
	buyer3 := newTestAddress(0x13)
	mustDeposit(t, tp, buyer1, ether(5))
	mustDeposit(t, tp, buyer2, ether(5))
	mustDeposit(t, tp, buyer3, ether(5))
	// 13 ether of headroom covers buyer1 and buyer2 in full; buyer3's
	// remaining 3 sits below the floor and drops out entirely.
	if err := tp.engine.SetContributionSettings(tp.creator, Limits{
		MinContribution: ether(4),
		MaxContribution: ether(5),
		MaxPoolBalance:  ether(13),
	}, nil); err != nil {
		t.Fatalf("settings: %v", err)
	}
	expectBalance(t, tp, buyer1, ether(5), ether(0))
	expectBalance(t, tp, buyer2, ether(5), ether(0))
	expectBalance(t, tp, buyer3, ether(0), ether(5))
	expectPool(t, tp, ether(10), 2)
}

func TestSetContributionSettingsGuards(t *testing.T) {
	tp := newTestPool(t, func(cfg *Config) {
		cfg.TotalTokenDrops = 2
		cfg.Limits = Limits{MinContribution: ether(1)}
	})
	buyer := newTestAddress(0x11)
	if err := tp.engine.SetContributionSettings(buyer, Limits{}, nil); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("non-admin settings change: got %v", err)
	}
	if err := tp.engine.SetContributionSettings(tp.creator, Limits{
		MinContribution: ether(5),
		MaxContribution: ether(2),
	}, nil); !errors.Is(err, ErrInvalidLimits) {
		t.Fatalf("floor above cap: got %v", err)
	}
	// With two drops configured the floor may not dip below twice the
	// per-head cost.
	if err := tp.engine.SetContributionSettings(tp.creator, Limits{
		MinContribution: finney(40),
	}, nil); !errors.Is(err, ErrInvalidLimits) {
		t.Fatalf("floor below drop cost: got %v", err)
	}
}

func TestSetTokenDrops(t *testing.T) {
	tp := newTestPool(t, func(cfg *Config) {
		cfg.Limits = Limits{MinContribution: finney(24)}
	})
	buyer := newTestAddress(0x11)
	if err := tp.engine.SetTokenDrops(buyer, 1); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("non-creator drop change: got %v", err)
	}
	if err := tp.engine.SetTokenDrops(tp.creator, MaxTokenDrops+1); !errors.Is(err, ErrInvalidLimits) {
		t.Fatalf("drop count above bound: got %v", err)
	}
	// One drop needs a 0.012 ether floor; two need 0.024.
	if err := tp.engine.SetTokenDrops(tp.creator, 2); !errors.Is(err, ErrInvalidLimits) {
		t.Fatalf("floor too low for two drops: got %v", err)
	}
	if err := tp.engine.SetTokenDrops(tp.creator, 1); err != nil {
		t.Fatalf("setTokenDrops: %v", err)
	}
	if err := tp.engine.Fail(tp.creator); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if err := tp.engine.SetTokenDrops(tp.creator, 0); !errors.Is(err, ErrWrongState) {
		t.Fatalf("drop change after close: got %v", err)
	}
}
