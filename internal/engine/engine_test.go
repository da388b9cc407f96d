package engine

import (
	"context"
	"testing"
	"time"

	"KHunter/internal/domain/models"
	"KHunter/internal/engine/allocation"
)

type fakeHoldings struct {
	held  map[string]bool
	count int
}

func (f *fakeHoldings) Has(code string) bool { return f.held[code] }
func (f *fakeHoldings) Count() int           { return f.count }

type fakeBalances struct{ total, cash int64 }

func (f *fakeBalances) Balances() (int64, int64) { return f.total, f.cash }

type fakeBlacklist struct{ barred map[string]bool }

func (f *fakeBlacklist) Blacklisted(code string) bool { return f.barred[code] }

type fakePrices struct{ price int64 }

func (f *fakePrices) Price(_ context.Context, _ string) (int64, error) { return f.price, nil }

type fakeHalt struct{ halted bool }

func (f *fakeHalt) BuysHalted() bool { return f.halted }

type fixture struct {
	engine    *Engine
	holdings  *fakeHoldings
	blacklist *fakeBlacklist
	halt      *fakeHalt
	clock     *time.Time
}

func newFixture(t *testing.T, mode models.CombineMode, conditions []string) *fixture {
	t.Helper()
	now := time.Date(2025, 3, 3, 10, 0, 0, 0, time.Local)
	f := &fixture{
		holdings:  &fakeHoldings{held: make(map[string]bool)},
		blacklist: &fakeBlacklist{barred: make(map[string]bool)},
		halt:      &fakeHalt{},
		clock:     &now,
	}
	f.engine = New(
		Settings{
			Mode:        mode,
			Conditions:  conditions,
			Window:      3 * time.Minute,
			MaxHoldings: 5,
			Cooldown:    time.Hour,
			InHours:     func(time.Time) bool { return true },
		},
		Deps{
			Holdings:  f.holdings,
			Balances:  &fakeBalances{total: 10_000_000, cash: 10_000_000},
			Blacklist: f.blacklist,
			Prices:    &fakePrices{price: 50_000},
			Policy:    allocation.NewFixedAmount(500_000),
			Halt:      f.halt,
		},
		WithClock(func() time.Time { return *f.clock }),
	)
	return f
}

func (f *fixture) signal(code, condition string, event models.SignalEvent) *models.Signal {
	return &models.Signal{
		StockCode:     code,
		StockName:     "테스트종목",
		Event:         event,
		ConditionName: condition,
		ReceivedAt:    *f.clock,
	}
}

func TestEvaluateOrModeAccepts(t *testing.T) {
	f := newFixture(t, models.CombineOr, []string{"급등주"})

	intent, reason, err := f.engine.Evaluate(context.Background(), f.signal("005930", "급등주", models.SignalEntered))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if reason != models.RejectNone || intent == nil {
		t.Fatalf("expected acceptance, got reason %q", reason)
	}
	if intent.Side != models.SideBuy || intent.OrderType != models.OrderMarket {
		t.Fatalf("unexpected intent %+v", intent)
	}
	if intent.Quantity != 10 {
		t.Fatalf("expected quantity 10 (500,000 / 50,000), got %d", intent.Quantity)
	}
}

func TestEvaluateDuplicateEnteredRejected(t *testing.T) {
	f := newFixture(t, models.CombineOr, []string{"급등주"})
	ctx := context.Background()

	if _, reason, _ := f.engine.Evaluate(ctx, f.signal("005930", "급등주", models.SignalEntered)); reason != models.RejectNone {
		t.Fatalf("first delivery rejected: %q", reason)
	}
	if _, reason, _ := f.engine.Evaluate(ctx, f.signal("005930", "급등주", models.SignalEntered)); reason != models.RejectDuplicateSet {
		t.Fatalf("expected duplicate reject, got %q", reason)
	}
}

func TestEvaluateLeftClearsMembership(t *testing.T) {
	f := newFixture(t, models.CombineAnd, []string{"거래량", "신고가"})
	ctx := context.Background()

	f.engine.Evaluate(ctx, f.signal("005930", "거래량", models.SignalEntered))
	f.engine.Evaluate(ctx, f.signal("005930", "거래량", models.SignalLeft))

	// With the first condition vacated, the second alone must not satisfy AND.
	_, reason, _ := f.engine.Evaluate(ctx, f.signal("005930", "신고가", models.SignalEntered))
	if reason != models.RejectCombineMode {
		t.Fatalf("expected combine reject after LEFT, got %q", reason)
	}
}

func TestEvaluateAndModeRequiresAllConditions(t *testing.T) {
	f := newFixture(t, models.CombineAnd, []string{"거래량", "신고가"})
	ctx := context.Background()

	_, reason, _ := f.engine.Evaluate(ctx, f.signal("005930", "거래량", models.SignalEntered))
	if reason != models.RejectCombineMode {
		t.Fatalf("single condition should not satisfy AND, got %q", reason)
	}

	intent, reason, err := f.engine.Evaluate(ctx, f.signal("005930", "신고가", models.SignalEntered))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if reason != models.RejectNone || intent == nil {
		t.Fatalf("expected acceptance once both memberships hold, got %q", reason)
	}
}

func TestEvaluateSequentialWithinWindow(t *testing.T) {
	f := newFixture(t, models.CombineSequential, []string{"돌파준비", "돌파확정"})
	ctx := context.Background()

	_, reason, _ := f.engine.Evaluate(ctx, f.signal("000660", "돌파준비", models.SignalEntered))
	if reason != models.RejectCombineMode {
		t.Fatalf("first leg alone must not trigger, got %q", reason)
	}

	*f.clock = f.clock.Add(2 * time.Minute)
	intent, reason, err := f.engine.Evaluate(ctx, f.signal("000660", "돌파확정", models.SignalEntered))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if reason != models.RejectNone || intent == nil {
		t.Fatalf("second leg inside window should trigger, got %q", reason)
	}
}

func TestEvaluateSequentialWindowExpires(t *testing.T) {
	f := newFixture(t, models.CombineSequential, []string{"돌파준비", "돌파확정"})
	ctx := context.Background()

	f.engine.Evaluate(ctx, f.signal("000660", "돌파준비", models.SignalEntered))
	*f.clock = f.clock.Add(4 * time.Minute)

	_, reason, _ := f.engine.Evaluate(ctx, f.signal("000660", "돌파확정", models.SignalEntered))
	if reason != models.RejectCombineMode {
		t.Fatalf("expired arming should reject, got %q", reason)
	}
}

func TestEvaluateSequentialSecondLegUnarmed(t *testing.T) {
	f := newFixture(t, models.CombineSequential, []string{"돌파준비", "돌파확정"})

	_, reason, _ := f.engine.Evaluate(context.Background(), f.signal("000660", "돌파확정", models.SignalEntered))
	if reason != models.RejectCombineMode {
		t.Fatalf("second leg without arming should reject, got %q", reason)
	}
}

func TestEvaluateStructuralRejects(t *testing.T) {
	ctx := context.Background()

	t.Run("buys halted", func(t *testing.T) {
		f := newFixture(t, models.CombineOr, []string{"급등주"})
		f.halt.halted = true
		_, reason, _ := f.engine.Evaluate(ctx, f.signal("005930", "급등주", models.SignalEntered))
		if reason != models.RejectBuysHalted {
			t.Fatalf("got %q", reason)
		}
	})

	t.Run("blacklisted", func(t *testing.T) {
		f := newFixture(t, models.CombineOr, []string{"급등주"})
		f.blacklist.barred["005930"] = true
		_, reason, _ := f.engine.Evaluate(ctx, f.signal("005930", "급등주", models.SignalEntered))
		if reason != models.RejectBlacklisted {
			t.Fatalf("got %q", reason)
		}
	})

	t.Run("already held", func(t *testing.T) {
		f := newFixture(t, models.CombineOr, []string{"급등주"})
		f.holdings.held["005930"] = true
		_, reason, _ := f.engine.Evaluate(ctx, f.signal("005930", "급등주", models.SignalEntered))
		if reason != models.RejectAlreadyHeld {
			t.Fatalf("got %q", reason)
		}
	})

	t.Run("max holdings", func(t *testing.T) {
		f := newFixture(t, models.CombineOr, []string{"급등주"})
		f.holdings.count = 5
		_, reason, _ := f.engine.Evaluate(ctx, f.signal("005930", "급등주", models.SignalEntered))
		if reason != models.RejectMaxHoldings {
			t.Fatalf("got %q", reason)
		}
	})

	t.Run("market closed", func(t *testing.T) {
		f := newFixture(t, models.CombineOr, []string{"급등주"})
		f.engine.inHours = func(time.Time) bool { return false }
		_, reason, _ := f.engine.Evaluate(ctx, f.signal("005930", "급등주", models.SignalEntered))
		if reason != models.RejectMarketClosed {
			t.Fatalf("got %q", reason)
		}
	})
}

func TestEvaluateExposureCap(t *testing.T) {
	now := time.Date(2025, 3, 3, 10, 0, 0, 0, time.Local)
	balances := &fakeBalances{total: 10_000_000, cash: 1_500_000} // 85% invested
	eng := New(
		Settings{
			Mode:        models.CombineOr,
			Conditions:  []string{"급등주"},
			MaxHoldings: 5,
			MaxExposure: 80,
			InHours:     func(time.Time) bool { return true },
		},
		Deps{
			Holdings:  &fakeHoldings{held: make(map[string]bool)},
			Balances:  balances,
			Blacklist: &fakeBlacklist{barred: make(map[string]bool)},
			Prices:    &fakePrices{price: 50_000},
			Policy:    allocation.NewFixedAmount(500_000),
			Halt:      &fakeHalt{},
		},
		WithClock(func() time.Time { return now }),
	)
	signal := func(code string) *models.Signal {
		return &models.Signal{
			StockCode:     code,
			StockName:     "테스트종목",
			Event:         models.SignalEntered,
			ConditionName: "급등주",
			ReceivedAt:    now,
		}
	}

	_, reason, _ := eng.Evaluate(context.Background(), signal("005930"))
	if reason != models.RejectMaxExposure {
		t.Fatalf("expected exposure reject at 85%% invested, got %q", reason)
	}

	// A sell frees cash and drops exposure under the cap.
	balances.cash = 4_000_000
	if _, reason, _ := eng.Evaluate(context.Background(), signal("000660")); reason != models.RejectNone {
		t.Fatalf("expected acceptance at 60%% invested, got %q", reason)
	}
}

func TestEvaluateCooldownAfterEntry(t *testing.T) {
	f := newFixture(t, models.CombineOr, []string{"급등주"})
	ctx := context.Background()

	if _, reason, _ := f.engine.Evaluate(ctx, f.signal("005930", "급등주", models.SignalEntered)); reason != models.RejectNone {
		t.Fatalf("first entry rejected: %q", reason)
	}

	// Condition churn: the stock leaves and re-enters ten minutes later,
	// still inside the one hour cooldown.
	f.engine.Evaluate(ctx, f.signal("005930", "급등주", models.SignalLeft))
	*f.clock = f.clock.Add(10 * time.Minute)

	_, reason, _ := f.engine.Evaluate(ctx, f.signal("005930", "급등주", models.SignalEntered))
	if reason != models.RejectCooldown {
		t.Fatalf("expected cooldown reject, got %q", reason)
	}

	*f.clock = f.clock.Add(time.Hour)
	f.engine.Evaluate(ctx, f.signal("005930", "급등주", models.SignalLeft))
	if _, reason, _ := f.engine.Evaluate(ctx, f.signal("005930", "급등주", models.SignalEntered)); reason != models.RejectNone {
		t.Fatalf("cooldown should have lapsed, got %q", reason)
	}
}

func TestEvaluateZeroQuantitySuppressed(t *testing.T) {
	f := newFixture(t, models.CombineOr, []string{"급등주"})
	f.engine.prices = &fakePrices{price: 1_000_000}

	_, reason, _ := f.engine.Evaluate(context.Background(), f.signal("005930", "급등주", models.SignalEntered))
	if reason != models.RejectZeroQuantity {
		t.Fatalf("expected zero quantity reject, got %q", reason)
	}
}
