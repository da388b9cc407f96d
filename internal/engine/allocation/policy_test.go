package allocation

import "testing"

func TestFixedAmountQuantity(t *testing.T) {
	p := NewFixedAmount(300000)
	got := p.Quantity(Context{StockCode: "005930", Price: 70000})
	if got != 4 {
		t.Fatalf("expected 4 shares, got %d", got)
	}
	if q := p.Quantity(Context{StockCode: "005930", Price: 0}); q != 0 {
		t.Fatalf("zero price must yield zero quantity, got %d", q)
	}
}

func TestPercentageQuantity(t *testing.T) {
	p := NewPercentage(10)
	got := p.Quantity(Context{StockCode: "005930", Price: 50000, TotalBalance: 10000000})
	if got != 20 {
		t.Fatalf("expected 20 shares, got %d", got)
	}
	if q := p.Quantity(Context{StockCode: "005930", Price: 50000}); q != 0 {
		t.Fatalf("missing balance must yield zero quantity, got %d", q)
	}
}

func TestPyramidSequence(t *testing.T) {
	p := NewPyramid(50, 50)
	ctx := Context{StockCode: "035420", Price: 50000, TotalBalance: 1000000}

	if q := p.Quantity(ctx); q != 10 {
		t.Fatalf("call #0 expected 10 shares, got %d", q)
	}
	if q := p.Quantity(ctx); q != 10 {
		t.Fatalf("call #1 expected 10 shares, got %d", q)
	}
	if q := p.Quantity(ctx); q != 0 {
		t.Fatalf("call #2 expected 0 shares, got %d", q)
	}
	if n := p.Count("035420"); n != 2 {
		t.Fatalf("expected 2 recorded calls, got %d", n)
	}
}

func TestPyramidResetAllowsReentry(t *testing.T) {
	p := NewPyramid(50, 50)
	ctx := Context{StockCode: "035420", Price: 50000, TotalBalance: 1000000}

	_ = p.Quantity(ctx)
	_ = p.Quantity(ctx)
	p.Reset("035420")

	if q := p.Quantity(ctx); q != 10 {
		t.Fatalf("after reset expected initial allocation again, got %d", q)
	}
}

func TestPyramidCodesIndependent(t *testing.T) {
	p := NewPyramid(50, 25)
	a := Context{StockCode: "000660", Price: 100000, TotalBalance: 2000000}
	b := Context{StockCode: "005930", Price: 100000, TotalBalance: 2000000}

	if q := p.Quantity(a); q != 10 {
		t.Fatalf("code a call #0 expected 10, got %d", q)
	}
	if q := p.Quantity(b); q != 10 {
		t.Fatalf("code b call #0 expected 10, got %d", q)
	}
	if q := p.Quantity(a); q != 5 {
		t.Fatalf("code a call #1 expected 5, got %d", q)
	}
}
