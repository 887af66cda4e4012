package execution

import (
	"sort"

	"github.com/shopspring/decimal"
)

type lot struct {
	exchange string
	qty      int64
	avg      decimal.Decimal
	realized decimal.Decimal
}

// change is a planned ledger mutation. It is computed first, persisted,
// and only then committed.
type change struct {
	symbol   string
	next     lot
	remove   bool
	realized decimal.Decimal
}

type ledger struct {
	positions map[string]*lot
	realized  decimal.Decimal
	daily     decimal.Decimal
}

func newLedger() *ledger {
	return &ledger{positions: make(map[string]*lot)}
}

func (l *ledger) held(symbol string) int64 {
	if p, ok := l.positions[symbol]; ok {
		return p.qty
	}
	return 0
}

func (l *ledger) open() int { return len(l.positions) }

// plan computes the effect of a fill. A SELL must not exceed the held
// quantity; callers gate that beforehand.
func (l *ledger) plan(symbol, exchange string, side Side, qty int64, price float64) change {
	var cur lot
	if p, ok := l.positions[symbol]; ok {
		cur = *p
	} else {
		cur = lot{exchange: exchange}
	}
	fillQty := decimal.NewFromInt(qty)
	fillPx := decimal.NewFromFloat(price)

	ch := change{symbol: symbol}
	switch side {
	case SideBuy:
		oldQty := decimal.NewFromInt(cur.qty)
		total := oldQty.Add(fillQty)
		cur.avg = oldQty.Mul(cur.avg).Add(fillQty.Mul(fillPx)).Div(total)
		cur.qty += qty
	case SideSell:
		ch.realized = fillPx.Sub(cur.avg).Mul(fillQty)
		cur.realized = cur.realized.Add(ch.realized)
		cur.qty -= qty
		if cur.qty == 0 {
			cur.avg = decimal.Zero
			ch.remove = true
		}
	}
	ch.next = cur
	return ch
}

func (l *ledger) commit(ch change) {
	l.realized = l.realized.Add(ch.realized)
	l.daily = l.daily.Add(ch.realized)
	if ch.remove {
		delete(l.positions, ch.symbol)
		return
	}
	next := ch.next
	l.positions[ch.symbol] = &next
}

func (l *ledger) resetDaily() {
	l.daily = decimal.Zero
}

func (l *ledger) symbols() []string {
	out := make([]string, 0, len(l.positions))
	for s := range l.positions {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
