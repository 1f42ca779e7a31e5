// Package matching implements the intra-bar price walk, order-trigger
// evaluation, fill execution, and forced-liquidation checks that turn a
// bar of OHLCV data into fills against the order book.
package matching

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/jax-quant/backtest/internal/bar"
	"github.com/jax-quant/backtest/internal/funding"
	"github.com/jax-quant/backtest/internal/ledger"
	"github.com/jax-quant/backtest/internal/order"
	"github.com/jax-quant/backtest/internal/slippage"
	"github.com/jax-quant/backtest/internal/symbol"
)

// Fee carries the maker/taker commission rates spec §6 requires
// (taker_fee_percentage, maker_fee_percentage): a resting Limit fill
// (including an Lit order once it has converted to a Limit) pays the
// maker rate; Market, Mit, and Trailing fills — which always cross
// immediately — pay the taker rate. Liquidation uses the symbol's own
// LiquidationFee instead of either rate.
type Fee struct {
	MakerRate decimal.Decimal
	TakerRate decimal.Decimal
}

func (f Fee) rateFor(typ order.Type) decimal.Decimal {
	if typ == order.Limit {
		return f.MakerRate
	}
	return f.TakerRate
}

// Guards mirrors spec §6's reject-on-violation config flags. Each
// enabled guard cancels a pending order whose size (or notional) falls
// outside the symbol's exchange bounds instead of filling it.
type Guards struct {
	LimitMaxQty      bool
	LimitMinQty      bool
	MarketMaxQty     bool
	MarketMinQty     bool
	MinNotionalValue bool
}

// Engine matches orders against one bar at a time. It owns no bar data
// itself (internal/bar.Store is the source of truth for that); the
// scheduler calls ProcessBar once per symbol per tick with the bar to
// match against.
type Engine struct {
	Book    *order.Book
	Ledger  *ledger.Ledger
	Funding *funding.Store
	Symbols map[string]symbol.Info
	Slip    map[string]slippage.Model
	Fees    map[string]Fee
	Guards  Guards

	// AfterChainCap bounds the after_entry/after_exit callback chain the
	// strategy host drives per tick; the matching engine itself does not
	// enforce it, but exposes it so the scheduler's loop and the matching
	// engine agree on the same default.
	AfterChainCap int
}

// New constructs a matching engine bound to the given book, ledger, and
// funding store.
func New(book *order.Book, led *ledger.Ledger, fs *funding.Store) *Engine {
	return &Engine{
		Book:          book,
		Ledger:        led,
		Funding:       fs,
		Symbols:       make(map[string]symbol.Info),
		Slip:          make(map[string]slippage.Model),
		Fees:          make(map[string]Fee),
		AfterChainCap: 1024,
	}
}

func (e *Engine) symbolInfo(sym string) (symbol.Info, error) {
	info, ok := e.Symbols[sym]
	if !ok {
		return symbol.Info{}, fmt.Errorf("matching: no symbol info registered for %s", sym)
	}
	return info, nil
}

func (e *Engine) slipModel(sym string) slippage.Model {
	if m, ok := e.Slip[sym]; ok {
		return m
	}
	return slippage.Percentage{Rate: decimal.Zero}
}

func (e *Engine) fee(sym string) Fee {
	return e.Fees[sym]
}

// Trigger is the minimal interface the price-walk's trigger evaluation
// needs from whichever side of an order it is testing: the flat entry
// fields on *order.Order, or one *order.ExitLeg out of a position's exit
// list. Implemented by both, so the Market/Limit/Mit/Lit/Trailing switch
// in evalTrigger is written once regardless of side.
type Trigger interface {
	Kind() order.Type
	SetKind(order.Type)
	Price() decimal.Decimal
	Touch() decimal.Decimal
	Extreme() decimal.Decimal
	SetExtreme(decimal.Decimal)
	Trail() decimal.Decimal
	Size() decimal.Decimal
}

// ProcessBar advances the matching state machine through one bar's
// intra-bar price walk for one symbol. markBar is the symbol's current
// Mark-Price stream bar (spec §3/§4.4): liquidation is always evaluated
// against its price walk, independent of whatever stream b belongs to
// and fills execute against. A caller with no distinct mark-price stream
// configured for a symbol passes the same bar for both, which degrades
// to a single-stream walk. prevBar/hasPrev are b's predecessor on the
// same stream, used both by the slippage spread estimator and the Gap
// rule.
func (e *Engine) ProcessBar(sym string, b, markBar, prevBar bar.Bar, hasPrev bool) ([]order.ClosedTrade, error) {
	info, err := e.symbolInfo(sym)
	if err != nil {
		return nil, err
	}

	pts := ExpandOHLC(b)
	markPts := ExpandOHLC(markBar)
	var closed []order.ClosedTrade

	// The open itself is evaluated as a zero-length "segment" so gap
	// fills (an order whose condition was already true at the open, due
	// to a gap since the prior bar) are caught before any intra-bar
	// movement is considered.
	openSeg := Segment{From: pts[0], To: pts[0]}
	openMarkSeg := Segment{From: markPts[0], To: markPts[0]}
	c, err := e.stepAt(sym, info, openSeg, openMarkSeg, prevBar, hasPrev, b)
	if err != nil {
		return nil, err
	}
	closed = append(closed, c...)

	segs, markSegs := Segments(pts), Segments(markPts)
	n := len(segs)
	if len(markSegs) < n {
		n = len(markSegs)
	}
	for i := 0; i < n; i++ {
		c, err := e.stepAt(sym, info, segs[i], markSegs[i], prevBar, hasPrev, b)
		if err != nil {
			return nil, err
		}
		closed = append(closed, c...)
	}
	return closed, nil
}

// candidate is one order (or exit leg) that triggered within a single
// price-walk step, queued for the sort/execute pass in stepAt.
type candidate struct {
	order    *order.Order
	leg      *order.ExitLeg // nil for an entry candidate
	category int             // 0 = liquidation, 1 = exit, 2 = entry (spec's priority order)
	price    decimal.Decimal
}

// stepAt evaluates every open position (against markSeg), pending exit
// leg, and pending entry (against seg) of sym at one step of the price
// walk, collects everything that triggers, and executes the triggered
// set in spec §4.4's "fill ordering for simultaneous triggers" order: by
// fill price (direction-dependent), then by category (Liquidation <
// Exit < Entry), then original book order.
func (e *Engine) stepAt(sym string, info symbol.Info, seg, markSeg Segment, prevBar bar.Bar, hasPrev bool, b bar.Bar) ([]order.ClosedTrade, error) {
	var candidates []candidate

	for _, o := range e.Book.OpenPositions() {
		if o.Symbol != sym {
			continue
		}
		gappedMarkSeg, _ := gapSegment(markSeg, prevBar, hasPrev)
		price, hit, err := e.evalLiquidation(o, info, gappedMarkSeg)
		if err != nil {
			return nil, err
		}
		if hit {
			candidates = append(candidates, candidate{order: o, category: 0, price: price})
		}
	}

	for _, o := range e.Book.PendingExits() {
		if o.Symbol != sym {
			continue
		}
		for _, leg := range o.PendingExitLegs() {
			price, hit := e.evalTrigger(leg, order.ExitSide, o.Direction, seg, prevBar, hasPrev)
			if hit {
				candidates = append(candidates, candidate{order: o, leg: leg, category: 1, price: price})
			}
		}
	}

	for _, o := range e.Book.PendingEntries() {
		if o.Symbol != sym {
			continue
		}
		price, hit := e.evalTrigger(o, order.EntrySide, o.Direction, seg, prevBar, hasPrev)
		if hit {
			candidates = append(candidates, candidate{order: o, category: 2, price: price})
		}
	}

	if len(candidates) == 0 {
		return nil, nil
	}

	dir := eventDirection(seg, prevBar, hasPrev)
	sort.SliceStable(candidates, func(i, j int) bool {
		a, c := candidates[i], candidates[j]
		if !a.price.Equal(c.price) {
			if dir == order.Long {
				return a.price.LessThan(c.price)
			}
			return a.price.GreaterThan(c.price)
		}
		return a.category < c.category
	})

	var closed []order.ClosedTrade
	for _, c := range candidates {
		switch c.category {
		case 0:
			if !c.order.IsOpen() {
				continue // already closed by an earlier candidate this step
			}
			trade, err := e.executeLiquidation(c.order, info, c.price, b)
			if err != nil {
				return nil, err
			}
			closed = append(closed, trade)
		case 1:
			if c.leg.Status != order.StatusPending || !c.order.IsOpen() {
				continue
			}
			trade, err := e.executeExit(c.order, c.leg, info, c.price, b, prevBar, hasPrev)
			if err != nil {
				return nil, err
			}
			closed = append(closed, trade)
		case 2:
			if !c.order.IsPendingEntry() {
				continue
			}
			if err := e.executeEntry(c.order, info, c.price, b, prevBar, hasPrev); err != nil {
				return nil, err
			}
		}
	}
	return closed, nil
}

// eventDirection infers whether this step is a "Long" (rising) or
// "Short" (falling) price event, per spec §4.4's fill-ordering rule. For
// genuine intra-bar movement this is simply the segment's own direction;
// for the zero-width open step it falls back to comparing the open
// against the previous bar's close (an actual gap), defaulting to Long
// when there is no previous bar to compare against.
func eventDirection(seg Segment, prevBar bar.Bar, hasPrev bool) order.Direction {
	if seg.From.Price.Equal(seg.To.Price) {
		if hasPrev && seg.To.Price.LessThan(prevBar.Close) {
			return order.Short
		}
		return order.Long
	}
	if seg.Rising() {
		return order.Long
	}
	return order.Short
}

// evalLiquidation reports whether a position's liquidation price has
// been reached by the Mark-Price stream's segment (spec §3/§4.4: forced
// liquidation is always evaluated against mark price, never the stream
// that fills orders).
func (e *Engine) evalLiquidation(o *order.Order, info symbol.Info, markSeg Segment) (decimal.Decimal, bool, error) {
	signedSize := o.RemainingSize()
	if o.Direction == order.Short {
		signedSize = signedSize.Neg()
	}
	liqPrice, err := info.LiquidationPrice(o.MarginCall, o.EntryFilledPrice, signedSize)
	if err != nil {
		return decimal.Zero, false, err
	}
	if !markSeg.Crosses(liqPrice) {
		return decimal.Zero, false, nil
	}
	return liqPrice, true, nil
}

// executeLiquidation closes the remaining position at the price it is
// given, which stepAt supplies as the liquidation price where the
// Mark-Price walk crossed it; no price is read from the fill stream.
// It charges the symbol's liquidation fee on top of the usual
// realized-PnL/margin bookkeeping.
func (e *Engine) executeLiquidation(o *order.Order, info symbol.Info, marketPrice decimal.Decimal, b bar.Bar) (order.ClosedTrade, error) {
	fillPrice := info.RoundPrice(marketPrice)
	remaining := o.RemainingSize()
	notional := remaining.Mul(fillPrice).Abs()
	liqFee := notional.Mul(info.LiquidationFee)

	pnl := o.UnrealizedPnL(fillPrice)
	e.Ledger.ReleaseMargin(o.MarginCall)
	e.Ledger.ApplyRealizedPnL(pnl)
	e.Ledger.ApplyFee(liqFee)

	o.Liquidated = true
	leg := &order.ExitLeg{ID: fmt.Sprintf("%s-liq", o.ID), OrderType: order.Market, Status: order.StatusPending}
	o.AddExitLeg(leg)
	o.FillExitLeg(leg, b.Time, remaining, fillPrice, liqFee)

	return order.ClosedTrade{
		Order:        o.ID,
		Symbol:       o.Symbol,
		Name:         o.Name,
		TradeNumber:  o.TradeNumber,
		ExitSequence: o.ExitSequence,
		Direction:    o.Direction,
		EntryTime:    o.EntryFilledTime,
		EntryPrice:   o.EntryFilledPrice,
		ExitTime:     b.Time,
		ExitPrice:    fillPrice,
		Size:         remaining,
		PnL:          pnl,
		Commission:   liqFee,
		Liquidated:   true,
	}, nil
}

// isBuy reports whether filling this side of this order increases the
// holder's directional exposure (true) or reduces it (false): an entry
// fill on a Long order or an exit fill on a Short order is a buy.
func isBuy(side order.Side, direction order.Direction) bool {
	if side == order.EntrySide {
		return direction == order.Long
	}
	return direction == order.Short
}

// gapSegment returns the segment the Gap rule should test a trigger
// against on the open step: the range spanning the previous bar's close
// to this bar's open. Any order whose condition was already true at the
// previous close is caught here, before intra-bar movement is
// considered; the fill itself still executes at the bar's Open (or, for
// a price-anchored order, the better of Open and its own price), per
// spec's "fills at Open, better than the limit, on a favorable gap".
func gapSegment(seg Segment, prevBar bar.Bar, hasPrev bool) (Segment, bool) {
	isOpenStep := seg.From.Kind == PointOpen && seg.From.Price.Equal(seg.To.Price)
	if !isOpenStep || !hasPrev {
		return seg, false
	}
	return Segment{From: Point{Kind: PointClose, Price: prevBar.Close}, To: seg.To}, true
}

// evalTrigger tests whether t (the entry side of an Order, or one of its
// ExitLegs) fires within seg, applying the Gap rule on the open step for
// every trigger-bearing type, not just Market. It returns the price a
// hit would execute at.
func (e *Engine) evalTrigger(t Trigger, side order.Side, direction order.Direction, seg Segment, prevBar bar.Bar, hasPrev bool) (decimal.Decimal, bool) {
	evalSeg, gapped := gapSegment(seg, prevBar, hasPrev)
	buy := isBuy(side, direction)

	switch t.Kind() {
	case order.Market:
		if seg.From.Kind != PointOpen || !seg.From.Price.Equal(seg.To.Price) {
			return decimal.Zero, false // only fills at the gap-open step
		}
		return seg.From.Price, true

	case order.Limit:
		price := t.Price()
		if !evalSeg.Crosses(price) {
			return decimal.Zero, false
		}
		ref := seg.From.Price
		if gapped {
			ref = seg.To.Price
		}
		return bestOf(buy, price, ref), true

	case order.Mit:
		touch := t.Touch()
		if !evalSeg.Crosses(touch) {
			return decimal.Zero, false
		}
		if gapped {
			return seg.To.Price, true // couldn't get the exact touch price on a gap
		}
		return touch, true

	case order.Lit:
		touch := t.Touch()
		if evalSeg.Crosses(touch) {
			t.SetKind(order.Limit)
		}
		if t.Kind() != order.Limit {
			return decimal.Zero, false
		}
		price := t.Price()
		if !evalSeg.Crosses(price) {
			return decimal.Zero, false
		}
		ref := seg.From.Price
		if gapped {
			ref = seg.To.Price
		}
		return bestOf(buy, price, ref), true

	case order.Trailing:
		return e.trailingStep(t, side, direction, seg, evalSeg, gapped)

	default:
		return decimal.Zero, false
	}
}

// bestOf returns the price most favorable to the order among a and b:
// for a buy that is the lower of the two, for a sell the higher,
// reproducing the "fill at the limit price, or better if the market
// gapped through it" convention.
func bestOf(buy bool, limitPrice, marketPrice decimal.Decimal) decimal.Decimal {
	if buy {
		if marketPrice.LessThan(limitPrice) {
			return marketPrice
		}
		return limitPrice
	}
	if marketPrice.GreaterThan(limitPrice) {
		return marketPrice
	}
	return limitPrice
}

// trailingStep updates the running extreme price for a trailing order
// and reports whether its trail offset has now been crossed. The
// extreme always tracks the price direction favorable to the position
// (up for a long's trailing exit, down for a short's), so the trigger
// always fires on a retracement against the holder: a segment moving in
// the tracked direction only moves the extreme. evalSeg (the gapped
// range on the open step, otherwise seg itself) is used for the
// crossing test so a retracement that happened entirely between the
// previous close and this bar's open is still caught.
func (e *Engine) trailingStep(t Trigger, side order.Side, direction order.Direction, seg, evalSeg Segment, gapped bool) (decimal.Decimal, bool) {
	trackHigh := (side == order.ExitSide && direction == order.Long) ||
		(side == order.EntrySide && direction == order.Short)

	extreme := t.Extreme()
	trail := t.Trail()

	candidatePrice := seg.To.Price
	if trackHigh {
		if extreme.IsZero() || candidatePrice.GreaterThan(extreme) {
			extreme = candidatePrice
		}
		t.SetExtreme(extreme)
		if seg.Rising() {
			return decimal.Zero, false
		}
		trigger := extreme.Sub(trail)
		if evalSeg.Crosses(trigger) {
			if gapped {
				return seg.To.Price, true
			}
			return trigger, true
		}
		return decimal.Zero, false
	}

	if extreme.IsZero() || candidatePrice.LessThan(extreme) {
		extreme = candidatePrice
	}
	t.SetExtreme(extreme)
	if seg.To.Price.LessThan(seg.From.Price) {
		return decimal.Zero, false
	}
	trigger := extreme.Add(trail)
	if evalSeg.Crosses(trigger) {
		if gapped {
			return seg.To.Price, true
		}
		return trigger, true
	}
	return decimal.Zero, false
}

// quantityViolation reports which, if any, enabled spec §6 reject-on-
// violation guard a candidate order size trips.
func (e *Engine) quantityViolation(typ order.Type, size, price decimal.Decimal, info symbol.Info) string {
	switch typ {
	case order.Limit, order.Lit:
		if e.Guards.LimitMaxQty && !info.LimitMaxQty.IsZero() && size.GreaterThan(info.LimitMaxQty) {
			return "limit_max_qty"
		}
		if e.Guards.LimitMinQty && size.LessThan(info.LimitMinQty) {
			return "limit_min_qty"
		}
	default:
		if e.Guards.MarketMaxQty && !info.MarketMaxQty.IsZero() && size.GreaterThan(info.MarketMaxQty) {
			return "market_max_qty"
		}
		if e.Guards.MarketMinQty && size.LessThan(info.MarketMinQty) {
			return "market_min_qty"
		}
	}
	if e.Guards.MinNotionalValue && !info.MinNotional.IsZero() && size.Mul(price).Abs().LessThan(info.MinNotional) {
		return "min_notional_value"
	}
	return ""
}

// executeEntry books a fill at the slippage-adjusted price, applying
// spec §6's pre-trade quantity/notional guards before committing margin.
// A guard violation or insufficient balance cancels the order rather
// than propagating an error, matching spec §7's "reject order" handling
// for both conditions.
func (e *Engine) executeEntry(o *order.Order, info symbol.Info, triggerPrice decimal.Decimal, b, prevBar bar.Bar, hasPrev bool) error {
	size := info.RoundQty(o.EntryOrderSize)
	price := info.RoundPrice(e.adjustedPrice(o.Symbol, o.Direction, size, triggerPrice, info, b, prevBar, hasPrev))

	if e.quantityViolation(o.EntryOrderType, size, price, info) != "" {
		o.EntryStatus = order.StatusCancelled
		return nil
	}

	fee := e.fee(o.Symbol)
	rate := fee.rateFor(o.EntryOrderType)
	commission := size.Mul(price).Mul(rate).Abs()
	notional := size.Mul(price).Abs()
	margin := notional
	if o.Leverage > 0 {
		margin = notional.Div(decimal.NewFromInt(int64(o.Leverage)))
	}
	if err := e.Ledger.ReserveMargin(margin); err != nil {
		o.EntryStatus = order.StatusCancelled
		return nil
	}
	e.Ledger.ApplyFee(commission)
	o.MarginCall = margin
	o.FillEntry(b.Time, size, price, commission)
	return nil
}

// executeExit books one exit leg's fill, releasing a proportional share
// of the position's reserved margin and realizing PnL on the filled
// size.
func (e *Engine) executeExit(o *order.Order, leg *order.ExitLeg, info symbol.Info, triggerPrice decimal.Decimal, b, prevBar bar.Bar, hasPrev bool) (order.ClosedTrade, error) {
	requested := leg.OrderSize
	if requested.IsZero() {
		requested = o.RemainingSize() // an exit with no explicit size closes the full remaining position
	}
	size := info.RoundQty(requested)
	if size.GreaterThan(o.RemainingSize()) {
		size = o.RemainingSize()
	}
	// Slippage is priced for the exit's own trade side: a Long's exit sells.
	exitSide := order.Short
	if isBuy(order.ExitSide, o.Direction) {
		exitSide = order.Long
	}
	price := info.RoundPrice(e.adjustedPrice(o.Symbol, exitSide, size, triggerPrice, info, b, prevBar, hasPrev))

	fee := e.fee(o.Symbol)
	rate := fee.rateFor(leg.OrderType)
	commission := size.Mul(price).Mul(rate).Abs()

	diff := price.Sub(o.EntryFilledPrice)
	if o.Direction == order.Short {
		diff = diff.Neg()
	}
	pnl := diff.Mul(size)

	marginReleased := decimal.Zero
	if !o.EntryFilledSize.IsZero() {
		marginReleased = o.MarginCall.Mul(size).Div(o.EntryFilledSize)
	}
	e.Ledger.ReleaseMargin(marginReleased)
	e.Ledger.ApplyRealizedPnL(pnl)
	e.Ledger.ApplyFee(commission)

	o.FillExitLeg(leg, b.Time, size, price, commission)

	return order.ClosedTrade{
		Order:        o.ID,
		Symbol:       o.Symbol,
		Name:         o.Name,
		TradeNumber:  o.TradeNumber,
		ExitSequence: o.ExitSequence,
		Direction:    o.Direction,
		EntryTime:    o.EntryFilledTime,
		EntryPrice:   o.EntryFilledPrice,
		ExitTime:     b.Time,
		ExitPrice:    price,
		Size:         size,
		PnL:          pnl,
		Commission:   commission,
		Liquidated:   false,
	}, nil
}

func (e *Engine) adjustedPrice(sym string, direction order.Direction, qty, refPrice decimal.Decimal, info symbol.Info, b, prevBar bar.Bar, hasPrev bool) decimal.Decimal {
	slipCtx := slippage.Context{
		Side:      direction,
		Qty:       qty,
		RefPrice:  refPrice,
		TickSize:  info.TickSize,
		Bar:       b,
		PrevBar:   prevBar,
		HasPrev:   hasPrev,
		BarVolume: b.Volume,
	}
	return e.slipModel(sym).Adjust(slipCtx)
}

// SettleFunding applies a funding payment to an open position's ledger.
func (e *Engine) SettleFunding(o *order.Order, evt funding.Event) {
	payment := funding.Settle(o, evt)
	e.Ledger.ApplyFunding(payment)
}
