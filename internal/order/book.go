package order

import (
	"fmt"
	"sort"
	"sync/atomic"
)

var idSeq uint64

// NextID returns a deterministic, monotonically increasing order ID. It
// intentionally avoids github.com/google/uuid's random variant (V4 would
// break bit-identical replay across runs); IDs only need to be unique
// within a run, not globally unique, so a sequence is the correct and
// simplest choice — uuid is reserved in this codebase for the artifact
// package's externally-facing, globally-unique run/config identifiers.
func NextID() string {
	n := atomic.AddUint64(&idSeq, 1)
	return fmt.Sprintf("ord-%d", n)
}

// ResetIDSequence restarts order ID generation from zero. Call at the
// start of each run so repeated runs in the same process produce
// identical IDs for identical inputs.
func ResetIDSequence() {
	atomic.StoreUint64(&idSeq, 0)
}

// Book holds every order, for every symbol, across its lifecycle and the
// per-entry-name trade-number counters used to group partial exits.
type Book struct {
	orders      map[string]*Order // by ID
	bySymbol    map[string][]string
	tradeNumber map[string]int // keyed by symbol+name, last-assigned trade number
}

// NewBook returns an empty order book.
func NewBook() *Book {
	return &Book{
		orders:      make(map[string]*Order),
		bySymbol:    make(map[string][]string),
		tradeNumber: make(map[string]int),
	}
}

// Add registers a new order in the book, assigning its trade number.
func (b *Book) Add(o *Order) {
	key := o.Symbol + "|" + o.Name
	o.TradeNumber = b.tradeNumber[key] + 1
	b.tradeNumber[key] = o.TradeNumber
	b.orders[o.ID] = o
	b.bySymbol[o.Symbol] = append(b.bySymbol[o.Symbol], o.ID)
}

// Get returns an order by ID.
func (b *Book) Get(id string) (*Order, bool) {
	o, ok := b.orders[id]
	return o, ok
}

// ForSymbol returns every order for a symbol, in insertion order.
func (b *Book) ForSymbol(symbol string) []*Order {
	ids := b.bySymbol[symbol]
	out := make([]*Order, 0, len(ids))
	for _, id := range ids {
		if o, ok := b.orders[id]; ok {
			out = append(out, o)
		}
	}
	return out
}

// PendingEntries returns every order across every symbol whose entry has
// not yet filled, sorted by ID for deterministic iteration.
func (b *Book) PendingEntries() []*Order {
	return b.filterSorted(func(o *Order) bool { return o.IsPendingEntry() })
}

// PendingExits returns every order with an exit awaiting a fill, sorted
// by ID for deterministic iteration.
func (b *Book) PendingExits() []*Order {
	return b.filterSorted(func(o *Order) bool { return o.IsPendingExit() })
}

// OpenPositions returns every order currently holding an open position,
// sorted by ID for deterministic iteration.
func (b *Book) OpenPositions() []*Order {
	return b.filterSorted(func(o *Order) bool { return o.IsOpen() })
}

func (b *Book) filterSorted(pred func(*Order) bool) []*Order {
	out := make([]*Order, 0)
	for _, o := range b.orders {
		if pred(o) {
			out = append(out, o)
		}
	}
	// Shorter IDs first, so NextID's "ord-N" IDs sort in creation order
	// ("ord-2" before "ord-10").
	sort.Slice(out, func(i, j int) bool {
		if len(out[i].ID) != len(out[j].ID) {
			return len(out[i].ID) < len(out[j].ID)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Remove deletes an order from the book entirely (used after a closed
// position's record has been fully emitted to the trade log).
func (b *Book) Remove(id string) {
	o, ok := b.orders[id]
	if !ok {
		return
	}
	delete(b.orders, id)
	ids := b.bySymbol[o.Symbol]
	for i, v := range ids {
		if v == id {
			b.bySymbol[o.Symbol] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
}
