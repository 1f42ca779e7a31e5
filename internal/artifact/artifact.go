// Package artifact produces the backtest's output artifacts: the closed
// trade log, indicator arrays, and a hash-stamped config snapshot, with
// pluggable sinks for where they're written.
//
// The config snapshot's canonical-hash pattern is adapted from the
// teacher's internal/domain/artifacts.Artifact (CanonicalPayload/
// ComputeHash over a deterministically sorted map, SHA-256); the
// approval-workflow/state-machine parts of that teacher type are not
// carried over, since a backtest run has no promotion/approval lifecycle.
package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jax-quant/backtest/internal/order"
)

// ConfigSnapshot is the hash-stamped, immutable record of the config a
// run used.
type ConfigSnapshot struct {
	RunID     string    `json:"run_id"`
	CreatedAt time.Time `json:"created_at"`
	Config    map[string]interface{} `json:"config"`
	Hash      string    `json:"hash"`
}

// NewConfigSnapshot stamps a new snapshot with a fresh run ID. uuid is
// used here (rather than the deterministic sequence internal/order uses
// for order IDs) because a run ID must be globally unique across
// separate process invocations for artifact storage, not just unique
// within one run.
func NewConfigSnapshot(cfg map[string]interface{}) ConfigSnapshot {
	s := ConfigSnapshot{
		RunID:     uuid.NewString(),
		CreatedAt: time.Time{}, // stamped by the caller (the engine sets it as the run starts); zero until then
		Config:    cfg,
	}
	s.Hash = s.ComputeHash()
	return s
}

// CanonicalPayload returns a deterministically ordered JSON encoding of
// the snapshot's config, independent of Go map iteration order, so the
// hash is byte-identical across runs with identical config. RunID and
// CreatedAt are not part of the payload and differ between runs.
func (s ConfigSnapshot) CanonicalPayload() []byte {
	sorted := sortedMap(s.Config)
	b, err := json.Marshal(sorted)
	if err != nil {
		// Config values are always JSON-marshalable primitives produced by
		// internal/config; a marshal failure here indicates a programming
		// error, not a runtime condition callers can recover from.
		panic("artifact: config snapshot is not JSON-marshalable: " + err.Error())
	}
	return b
}

// ComputeHash returns the SHA-256 hex digest of CanonicalPayload.
func (s ConfigSnapshot) ComputeHash() string {
	sum := sha256.Sum256(s.CanonicalPayload())
	return hex.EncodeToString(sum[:])
}

// VerifyHash reports whether the snapshot's stored Hash still matches
// its current Config content.
func (s ConfigSnapshot) VerifyHash() bool {
	return s.Hash == s.ComputeHash()
}

// sortedMap recursively walks a map[string]interface{} value, returning
// an equivalent structure with keys in a type that marshals
// deterministically (a slice of key/value pairs). Maps held directly under
// a key are converted the same way; maps inside slices are left as maps.
func sortedMap(m map[string]interface{}) []keyValue {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]keyValue, 0, len(keys))
	for _, k := range keys {
		v := m[k]
		if nested, ok := v.(map[string]interface{}); ok {
			v = sortedMap(nested)
		}
		out = append(out, keyValue{Key: k, Value: v})
	}
	return out
}

type keyValue struct {
	Key   string      `json:"key"`
	Value interface{} `json:"value"`
}

// TradeRecord is the serialized form of order.ClosedTrade written to the
// trade log.
type TradeRecord struct {
	RunID        string    `json:"run_id"`
	Order        string    `json:"order"`
	Symbol       string    `json:"symbol"`
	Name         string    `json:"name"`
	TradeNumber  int       `json:"trade_number"`
	ExitSequence int       `json:"exit_sequence"`
	Direction    string    `json:"direction"`
	EntryTime    time.Time `json:"entry_time"`
	EntryPrice   string    `json:"entry_price"`
	ExitTime     time.Time `json:"exit_time"`
	ExitPrice    string    `json:"exit_price"`
	Size         string    `json:"size"`
	PnL          string    `json:"pnl"`
	Commission   string    `json:"commission"`
	Liquidated   bool      `json:"liquidated"`
}

// ToTradeRecord converts an internal closed trade into its serialized
// artifact form.
func ToTradeRecord(runID string, t order.ClosedTrade) TradeRecord {
	return TradeRecord{
		RunID:        runID,
		Order:        t.Order,
		Symbol:       t.Symbol,
		Name:         t.Name,
		TradeNumber:  t.TradeNumber,
		ExitSequence: t.ExitSequence,
		Direction:    t.Direction.String(),
		EntryTime:    t.EntryTime,
		EntryPrice:   t.EntryPrice.String(),
		ExitTime:     t.ExitTime,
		ExitPrice:    t.ExitPrice.String(),
		Size:         t.Size.String(),
		PnL:          t.PnL.String(),
		Commission:   t.Commission.String(),
		Liquidated:   t.Liquidated,
	}
}
