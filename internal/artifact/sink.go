package artifact

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// Sink is where a run's artifacts are written. internal/engine depends
// only on this interface, never on which concrete sink is active.
type Sink interface {
	WriteTrade(ctx context.Context, t TradeRecord) error
	WriteConfigSnapshot(ctx context.Context, s ConfigSnapshot) error
	Close() error
}

// JSONLSink is the default, dependency-free sink: an append-only
// JSON-lines file per run, grounded on the teacher's
// libs/replay.TraceStore (atomic per-entry append, one JSON object per
// line).
type JSONLSink struct {
	mu         sync.Mutex
	tradesFile *os.File
	configFile *os.File
}

// NewJSONLSink opens (creating if necessary) the trades file at tradesPath
// and the config snapshot file at configPath.
func NewJSONLSink(tradesPath, configPath string) (*JSONLSink, error) {
	tf, err := os.OpenFile(tradesPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("artifact: opening trades file: %w", err)
	}
	cf, err := os.OpenFile(configPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		tf.Close()
		return nil, fmt.Errorf("artifact: opening config snapshot file: %w", err)
	}
	return &JSONLSink{tradesFile: tf, configFile: cf}, nil
}

func (s *JSONLSink) WriteTrade(_ context.Context, t TradeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("artifact: marshaling trade record: %w", err)
	}
	b = append(b, '\n')
	_, err = s.tradesFile.Write(b)
	return err
}

func (s *JSONLSink) WriteConfigSnapshot(_ context.Context, snap ConfigSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	enc := json.NewEncoder(s.configFile)
	enc.SetIndent("", "  ")
	return enc.Encode(snap)
}

func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err1 := s.tradesFile.Close()
	err2 := s.configFile.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// Persister is the minimal surface PostgresSink needs, mirroring the
// teacher's internal/modules/artifacts.artifactPersister pattern: an
// interface over the handful of operations actually used, so a sink can
// be tested without a live database.
type Persister interface {
	InsertTrade(ctx context.Context, t TradeRecord) error
	InsertConfigSnapshot(ctx context.Context, s ConfigSnapshot) error
	Close()
}

// PostgresSink persists artifacts to a Postgres database via any
// Persister (in production, one backed by pgx/pgxpool; see
// cmd/backtest for the wiring). It is optional — operators who don't
// need queryable trade history use JSONLSink instead.
type PostgresSink struct {
	p Persister
}

// NewPostgresSink wraps an existing Persister.
func NewPostgresSink(p Persister) *PostgresSink {
	return &PostgresSink{p: p}
}

func (s *PostgresSink) WriteTrade(ctx context.Context, t TradeRecord) error {
	return s.p.InsertTrade(ctx, t)
}

func (s *PostgresSink) WriteConfigSnapshot(ctx context.Context, snap ConfigSnapshot) error {
	return s.p.InsertConfigSnapshot(ctx, snap)
}

func (s *PostgresSink) Close() error {
	s.p.Close()
	return nil
}
