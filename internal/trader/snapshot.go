package trader

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/newbee0315/btc-quant-tool-sub000/internal/model"
)

// SnapshotWriter periodically persists the engine status to a JSON file so
// external dashboards can read state without hitting the exchange. Writes go
// through a temp file and rename, so readers never observe a torn snapshot.
type SnapshotWriter struct {
	path   string
	maxAge time.Duration
	trader *Trader
	logger *zap.Logger
}

// NewSnapshotWriter builds a writer targeting path. maxAge bounds how old a
// snapshot may be before ReadSnapshot rejects it as stale.
func NewSnapshotWriter(path string, maxAge time.Duration, tr *Trader, logger *zap.Logger) *SnapshotWriter {
	return &SnapshotWriter{path: path, maxAge: maxAge, trader: tr, logger: logger}
}

// Write captures the current status and persists it atomically.
func (w *SnapshotWriter) Write(ctx context.Context) error {
	status, err := w.trader.Status(ctx)
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}

	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return fmt.Errorf("snapshot: marshal: %w", err)
	}

	dir := filepath.Dir(w.path)
	tmp, err := os.CreateTemp(dir, ".snapshot-*.json")
	if err != nil {
		return fmt.Errorf("snapshot: temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("snapshot: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("snapshot: close: %w", err)
	}
	if err := os.Rename(tmpName, w.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("snapshot: rename: %w", err)
	}

	w.logger.Debug("snapshot written",
		zap.String("path", w.path),
		zap.Int("positions", len(status.Positions)))
	return nil
}

// ReadSnapshot loads a persisted status, rejecting snapshots older than
// maxAge so consumers never act on dead data.
func ReadSnapshot(path string, maxAge time.Duration) (model.Status, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.Status{}, fmt.Errorf("read snapshot: %w", err)
	}
	var status model.Status
	if err := json.Unmarshal(data, &status); err != nil {
		return model.Status{}, fmt.Errorf("read snapshot: decode: %w", err)
	}
	if maxAge > 0 && time.Since(status.Timestamp) > maxAge {
		return model.Status{}, fmt.Errorf("read snapshot: stale (written %s)", status.Timestamp.Format(time.RFC3339))
	}
	return status, nil
}
