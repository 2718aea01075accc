package cutover

import (
	"log/slog"
	"sync/atomic"

	"github.com/kirillkom/bidscope/internal/core/domain"
)

// Gate answers per-stage, per-entity mode questions from the current
// snapshot. Reloads replace the snapshot as a whole.
type Gate struct {
	current atomic.Pointer[Snapshot]
}

func NewGate(snap *Snapshot) *Gate {
	g := &Gate{}
	if snap == nil {
		snap = EmptySnapshot()
	}
	g.current.Store(snap)
	return g
}

// LoadGate builds a gate from path. Configuration errors are logged and the
// affected stages stay on OLD.
func LoadGate(path string) *Gate {
	snap, err := LoadFile(path)
	if err != nil {
		slog.Error("cutover_config_invalid", "path", path, "error", err, "error_class", domain.ErrorClass(err))
	}
	logSnapshot(snap)
	return NewGate(snap)
}

func (g *Gate) GetMode(stage, entityID string) domain.CutoverMode {
	return g.current.Load().Mode(stage, entityID)
}

func (g *Gate) Swap(snap *Snapshot) {
	if snap == nil {
		snap = EmptySnapshot()
	}
	g.current.Store(snap)
}

func (g *Gate) Snapshot() *Snapshot {
	return g.current.Load()
}

// Reload re-reads path and swaps in the result. A broken file still swaps:
// the stages it cannot describe fall back to OLD.
func (g *Gate) Reload(path string) error {
	snap, err := LoadFile(path)
	g.Swap(snap)
	if err != nil {
		slog.Error("cutover_config_invalid", "path", path, "error", err, "error_class", domain.ErrorClass(err))
	}
	logSnapshot(snap)
	return err
}

func logSnapshot(snap *Snapshot) {
	slog.Info("cutover_config_loaded", "source", snap.Source, "stages", snap.Stages())
}

// Stages lists the stage names of the current snapshot.
func (g *Gate) Stages() []string {
	return g.current.Load().Stages()
}
