package snapshot

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/spacetime-core/storage/pkg/storeerr"
)

// RetentionCount bounds how many complete snapshots the worker keeps on
// disk; older ones are pruned once a newer snapshot is complete. The open
// question in §9 ("keep last K snapshots, keep last T bytes?") is resolved
// here as "keep last K" with K=2: one to recover from if the newest
// snapshot's write is interrupted mid-flight, one freshly completed.
const RetentionCount = 2

// TakenEvent is published on a Worker's subscribe channel once a snapshot
// at Offset is complete and recorded, so commitlog compression can begin
// on segments it now fully covers.
type TakenEvent struct {
	Offset uint64
}

// Worker persists periodic snapshots of a datastore's live state and
// enforces the retention policy, per §4.5.
type Worker struct {
	dir     string
	catalog *Catalog

	mu          sync.Mutex
	subscribers []chan TakenEvent
}

// NewWorker opens (or creates) the snapshot directory and its catalog.
func NewWorker(dir, catalogPath string) (*Worker, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, storeerr.NewIOError("mkdir snapshot dir", err)
	}
	cat, err := OpenCatalog(catalogPath)
	if err != nil {
		return nil, err
	}
	return &Worker{dir: dir, catalog: cat}, nil
}

// Trigger writes a new snapshot at offset atomically, records it in the
// catalog, notifies subscribers, and prunes old snapshots beyond
// RetentionCount.
func (w *Worker) Trigger(offset uint64, tables []TableDump) error {
	path, err := Write(w.dir, offset, tables)
	if err != nil {
		return err
	}
	m, err := Read(path)
	if err != nil {
		return err
	}
	if err := w.catalog.Record(offset, len(m.ObjectHashes), m.Checksum, true); err != nil {
		return err
	}
	w.notify(TakenEvent{Offset: offset})
	return w.enforceRetention()
}

// Latest returns the directory path of the highest-offset complete
// snapshot, or ok=false if none exists yet.
func (w *Worker) Latest() (offset uint64, dirPath string, ok bool, err error) {
	off, found, err := w.catalog.Latest()
	if err != nil || !found {
		return 0, "", false, err
	}
	return off, filepath.Join(w.dir, snapshotDirName(off)), true, nil
}

// Subscribe returns a channel of TakenEvent notifications. The channel is
// buffered so a slow consumer never blocks Trigger.
func (w *Worker) Subscribe() <-chan TakenEvent {
	w.mu.Lock()
	defer w.mu.Unlock()
	ch := make(chan TakenEvent, 8)
	w.subscribers = append(w.subscribers, ch)
	return ch
}

func (w *Worker) notify(e TakenEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, ch := range w.subscribers {
		select {
		case ch <- e:
		default:
		}
	}
}

// enforceRetention keeps only the RetentionCount highest complete
// offsets, deleting older snapshot directories and their catalog rows.
// Commitlog segment removal (the consumer of Subscribe's events) is safe
// to run once it observes a TakenEvent for an offset fully covering the
// segments it wants to drop; retention here never removes the single
// newest snapshot, so there is always a fallback recovery point.
func (w *Worker) enforceRetention() error {
	offsets, err := w.catalog.CompleteOffsets()
	if err != nil {
		return err
	}
	if len(offsets) <= RetentionCount {
		return nil
	}
	toEvict := offsets[:len(offsets)-RetentionCount]
	for _, off := range toEvict {
		if err := os.RemoveAll(filepath.Join(w.dir, snapshotDirName(off))); err != nil {
			return storeerr.NewIOError("evict old snapshot", err)
		}
		if err := w.catalog.Remove(off); err != nil {
			return err
		}
	}
	return nil
}

func (w *Worker) Close() error {
	return w.catalog.Close()
}
