// Package mvcc implements the datastore's transactional view: a single
// writer at a time, unbounded concurrent readers, and commit/rollback over
// a tx-local delta that is applied atomically to the underlying tables.
package mvcc

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/spacetime-core/storage/internal/blob"
	"github.com/spacetime-core/storage/internal/commitlog"
	"github.com/spacetime-core/storage/internal/table"
	"github.com/spacetime-core/storage/pkg/storeerr"
)

// TableId identifies one table within a Datastore.
type TableId uint64

// Config tunes the datastore's concurrency and logging behavior.
type Config struct {
	Logger zerolog.Logger
}

// DefaultConfig returns a Config with a disabled logger, matching the
// teacher's DefaultConfig-with-sane-defaults shape.
func DefaultConfig() *Config {
	return &Config{Logger: zerolog.Nop()}
}

// Datastore owns a set of tables and exposes the transactional view over
// them. Mutation only happens under writerMu, held for the duration of a
// MutTx; reads never block on it.
type Datastore struct {
	cfg *Config

	mu       sync.RWMutex
	tables   map[TableId]*table.Table
	schemas  map[TableId]*table.Schema
	nextId   uint64
	blobs    blob.Store

	writerMu        sync.Mutex
	committedOffset uint64 // durable_offset analogue; advances on commit
	wal             *commitlog.Writer

	readersMu  sync.Mutex
	readerRefs map[uint64]int

	snapshotWG sync.WaitGroup

	closed int32
}

// NewDatastore constructs an empty datastore backed by blobs for var-len
// column spill.
func NewDatastore(cfg *Config, blobs blob.Store) *Datastore {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Datastore{
		cfg:        cfg,
		tables:     make(map[TableId]*table.Table),
		schemas:    make(map[TableId]*table.Schema),
		blobs:      blobs,
		readerRefs: make(map[uint64]int),
	}
}

// AttachWAL binds a commitlog writer so that future commits are durably
// logged before their offset advances. Call this once at startup, after any
// recovery/replay has already populated the tables via ReplayRecord.
func (d *Datastore) AttachWAL(w *commitlog.Writer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.wal = w
}

// CreateTable registers a new table and returns its TableId.
func (d *Datastore) CreateTable(schema *table.Schema) TableId {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextId++
	id := TableId(d.nextId)
	schema.TableId = uint64(id)
	d.tables[id] = table.NewTable(schema, d.blobs)
	d.schemas[id] = schema
	d.cfg.Logger.Info().Uint64("table_id", uint64(id)).Str("name", schema.Name).Msg("table created")
	return id
}

// DropTable removes a table entirely.
func (d *Datastore) DropTable(id TableId) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.tables, id)
	delete(d.schemas, id)
	d.cfg.Logger.Info().Uint64("table_id", uint64(id)).Msg("table dropped")
}

func (d *Datastore) table(id TableId) (*table.Table, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	t, ok := d.tables[id]
	if !ok {
		return nil, storeerr.NewNoSuchTable(uint64(id))
	}
	return t, nil
}

// DurableOffset returns the highest commit offset acknowledged durable so
// far, a monotonically non-decreasing single-producer cell.
func (d *Datastore) DurableOffset() uint64 {
	return atomic.LoadUint64(&d.committedOffset)
}

// BeginRead snapshots the current committed state identifier; the returned
// Tx observes only rows committed at or before this call. The snapshot
// offset is tracked so tombstoned rows it might still need are not swept
// out from under it before Close.
func (d *Datastore) BeginRead() *Tx {
	offset := d.DurableOffset()
	d.readersMu.Lock()
	d.readerRefs[offset]++
	d.readersMu.Unlock()
	return &Tx{ds: d, snapshotOffset: offset}
}

// untrackReader releases a Tx's hold on its snapshot offset, then sweeps any
// tombstoned row no longer reachable by any remaining open reader.
func (d *Datastore) untrackReader(offset uint64) {
	d.readersMu.Lock()
	if n := d.readerRefs[offset]; n > 1 {
		d.readerRefs[offset] = n - 1
	} else {
		delete(d.readerRefs, offset)
	}
	min := d.minOpenSnapshotLocked()
	d.readersMu.Unlock()

	d.mu.RLock()
	tables := make([]*table.Table, 0, len(d.tables))
	for _, t := range d.tables {
		tables = append(tables, t)
	}
	d.mu.RUnlock()
	for _, t := range tables {
		t.SweepTombstones(min)
	}
}

// minOpenSnapshot returns the oldest snapshot offset any open Tx still
// depends on, or the current committed offset if no reader is open (meaning
// anything already committed can be reclaimed immediately).
func (d *Datastore) minOpenSnapshot() uint64 {
	d.readersMu.Lock()
	defer d.readersMu.Unlock()
	return d.minOpenSnapshotLocked()
}

func (d *Datastore) minOpenSnapshotLocked() uint64 {
	if len(d.readerRefs) == 0 {
		return atomic.LoadUint64(&d.committedOffset)
	}
	min := ^uint64(0)
	for offset := range d.readerRefs {
		if offset < min {
			min = offset
		}
	}
	return min
}

// BeginSnapshot marks a background snapshot as in progress, so Close waits
// for it to finish before tearing down the blob store it reads through.
func (d *Datastore) BeginSnapshot() { d.snapshotWG.Add(1) }

// EndSnapshot marks a background snapshot started by BeginSnapshot as done.
func (d *Datastore) EndSnapshot() { d.snapshotWG.Done() }

// BeginWrite acquires the single writer lock for the duration of the
// returned MutTx and attaches a fresh tx-local delta.
func (d *Datastore) BeginWrite() *MutTx {
	d.writerMu.Lock()
	return &MutTx{
		ds:             d,
		snapshotOffset: d.DurableOffset(),
		delta:          newDelta(),
	}
}

// Close drains the writer lock, waits for any in-progress snapshot to
// finish reading through the blob store, then closes the WAL and the blob
// store, per §5's orderly-shutdown sequencing.
func (d *Datastore) Close() error {
	if !atomic.CompareAndSwapInt32(&d.closed, 0, 1) {
		return fmt.Errorf("datastore already closed")
	}
	d.writerMu.Lock()
	defer d.writerMu.Unlock()

	d.snapshotWG.Wait()

	if d.wal != nil {
		if err := d.wal.Close(); err != nil {
			return err
		}
	}
	if d.blobs != nil {
		if err := d.blobs.Close(); err != nil {
			return err
		}
	}
	d.cfg.Logger.Info().Msg("datastore closed")
	return nil
}
