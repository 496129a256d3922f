package commitlog

import (
	"os"
	"sync"

	"github.com/spacetime-core/storage/pkg/storeerr"
)

// WriterConfig tunes segment rotation.
type WriterConfig struct {
	RotateThreshold int64
}

func DefaultWriterConfig() WriterConfig {
	return WriterConfig{RotateThreshold: defaultRotateThreshold}
}

// Writer owns the single active segment for a log directory. Only one
// Writer may be open on a directory at a time, matching §4.4's "one writer
// task owns the active segment".
type Writer struct {
	dir string
	cfg WriterConfig

	mu              sync.Mutex
	file            *os.File
	segmentStart    uint64
	bytesWritten    int64
	pending         []byte
	nextOffset      uint64
	durableOffset   *uint64
}

// NewWriter opens or creates the log directory and starts a fresh segment
// at startOffset.
func NewWriter(dir string, startOffset uint64, cfg WriterConfig) (*Writer, error) {
	if cfg.RotateThreshold <= 0 {
		cfg.RotateThreshold = defaultRotateThreshold
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, storeerr.NewIOError("mkdir commitlog dir", err)
	}
	w := &Writer{dir: dir, cfg: cfg, nextOffset: startOffset}
	if err := w.openSegment(startOffset); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *Writer) openSegment(minTxOffset uint64) error {
	path := segmentPath(w.dir, minTxOffset)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return storeerr.NewIOError("open segment", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return storeerr.NewIOError("stat segment", err)
	}
	if info.Size() == 0 {
		if _, err := f.Write(encodeSegmentHeader(segmentHeader{Version: LogFormatVersion, ChecksumAlgo: ChecksumCRC32})); err != nil {
			f.Close()
			return storeerr.NewIOError("write segment header", err)
		}
	}
	w.file = f
	w.segmentStart = minTxOffset
	w.bytesWritten = info.Size()
	return nil
}

// Append buffers a commit record into the writer's pending buffer. It is
// not durable until Commit flushes and fsyncs.
func (w *Writer) Append(records [][]byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	minTxOffset := w.nextOffset
	body, err := encodeCommit(Commit{MinTxOffset: minTxOffset, Records: records})
	if err != nil {
		return err
	}
	w.pending = append(w.pending, body...)
	w.nextOffset += uint64(len(records))
	return nil
}

// Commit flushes the pending buffer, fsyncs the segment, and rotates to a
// fresh segment if the size threshold was exceeded, per §4.4: "rotation
// happens between commits".
func (w *Writer) Commit() (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.pending) > 0 {
		n, err := w.file.Write(w.pending)
		w.bytesWritten += int64(n)
		if err != nil {
			return 0, storeerr.NewIOError("write commit", err)
		}
		w.pending = w.pending[:0]
	}
	if err := w.file.Sync(); err != nil {
		return 0, storeerr.NewIOError("fsync segment", err)
	}
	durable := w.nextOffset
	if w.durableOffset != nil {
		*w.durableOffset = durable
	}

	if w.bytesWritten >= w.cfg.RotateThreshold {
		if err := w.file.Close(); err != nil {
			return 0, storeerr.NewIOError("close segment before rotation", err)
		}
		if err := w.openSegment(w.nextOffset); err != nil {
			return 0, err
		}
	}
	return durable, nil
}

// BindDurableOffset lets a caller (e.g. mvcc.Datastore) observe the
// commitlog's durable offset cell directly without polling Commit's return
// value, matching §5's "single-producer multi-consumer cell".
func (w *Writer) BindDurableOffset(cell *uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.durableOffset = cell
}

// Close flushes any pending buffer, fsyncs, and releases the segment file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.pending) > 0 {
		if _, err := w.file.Write(w.pending); err != nil {
			return storeerr.NewIOError("write commit on close", err)
		}
		w.pending = nil
	}
	if err := w.file.Sync(); err != nil {
		return storeerr.NewIOError("fsync on close", err)
	}
	return w.file.Close()
}
