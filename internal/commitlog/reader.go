package commitlog

import (
	"os"

	"github.com/spacetime-core/storage/pkg/storeerr"
)

// Reader traverses committed records across a log directory's segments.
type Reader struct {
	dir string
}

func NewReader(dir string) *Reader {
	return &Reader{dir: dir}
}

// VisitFunc is called once per commit record found by IterateFrom; it
// returns false to stop iteration early without error.
type VisitFunc func(c Commit) bool

// IterateFrom opens the segment containing offset and yields commits in
// order starting at the first that holds a tx offset >= offset (a commit
// that straddles offset is included), per §4.4's `iterate_from(offset)`.
//
// On encountering a bad checksum it returns a final *storeerr.ChecksumError
// carrying the offending commit's byte offset within its segment file; if
// an earlier commit in the
// same traversal already failed, it instead returns
// *storeerr.OutOfOrderError{PrevError: <that earlier error>}, matching the
// traversal contract in §4.4 and the invariant in §8.
func (r *Reader) IterateFrom(offset uint64, visit VisitFunc) error {
	segments, err := listSegments(r.dir)
	if err != nil {
		return err
	}
	start, ok := segmentContaining(segments, offset)
	if !ok {
		return nil
	}
	var prevErr error
	for _, segStart := range segments {
		if segStart < start {
			continue
		}
		stop, err := r.iterateSegment(segStart, offset, visit, &prevErr)
		if err != nil {
			return err
		}
		if stop {
			return nil
		}
	}
	return nil
}

// iterateSegment reads one segment file fully into memory (segments are
// bounded by WriterConfig.RotateThreshold) and walks its commits in order.
func (r *Reader) iterateSegment(segStart, fromOffset uint64, visit VisitFunc, prevErr *error) (stop bool, err error) {
	path := segmentPath(r.dir, segStart)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, storeerr.NewIOError("read segment", err)
	}
	if len(data) < segmentHeaderSize {
		return false, storeerr.NewDecodeError("segment file", "at least header bytes", "truncated")
	}
	if _, err := decodeSegmentHeader(data[:segmentHeaderSize]); err != nil {
		return false, err
	}

	off := segmentHeaderSize
	for off < len(data) {
		commitStart := uint64(off)
		c, n, derr := decodeCommit(data[off:])
		if derr != nil {
			if derr == errBadChecksum {
				checksumErr := &storeerr.ChecksumError{Offset: int64(commitStart)}
				if *prevErr != nil {
					return true, &storeerr.OutOfOrderError{PrevError: *prevErr}
				}
				*prevErr = checksumErr
				return true, checksumErr
			}
			// Short/truncated trailing write: treat as end of durable
			// data, not corruption — matches a writer that crashed
			// mid-append before fsync.
			return true, nil
		}
		off += n
		if c.MinTxOffset+uint64(len(c.Records)) <= fromOffset {
			continue
		}
		if !visit(c) {
			return true, nil
		}
	}
	return false, nil
}

// ResumeResult describes where a writer should continue appending after
// reopening a log, per §4.4's `resume_writer(offset)`.
type ResumeResult struct {
	NextOffset     uint64
	SizeInBytes    int64
	TruncateAt     int64 // byte offset to truncate the segment to, if TrailingCorrupt
	TrailingCorrupt bool
}

// ResumeWriter reopens the segment containing offset, validates its
// header, and traverses forward to the end, computing the next tx offset
// to append at and the segment's live byte size. If a trailing commit is
// corrupt, it reports the truncation point so the caller can cut the
// segment back to a clean boundary before resuming.
func ResumeWriter(dir string, offset uint64) (ResumeResult, error) {
	segments, err := listSegments(dir)
	if err != nil {
		return ResumeResult{}, err
	}
	segStart, ok := segmentContaining(segments, offset)
	if !ok {
		return ResumeResult{NextOffset: offset}, nil
	}
	path := segmentPath(dir, segStart)
	data, err := os.ReadFile(path)
	if err != nil {
		return ResumeResult{}, storeerr.NewIOError("read segment", err)
	}
	if len(data) < segmentHeaderSize {
		return ResumeResult{}, storeerr.NewDecodeError("segment file", "at least header bytes", "truncated")
	}
	if _, err := decodeSegmentHeader(data[:segmentHeaderSize]); err != nil {
		return ResumeResult{}, err
	}

	off := segmentHeaderSize
	next := segStart
	for off < len(data) {
		c, n, derr := decodeCommit(data[off:])
		if derr != nil {
			if derr == errBadChecksum {
				return ResumeResult{NextOffset: next, SizeInBytes: int64(off), TruncateAt: int64(off), TrailingCorrupt: true}, nil
			}
			return ResumeResult{NextOffset: next, SizeInBytes: int64(off), TruncateAt: int64(off), TrailingCorrupt: true}, nil
		}
		off += n
		next = c.MinTxOffset + uint64(len(c.Records))
	}
	return ResumeResult{NextOffset: next, SizeInBytes: int64(off)}, nil
}
