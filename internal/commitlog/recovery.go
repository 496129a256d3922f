package commitlog

import (
	"os"

	"github.com/spacetime-core/storage/pkg/storeerr"
)

// ReplayHook applies one commit's records to the datastore's in-memory
// tables and indices; the datastore owns interpreting the opaque record
// bytes, per §4.4 step 3: "the datastore is responsible for applying each
// record to its in-memory tables and indices."
type ReplayHook func(c Commit) error

// RecoveryResult reports where the writer should resume appending after a
// full recovery scan.
type RecoveryResult struct {
	ResumeOffset    uint64
	TruncatedSegment bool
}

// Recover runs the algorithm from §4.4: scan segments sorted by
// min_tx_offset, replay each in order, and on the first corrupt commit
// truncate that segment to just before it, discard every later segment,
// and resume appending at the corrupt commit's offset.
//
// If snapshotOffset is non-zero, replay begins at snapshotOffset+1 instead
// of from the start of the log, per step 4.
func Recover(dir string, snapshotOffset uint64, replay ReplayHook) (RecoveryResult, error) {
	segments, err := listSegments(dir)
	if err != nil {
		return RecoveryResult{}, err
	}
	startFrom := uint64(0)
	if snapshotOffset > 0 {
		startFrom = snapshotOffset + 1
	}

	resume := startFrom
	for _, segStart := range segments {
		path := segmentPath(dir, segStart)
		data, err := os.ReadFile(path)
		if err != nil {
			return RecoveryResult{}, storeerr.NewIOError("read segment", err)
		}
		if len(data) < segmentHeaderSize {
			return RecoveryResult{}, storeerr.NewDecodeError("segment file", "at least header bytes", "truncated")
		}
		if _, err := decodeSegmentHeader(data[:segmentHeaderSize]); err != nil {
			return RecoveryResult{}, err
		}

		off := segmentHeaderSize
		for off < len(data) {
			c, n, derr := decodeCommit(data[off:])
			if derr != nil {
				// Bad or truncated trailing commit: cut the segment here,
				// drop every segment after it, and resume appending from
				// the offset just before the bad commit.
				if truncErr := os.Truncate(path, int64(off)); truncErr != nil {
					return RecoveryResult{}, storeerr.NewIOError("truncate corrupt segment", truncErr)
				}
				if discardErr := discardSegmentsAfter(dir, segments, segStart); discardErr != nil {
					return RecoveryResult{}, discardErr
				}
				return RecoveryResult{ResumeOffset: resume, TruncatedSegment: true}, nil
			}
			off += n
			if c.MinTxOffset+uint64(len(c.Records)) > startFrom {
				if err := replay(c); err != nil {
					return RecoveryResult{}, err
				}
			}
			resume = c.MinTxOffset + uint64(len(c.Records))
		}
	}
	return RecoveryResult{ResumeOffset: resume}, nil
}

func discardSegmentsAfter(dir string, segments []uint64, keepUpTo uint64) error {
	for _, s := range segments {
		if s > keepUpTo {
			if err := os.Remove(segmentPath(dir, s)); err != nil && !os.IsNotExist(err) {
				return storeerr.NewIOError("discard trailing segment", err)
			}
		}
	}
	return nil
}
