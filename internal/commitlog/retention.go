package commitlog

import (
	"os"

	"github.com/spacetime-core/storage/pkg/storeerr"
)

// RemoveCoveredSegments deletes every commitlog segment fully covered by a
// snapshot taken at offset: a segment is covered once the next segment's
// min_tx_offset is at or before offset+1, meaning every record the segment
// holds committed at or before the snapshot. The active (last-listed)
// segment is never removed, since it may still be receiving appends.
//
// This is distinct from discardSegmentsAfter, which trims corrupt trailing
// segments found during recovery; this one runs during steady-state
// operation, driven by the snapshot worker's retention policy (§4.5).
func RemoveCoveredSegments(dir string, offset uint64) error {
	segments, err := listSegments(dir)
	if err != nil {
		return err
	}
	for i := 0; i+1 < len(segments); i++ {
		if segments[i+1] > offset+1 {
			break
		}
		if err := os.Remove(segmentPath(dir, segments[i])); err != nil && !os.IsNotExist(err) {
			return storeerr.NewIOError("remove covered segment", err)
		}
	}
	return nil
}
