package commitlog

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"

	"github.com/spacetime-core/storage/pkg/storeerr"
)

// Commit is one commit record: a batch of opaque records sharing a single
// min_tx_offset, per §4.4's "records are opaque payloads supplied by the
// datastore (typically a batch of row inserts/deletes)".
type Commit struct {
	MinTxOffset uint64
	Records     [][]byte
}

// errBadChecksum is decodeCommit's internal signal that a commit's CRC did
// not match. The reader, which knows the commit's byte offset within its
// segment file, wraps this into a *storeerr.ChecksumError carrying that
// offset.
var errBadChecksum = errors.New("commitlog: commit checksum mismatch")

// encodeCommit renders a Commit per §6's wire format:
// [min_tx_offset u64 LE][n u16 LE]([record_len u32 LE][record_bytes]) × n [crc32 u32 LE].
// The CRC covers everything before it, matching "the CRC protects the
// entire record body" in §4.4.
func encodeCommit(c Commit) ([]byte, error) {
	if len(c.Records) > 0xFFFF {
		return nil, storeerr.NewDecodeError("commit record count", "<= 65535", fmt.Sprintf("%d", len(c.Records)))
	}
	size := 8 + 2
	for _, r := range c.Records {
		size += 4 + len(r)
	}
	buf := make([]byte, size+4)
	off := 0
	binary.LittleEndian.PutUint64(buf[off:], c.MinTxOffset)
	off += 8
	binary.LittleEndian.PutUint16(buf[off:], uint16(len(c.Records)))
	off += 2
	for _, r := range c.Records {
		binary.LittleEndian.PutUint32(buf[off:], uint32(len(r)))
		off += 4
		copy(buf[off:], r)
		off += len(r)
	}
	crc := crc32.ChecksumIEEE(buf[:off])
	binary.LittleEndian.PutUint32(buf[off:], crc)
	return buf, nil
}

// decodeCommit reads one commit record starting at data[0], returning the
// commit, the number of bytes consumed, and an error.
//
// errBadChecksum means the commit body is present but its CRC does not
// match: the defining bit-rot-detection property from §4.4. A
// *storeerr.DecodeError means the buffer ran out before a complete commit
// could be read — a truncated trailing write, not necessarily corruption.
func decodeCommit(data []byte) (Commit, int, error) {
	if len(data) < 10 {
		return Commit{}, 0, storeerr.NewDecodeError("commit header", "10 bytes", fmt.Sprintf("%d bytes", len(data)))
	}
	minTxOffset := binary.LittleEndian.Uint64(data[0:8])
	n := int(binary.LittleEndian.Uint16(data[8:10]))
	off := 10
	records := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		if len(data) < off+4 {
			return Commit{}, 0, storeerr.NewDecodeError("record length", fmt.Sprintf(">= %d bytes", off+4), fmt.Sprintf("%d bytes", len(data)))
		}
		recLen := int(binary.LittleEndian.Uint32(data[off:]))
		off += 4
		if len(data) < off+recLen {
			return Commit{}, 0, storeerr.NewDecodeError("record body", fmt.Sprintf(">= %d bytes", off+recLen), fmt.Sprintf("%d bytes", len(data)))
		}
		rec := make([]byte, recLen)
		copy(rec, data[off:off+recLen])
		records = append(records, rec)
		off += recLen
	}
	if len(data) < off+4 {
		return Commit{}, 0, storeerr.NewDecodeError("commit crc32", fmt.Sprintf(">= %d bytes", off+4), fmt.Sprintf("%d bytes", len(data)))
	}
	wantCRC := crc32.ChecksumIEEE(data[:off])
	gotCRC := binary.LittleEndian.Uint32(data[off:])
	off += 4
	if wantCRC != gotCRC {
		return Commit{MinTxOffset: minTxOffset}, off, errBadChecksum
	}
	return Commit{MinTxOffset: minTxOffset, Records: records}, off, nil
}
