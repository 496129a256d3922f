// Package snapshot persists the live state of a datastore periodically so
// recovery never has to replay the entire commitlog from offset zero, per
// §4.5.
package snapshot

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"hash/crc32"

	"github.com/spacetime-core/storage/internal/algebra"
	"github.com/spacetime-core/storage/internal/index"
)

const (
	snapshotDirSuffix  = ".snapshot_dir"
	invalidSnapshotTag = ".invalid_snapshot"
	objectsDirName     = "objects"
	manifestFileName   = "manifest.gob"
)

// TableDump is one table's full row set as of the snapshot's offset. Pointers
// records each row's RowPointer alongside its values so restore can
// reproduce the exact same pointer identity a WAL record replayed after the
// snapshot's offset might still address.
type TableDump struct {
	Name     string
	Rows     [][]algebra.AlgebraicValue
	Pointers []index.RowPointer
}

// Manifest names every object file a snapshot references and carries a
// checksum over its own contents, per §4.5's "readers of partial snapshots
// must reject them via a manifest-level checksum".
type Manifest struct {
	Offset       uint64
	Tables       []TableDump
	ObjectHashes []string
	Checksum     uint32
}

// snapshotDirName renders `{offset:020}.snapshot_dir`, per §6.
func snapshotDirName(offset uint64) string {
	return fmt.Sprintf("%020d%s", offset, snapshotDirSuffix)
}

func encodeManifestBody(m Manifest) ([]byte, error) {
	m.Checksum = 0
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func manifestChecksum(body []byte) uint32 {
	return crc32.ChecksumIEEE(body)
}

// encodeManifest serializes m with its checksum field populated.
func encodeManifest(m Manifest) ([]byte, error) {
	body, err := encodeManifestBody(m)
	if err != nil {
		return nil, err
	}
	m.Checksum = manifestChecksum(body)
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodeManifest parses a manifest and validates its checksum, returning a
// checksum error distinguishable from a structural decode error so callers
// can tell "this snapshot is corrupt" from "this isn't a manifest at all".
func decodeManifest(data []byte) (Manifest, error) {
	var m Manifest
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&m); err != nil {
		return Manifest{}, err
	}
	want := m.Checksum
	body, err := encodeManifestBody(m)
	if err != nil {
		return Manifest{}, err
	}
	if manifestChecksum(body) != want {
		return Manifest{}, errManifestChecksum
	}
	return m, nil
}

var errManifestChecksum = fmt.Errorf("snapshot: manifest checksum mismatch")
