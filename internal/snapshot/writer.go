package snapshot

import (
	"encoding/hex"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spacetime-core/storage/internal/algebra"
	"github.com/spacetime-core/storage/internal/blob"
	"github.com/spacetime-core/storage/pkg/storeerr"
)

// Write builds a snapshot for offset atomically: it stages the manifest
// and object files under a uniquely-named temp directory, then renames
// that directory into place only once everything is flushed, per §4.5's
// "write into a temporary directory and rename on completion".
//
// Any Bytes column at or above blob.InlineThreshold is externalized into
// objects/, content-addressed by its blob hash, and replaced in the
// manifest's row dump with a Blob reference — the same naming the blob
// store itself uses, per §4.5's "the same blob-hash naming as the blob
// store".
func Write(baseDir string, offset uint64, tables []TableDump) (string, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return "", storeerr.NewIOError("mkdir snapshot base dir", err)
	}

	tmpName := snapshotDirName(offset) + "-tmp-" + uuid.NewString()
	tmpPath := filepath.Join(baseDir, tmpName)
	objectsPath := filepath.Join(tmpPath, objectsDirName)
	if err := os.MkdirAll(objectsPath, 0o755); err != nil {
		return "", storeerr.NewIOError("mkdir snapshot temp dir", err)
	}

	seen := make(map[string]bool)
	var hashes []string
	externalized := make([]TableDump, len(tables))
	for ti, td := range tables {
		rows := make([][]algebra.AlgebraicValue, len(td.Rows))
		for ri, row := range td.Rows {
			cp := make([]algebra.AlgebraicValue, len(row))
			for ci, v := range row {
				cp[ci] = externalizeValue(v, objectsPath, seen, &hashes)
			}
			rows[ri] = cp
		}
		externalized[ti] = TableDump{Name: td.Name, Rows: rows, Pointers: td.Pointers}
	}

	manifest := Manifest{Offset: offset, Tables: externalized, ObjectHashes: hashes}
	body, err := encodeManifest(manifest)
	if err != nil {
		return "", storeerr.NewIOError("encode manifest", err)
	}
	if err := os.WriteFile(filepath.Join(tmpPath, manifestFileName), body, 0o644); err != nil {
		invalidPath := filepath.Join(baseDir, snapshotDirName(offset)+invalidSnapshotTag+"-"+uuid.NewString())
		_ = os.Rename(tmpPath, invalidPath)
		return "", storeerr.NewIOError("write manifest", err)
	}

	finalPath := filepath.Join(baseDir, snapshotDirName(offset))
	if err := os.RemoveAll(finalPath); err != nil {
		return "", storeerr.NewIOError("clear previous snapshot dir", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		invalidPath := filepath.Join(baseDir, snapshotDirName(offset)+invalidSnapshotTag+"-"+uuid.NewString())
		_ = os.Rename(tmpPath, invalidPath)
		return "", storeerr.NewIOError("rename snapshot dir into place", err)
	}
	return finalPath, nil
}

// externalizeValue writes v's bytes to objectsPath when it is large enough
// to spill, recording its hash and returning a value carrying a Blob
// reference in place of the inline bytes. Small values and non-bytes
// values pass through unchanged.
func externalizeValue(v algebra.AlgebraicValue, objectsPath string, seen map[string]bool, hashes *[]string) algebra.AlgebraicValue {
	if v.Kind != algebra.KindBytes || len(v.Bytes) < blob.InlineThreshold {
		return v
	}
	h := blob.HashOf(v.Bytes)
	hexName := h.String()
	if !seen[hexName] {
		seen[hexName] = true
		*hashes = append(*hashes, hexName)
		_ = os.WriteFile(filepath.Join(objectsPath, hexName), v.Bytes, 0o644)
	}
	ref := h
	return algebra.AlgebraicValue{Kind: algebra.KindBytes, Blob: &algebra.BlobRef{Hash: ref}}
}

// Read loads and validates the manifest at dirPath, re-inlining any
// externalized object bytes back into their row values.
func Read(dirPath string) (Manifest, error) {
	body, err := os.ReadFile(filepath.Join(dirPath, manifestFileName))
	if err != nil {
		return Manifest{}, storeerr.NewIOError("read manifest", err)
	}
	m, err := decodeManifest(body)
	if err != nil {
		return Manifest{}, err
	}
	objectsPath := filepath.Join(dirPath, objectsDirName)
	for ti, td := range m.Tables {
		for ri, row := range td.Rows {
			for ci, v := range row {
				if v.Kind == algebra.KindBytes && v.Blob != nil {
					hexName := hex.EncodeToString(v.Blob.Hash[:])
					data, err := os.ReadFile(filepath.Join(objectsPath, hexName))
					if err != nil {
						return Manifest{}, storeerr.NewIOError("read snapshot object", err)
					}
					m.Tables[ti].Rows[ri][ci] = algebra.AlgebraicValue{Kind: algebra.KindBytes, Bytes: data}
				}
			}
		}
	}
	return m, nil
}
