package snapshot

import (
	"sort"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/spacetime-core/storage/pkg/storeerr"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// catalogEntry is one row of the manifest catalog: a fast index over the
// snapshot directories on disk so latest() and retention decisions don't
// need to stat every manifest file, mirroring the teacher's SQLiteSource
// wrapping a typed config struct around database/sql.
type catalogEntry struct {
	Offset      uint64 `gorm:"primaryKey"`
	ObjectCount int
	Checksum    uint32
	Complete    bool
	CreatedAt   time.Time
}

// Catalog is a small embedded SQLite table (via gorm + a pure-Go sqlite
// driver) recording which offsets have a complete, valid snapshot on disk.
type Catalog struct {
	mu sync.Mutex
	db *gorm.DB
}

// OpenCatalog opens (creating if absent) the manifest catalog database at
// path, which may be ":memory:" for tests.
func OpenCatalog(path string) (*Catalog, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, storeerr.NewIOError("open snapshot catalog", err)
	}
	if err := db.AutoMigrate(&catalogEntry{}); err != nil {
		return nil, storeerr.NewIOError("migrate snapshot catalog", err)
	}
	return &Catalog{db: db}, nil
}

// Record upserts a catalog row for offset.
func (c *Catalog) Record(offset uint64, objectCount int, checksum uint32, complete bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry := catalogEntry{Offset: offset, ObjectCount: objectCount, Checksum: checksum, Complete: complete, CreatedAt: time.Now()}
	if err := c.db.Save(&entry).Error; err != nil {
		return storeerr.NewIOError("record snapshot catalog entry", err)
	}
	return nil
}

// Latest returns the highest offset with a complete snapshot, per §4.5's
// `latest()`.
func (c *Catalog) Latest() (uint64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var entry catalogEntry
	err := c.db.Where("complete = ?", true).Order("offset desc").First(&entry).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return 0, false, nil
		}
		return 0, false, storeerr.NewIOError("query latest snapshot", err)
	}
	return entry.Offset, true, nil
}

// CompleteOffsets returns every offset recorded complete, ascending —
// used by the retention sweep to decide what to keep.
func (c *Catalog) CompleteOffsets() ([]uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var entries []catalogEntry
	if err := c.db.Where("complete = ?", true).Find(&entries).Error; err != nil {
		return nil, storeerr.NewIOError("list snapshot catalog", err)
	}
	offsets := make([]uint64, len(entries))
	for i, e := range entries {
		offsets[i] = e.Offset
	}
	sort.Slice(offsets, func(i, j int) bool { return offsets[i] < offsets[j] })
	return offsets, nil
}

// Remove deletes a catalog row, used when retention evicts a snapshot dir.
func (c *Catalog) Remove(offset uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.db.Delete(&catalogEntry{}, "offset = ?", offset).Error; err != nil {
		return storeerr.NewIOError("remove snapshot catalog entry", err)
	}
	return nil
}

func (c *Catalog) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return storeerr.NewIOError("close snapshot catalog", err)
	}
	return sqlDB.Close()
}
