package main

import (
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spacetime-core/storage/internal/algebra"
	"github.com/spacetime-core/storage/internal/blob"
	"github.com/spacetime-core/storage/internal/commitlog"
	"github.com/spacetime-core/storage/internal/mvcc"
	"github.com/spacetime-core/storage/internal/snapshot"
	"github.com/spacetime-core/storage/internal/table"
	"github.com/spacetime-core/storage/pkg/config"
)

func main() {
	cfg := config.LoadConfigOrDefault()
	logger := newLogger(cfg.Log)

	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		logger.Fatal().Err(err).Msg("create data directory failed")
	}

	blobs, err := openBlobStore(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("open blob store failed")
	}

	ds := mvcc.NewDatastore(&mvcc.Config{Logger: logger}, blobs)

	// Schemas must be registered before snapshot restore or commitlog
	// recovery run: both resolve tables by name, and a restore/replay
	// against a table that does not exist yet is silently dropped (snapshot
	// restore) or fatal (commitlog.Recover's NoSuchTable).
	greetingsId := registerSchemas(ds)

	commitlogDir := filepath.Join(cfg.Storage.DataDir, "commitlog")
	snapshotDir := filepath.Join(cfg.Storage.DataDir, "snapshots")
	catalogPath := filepath.Join(cfg.Storage.DataDir, "snapshots.db")

	snapWorker, err := snapshot.NewWorker(snapshotDir, catalogPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("open snapshot worker failed")
	}
	defer snapWorker.Close()

	resumeOffset := restoreFromLatestSnapshot(ds, snapWorker, logger)

	recovery, err := commitlog.Recover(commitlogDir, resumeOffset, ds.ReplayCommit)
	if err != nil {
		logger.Fatal().Err(err).Msg("commitlog recovery failed")
	}
	if recovery.TruncatedSegment {
		logger.Warn().
			Uint64("resume_offset", recovery.ResumeOffset).
			Msg("commitlog recovery truncated a corrupt trailing segment")
	}

	wal, err := commitlog.NewWriter(commitlogDir, recovery.ResumeOffset, commitlog.WriterConfig{
		RotateThreshold: cfg.Commitlog.RotateThresholdBytes,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("open commitlog writer failed")
	}
	ds.AttachWAL(wal)

	stopRetention := startRetentionLoop(snapWorker, commitlogDir, logger)
	stopSnapshots := startSnapshotLoop(ds, snapWorker, cfg.Snapshot.Interval, logger)

	seedDemoData(ds, greetingsId, logger)

	logger.Info().
		Str("data_dir", cfg.Storage.DataDir).
		Uint64("durable_offset", ds.DurableOffset()).
		Msg("storaged ready")

	waitForShutdown(logger)

	close(stopSnapshots)
	close(stopRetention)
	if err := ds.Close(); err != nil {
		logger.Error().Err(err).Msg("datastore shutdown failed")
	}
	logger.Info().Msg("storaged stopped")
}

func newLogger(cfg config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	var out zerolog.Logger
	if cfg.Format == "json" {
		out = zerolog.New(os.Stdout)
	} else {
		out = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout})
	}
	return out.Level(level).With().Timestamp().Logger()
}

func openBlobStore(cfg *config.Config) (blob.Store, error) {
	switch cfg.Blob.Backend {
	case "memory":
		return blob.NewMemoryStore(), nil
	default:
		dir := filepath.Join(cfg.Storage.DataDir, "blobs")
		bcfg := blob.DefaultBadgerStoreConfig(dir)
		bcfg.ValueThreshold = cfg.Blob.ValueThreshold
		return blob.OpenBadgerStore(bcfg)
	}
}

// registerSchemas creates every table this daemon knows about. It always
// runs, even on a warm start, since restore and recovery both resolve rows
// against tables that must already exist.
func registerSchemas(ds *mvcc.Datastore) mvcc.TableId {
	return ds.CreateTable(&table.Schema{
		Name: "greetings",
		Columns: []table.ColumnSchema{
			{Name: "id", Type: algebra.AlgebraicType{Kind: algebra.KindU64}, Unique: true},
			{Name: "message", Type: algebra.AlgebraicType{Kind: algebra.KindString}},
		},
		Indexes: []table.IndexDef{
			{Name: "id_unique", Columns: []int{0}, Unique: true},
		},
	})
}

// restoreFromLatestSnapshot loads the highest-offset complete snapshot, if
// any, before commitlog replay resumes past its offset, per §4.4 step 4.
func restoreFromLatestSnapshot(ds *mvcc.Datastore, w *snapshot.Worker, logger zerolog.Logger) uint64 {
	offset, dir, ok, err := w.Latest()
	if err != nil {
		logger.Warn().Err(err).Msg("reading latest snapshot failed, starting from empty state")
		return 0
	}
	if !ok {
		return 0
	}
	manifest, err := snapshot.Read(dir)
	if err != nil {
		logger.Warn().Err(err).Uint64("offset", offset).Msg("restoring latest snapshot failed, starting from empty state")
		return 0
	}
	if err := ds.RestoreFromSnapshot(manifest); err != nil {
		logger.Warn().Err(err).Uint64("offset", offset).Msg("replaying snapshot rows failed, starting from empty state")
		return 0
	}
	logger.Info().Uint64("offset", offset).Msg("restored from snapshot")
	return offset
}

// startSnapshotLoop periodically triggers a snapshot of the datastore's
// live state; the stop channel, once closed, ends the goroutine. Each dump
// is taken while an open MutTx holds the writer lock, so it matches the
// offset it is recorded at. Each trigger is bracketed by
// BeginSnapshot/EndSnapshot so Datastore.Close waits for an in-flight
// snapshot to finish reading through the blob store before closing it.
func startSnapshotLoop(ds *mvcc.Datastore, w *snapshot.Worker, interval time.Duration, logger zerolog.Logger) chan struct{} {
	stop := make(chan struct{})
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				mt := ds.BeginWrite()
				ds.BeginSnapshot()
				offset := ds.DurableOffset()
				tables := ds.DumpForSnapshot()
				mt.Rollback()
				err := w.Trigger(offset, tables)
				ds.EndSnapshot()
				if err != nil {
					logger.Error().Err(err).Uint64("offset", offset).Msg("snapshot trigger failed")
					continue
				}
				logger.Info().Uint64("offset", offset).Msg("snapshot taken")
			}
		}
	}()
	return stop
}

// startRetentionLoop consumes the snapshot worker's TakenEvent notifications
// and removes the commitlog segments each snapshot now fully covers, per
// §4.5's "persist periodically... so recovery never has to replay the entire
// commitlog from offset zero" — without this consumer the commitlog would
// grow without bound even though a covering snapshot already exists.
func startRetentionLoop(w *snapshot.Worker, commitlogDir string, logger zerolog.Logger) chan struct{} {
	stop := make(chan struct{})
	events := w.Subscribe()
	go func() {
		for {
			select {
			case <-stop:
				return
			case e := <-events:
				if err := commitlog.RemoveCoveredSegments(commitlogDir, e.Offset); err != nil {
					logger.Error().Err(err).Uint64("offset", e.Offset).Msg("commitlog segment retention failed")
				}
			}
		}
	}()
	return stop
}

func seedDemoData(ds *mvcc.Datastore, id mvcc.TableId, logger zerolog.Logger) {
	if ds.DurableOffset() > 0 {
		return // already populated via recovery/restore
	}
	mt := ds.BeginWrite()
	if _, err := mt.Insert(id, []algebra.AlgebraicValue{algebra.U64(1), algebra.String("hello from storaged")}); err != nil {
		mt.Rollback()
		logger.Error().Err(err).Msg("demo insert failed")
		return
	}
	if _, err := mt.Commit(); err != nil {
		logger.Error().Err(err).Msg("demo commit failed")
	}
}

func waitForShutdown(logger zerolog.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("shutdown requested")
}
