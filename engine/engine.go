package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/permafrostdb/permafrost/block"
	"github.com/permafrostdb/permafrost/gologger"
	"github.com/permafrostdb/permafrost/metastore"
	"github.com/permafrostdb/permafrost/schema"
	"github.com/permafrostdb/permafrost/serializer"
	"github.com/permafrostdb/permafrost/storage"
	"github.com/permafrostdb/permafrost/writer"
)

var (
	logger = gologger.NewLogger()

	ErrTableNotFound = errors.New("table not found")
)

type (
	// Engine ties the metastore, the storage policy and the insert-path
	// writer together for a set of registered tables.
	Engine struct {
		MetaStore metastore.MetaStore
		Policy    *storage.Policy
		Writer    *writer.Writer

		mu     sync.RWMutex
		tables map[string]*schema.Metadata
	}

	InsertResult struct {
		NumRows      int64
		NumParts     int64
		BytesWritten int64
	}
)

func New(ms metastore.MetaStore, policy *storage.Policy) (*Engine, error) {
	e := &Engine{
		MetaStore: ms,
		Policy:    policy,
		Writer:    writer.New(policy),
		tables:    make(map[string]*schema.Metadata),
	}
	return e, nil
}

// RegisterTable makes a metadata snapshot insertable.
func (e *Engine) RegisterTable(meta *schema.Metadata) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tables[meta.Table] = meta
}

// TableMeta resolves the metadata snapshot for a table, falling back to the
// metastore for tables created by other nodes or earlier runs. Recovered
// snapshots are cached in the registry.
func (e *Engine) TableMeta(ctx context.Context, name string) (*schema.Metadata, error) {
	e.mu.RLock()
	meta, ok := e.tables[name]
	e.mu.RUnlock()
	if ok {
		return meta, nil
	}

	ts, err := e.MetaStore.GetTableSchema(ctx, name)
	if err != nil {
		logger.Debug().Err(err).Str("table", name).Msg("table schema not in metastore")
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, name)
	}
	meta = ts.Metadata()
	e.RegisterTable(meta)
	return meta, nil
}

// CreateTableSchema registers the table and persists the full schema
// (columns, keys, merging params, settings, TTLs, projections) to the
// metastore so other nodes can rebuild the snapshot.
func (e *Engine) CreateTableSchema(ctx context.Context, meta *schema.Metadata) error {
	err := e.MetaStore.CreateTableSchema(ctx, metastore.SchemaFromMetadata(meta))
	if err != nil {
		return fmt.Errorf("error in CreateTableSchema: %w", err)
	}
	e.RegisterTable(meta)
	return nil
}

// Insert runs one block through the full insert pipeline: scatter by the
// partition key, write one temporary part per partition, finalize and publish
// each. Parts publish independently, a failure leaves earlier parts committed.
func (e *Engine) Insert(ctx context.Context, table string, b *block.Block) (InsertResult, error) {
	var res InsertResult

	meta, err := e.TableMeta(ctx, table)
	if err != nil {
		return res, err
	}

	blocks, err := e.Writer.SplitBlockIntoParts(b, meta)
	if err != nil {
		return res, fmt.Errorf("error in SplitBlockIntoParts: %w", err)
	}

	for _, bwp := range blocks {
		tp, err := e.Writer.WriteTempPart(ctx, bwp, meta)
		if err != nil {
			return res, fmt.Errorf("error in WriteTempPart: %w", err)
		}
		if tp.Empty() {
			continue
		}
		if err := tp.Finalize(); err != nil {
			return res, fmt.Errorf("error in Finalize: %w", err)
		}
		if err := e.CommitPart(ctx, table, tp); err != nil {
			return res, fmt.Errorf("error in CommitPart: %w", err)
		}
		res.NumParts++
		res.NumRows += tp.Part.RowsCount
		res.BytesWritten += tp.Part.BytesOnDisk
	}
	return res, nil
}

// CommitPart publishes one finalized temporary part: the directory is renamed
// from its tmp_insert_ name to the final part name, files of S3-backed disks
// are uploaded, and the part is recorded in the metastore.
func (e *Engine) CommitPart(ctx context.Context, table string, tp *writer.TemporaryPart) error {
	if tp.Empty() {
		return nil
	}

	finalPath := filepath.Join(filepath.Dir(tp.FullPath), tp.Part.Name)
	if err := os.Rename(tp.FullPath, finalPath); err != nil {
		return fmt.Errorf("error in os.Rename: %w", err)
	}
	if err := serializer.FsyncDir(filepath.Dir(finalPath)); err != nil {
		return err
	}

	if tp.Disk != nil && tp.Disk.S3 != nil {
		if err := uploadPartFiles(ctx, tp.Disk.S3, table, tp.Part.Name, finalPath); err != nil {
			return err
		}
	}

	if err := e.MetaStore.RecordPart(ctx, metastore.RecordFromPart(table, tp.Part)); err != nil {
		return err
	}

	tp.Part.IsTemp = false
	tp.Part.RelativePath = tp.Part.Name
	tp.DirectoryLock.Release()
	if tp.Reservation != nil {
		tp.Reservation.Release()
	}

	logger.Debug().Str("table", table).Str("part", tp.Part.Name).Int64("rows", tp.Part.RowsCount).Msg("committed part")
	return nil
}

func uploadPartFiles(ctx context.Context, backing *storage.S3Backing, table, partName, dir string) error {
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel := strings.TrimPrefix(path, dir+string(os.PathSeparator))
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("error in os.Open: %w", err)
		}
		defer f.Close()
		key := fmt.Sprintf("%s/%s/%s", table, partName, filepath.ToSlash(rel))
		return backing.UploadFile(ctx, key, f)
	})
}
