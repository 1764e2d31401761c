package serializer

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/cespare/xxhash/v2"
	"github.com/permafrostdb/permafrost/block"
	"github.com/permafrostdb/permafrost/gologger"
	"github.com/permafrostdb/permafrost/part"
	"github.com/permafrostdb/permafrost/schema"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

var logger = gologger.NewLogger()

const dataFileName = "data.parquet"

type (
	// Stream writes one part's data and metadata files into its temporary
	// directory. One stream serves exactly one part.
	Stream struct {
		dir          string
		columns      []schema.ColumnDef
		skipIndices  []schema.SkipIndex
		codec        parquet.CompressionCodec
		defaultRatio float64

		rowsWritten        int64
		uncompressedBytes  int64
		serializationInfos map[string]part.SerializationInfo
	}

	// Finalizer represents the pending close-and-checksum of one stream.
	// Finish blocks until the background work completes.
	Finalizer struct {
		done chan struct{}
		err  error
	}
)

func NewStream(dir string, columns []schema.ColumnDef, skipIndices []schema.SkipIndex, codec parquet.CompressionCodec, defaultRatio float64) *Stream {
	return &Stream{
		dir:          dir,
		columns:      columns,
		skipIndices:  skipIndices,
		codec:        codec,
		defaultRatio: defaultRatio,
	}
}

// WriteWithPermutation writes the block's rows, reordered by perm when
// non-nil, as the part's data file, plus one summary file per skip index.
func (s *Stream) WriteWithPermutation(b *block.Block, perm []int) error {
	b = b.ApplyPermutation(perm)

	schemaStr, err := schemaString(s.columns)
	if err != nil {
		return fmt.Errorf("error in schemaString: %w", err)
	}

	fw, err := local.NewLocalFileWriter(filepath.Join(s.dir, dataFileName))
	if err != nil {
		return fmt.Errorf("error in NewLocalFileWriter: %w", err)
	}
	pw, err := writer.NewJSONWriter(schemaStr, fw, 2)
	if err != nil {
		return fmt.Errorf("error in NewJSONWriter: %w", err)
	}
	pw.CompressionType = s.codec

	for i := 0; i < b.Rows(); i++ {
		row := make(map[string]any, len(s.columns))
		for _, def := range s.columns {
			c, err := b.ColumnByName(def.Name)
			if err != nil {
				return fmt.Errorf("error in ColumnByName: %w", err)
			}
			row[def.Name], err = serializeValue(c.Data[i])
			if err != nil {
				return fmt.Errorf("error serializing column %s: %w", def.Name, err)
			}
		}
		rowBytes, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("error in json.Marshal of row: %w", err)
		}
		if err := pw.Write(rowBytes); err != nil {
			return fmt.Errorf("error in pw.Write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("error in pw.WriteStop: %w", err)
	}
	if err := fw.Close(); err != nil {
		return fmt.Errorf("error closing data file: %w", err)
	}

	if err := s.writeSkipIndices(b); err != nil {
		return err
	}

	s.rowsWritten = int64(b.Rows())
	s.uncompressedBytes = b.Bytes()
	s.serializationInfos = computeSerializationInfos(b, s.columns, s.defaultRatio)
	return nil
}

func serializeValue(v any) (any, error) {
	if agg, ok := v.(block.AggState); ok {
		b, err := json.Marshal(agg)
		if err != nil {
			return nil, fmt.Errorf("error in json.Marshal of aggregate state: %w", err)
		}
		return string(b), nil
	}
	return v, nil
}

func (s *Stream) writeSkipIndices(b *block.Block) error {
	for _, idx := range s.skipIndices {
		name := idx.Expression.ResultName()
		c, err := b.ColumnByName(name)
		if err != nil {
			// skip index expressions are evaluated into the block before the
			// stream opens, a missing column is a wiring bug upstream
			return fmt.Errorf("skip index %s: %w", idx.Name, err)
		}
		var min, max any
		for i, v := range c.Data {
			if i == 0 {
				min, max = v, v
				continue
			}
			if cmp, err := block.CompareValues(v, min); err == nil && cmp < 0 {
				min = v
			}
			if cmp, err := block.CompareValues(v, max); err == nil && cmp > 0 {
				max = v
			}
		}
		payload, err := json.Marshal(map[string]any{"min": min, "max": max, "rows": len(c.Data)})
		if err != nil {
			return fmt.Errorf("error in json.Marshal: %w", err)
		}
		path := filepath.Join(s.dir, fmt.Sprintf("skp_idx_%s.idx", idx.Name))
		if err := os.WriteFile(path, payload, 0o644); err != nil {
			return fmt.Errorf("error writing skip index file: %w", err)
		}
	}
	return nil
}

func computeSerializationInfos(b *block.Block, columns []schema.ColumnDef, ratioThreshold float64) map[string]part.SerializationInfo {
	infos := make(map[string]part.SerializationInfo, len(columns))
	for _, def := range columns {
		c, err := b.ColumnByName(def.Name)
		if err != nil || len(c.Data) == 0 {
			infos[def.Name] = part.SerializationInfo{Kind: "Default"}
			continue
		}
		defaults := 0
		for _, v := range c.Data {
			switch tv := v.(type) {
			case int64:
				if tv == 0 {
					defaults++
				}
			case float64:
				if tv == 0 {
					defaults++
				}
			case string:
				if tv == "" {
					defaults++
				}
			case nil:
				defaults++
			}
		}
		ratio := float64(defaults) / float64(len(c.Data))
		kind := "Default"
		if ratioThreshold > 0 && ratio >= ratioThreshold {
			kind = "Sparse"
		}
		infos[def.Name] = part.SerializationInfo{Kind: kind, RatioOfDefaults: ratio}
	}
	return infos
}

// RowsWritten and UncompressedBytes report what the last write put down.
func (s *Stream) RowsWritten() int64       { return s.rowsWritten }
func (s *Stream) UncompressedBytes() int64 { return s.uncompressedBytes }

// FinalizePartAsync writes the part's metadata files synchronously, then
// schedules checksum computation (and the optional fsync) in the background.
// The returned finalizer must be finished before the part is durable.
func (s *Stream) FinalizePartAsync(p *part.Part, fsyncFiles bool) (*Finalizer, error) {
	p.SerializationInfos = s.serializationInfos

	if err := s.writeMetaFiles(p); err != nil {
		return nil, err
	}

	f := &Finalizer{done: make(chan struct{})}
	go func() {
		defer close(f.done)
		bytesOnDisk, err := s.writeChecksums()
		if err != nil {
			f.err = err
			return
		}
		p.BytesOnDisk = bytesOnDisk
		if fsyncFiles {
			f.err = s.fsyncAll()
		}
	}()
	return f, nil
}

func (s *Stream) writeMetaFiles(p *part.Part) error {
	writeJSON := func(name string, v any) error {
		payload, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("error in json.Marshal of %s: %w", name, err)
		}
		if err := os.WriteFile(filepath.Join(s.dir, name), payload, 0o644); err != nil {
			return fmt.Errorf("error writing %s: %w", name, err)
		}
		return nil
	}

	if err := os.WriteFile(filepath.Join(s.dir, "count.txt"), []byte(fmt.Sprintf("%d\n", p.RowsCount)), 0o644); err != nil {
		return fmt.Errorf("error writing count.txt: %w", err)
	}

	var cols []map[string]string
	for _, def := range p.Columns {
		cols = append(cols, map[string]string{"name": def.Name, "type": string(def.Type)})
	}
	if err := writeJSON("columns.txt", cols); err != nil {
		return err
	}

	if err := writeJSON("partition.dat", p.Partition); err != nil {
		return err
	}

	if p.MinMaxIdx != nil && p.MinMaxIdx.Initialized {
		for i, col := range p.MinMaxIdx.Columns {
			if err := writeJSON(fmt.Sprintf("minmax_%s.idx", col), []any{p.MinMaxIdx.Min[i], p.MinMaxIdx.Max[i]}); err != nil {
				return err
			}
		}
	}

	empty := ttlInfosEmpty(p)
	if !empty {
		if err := writeJSON("ttl.txt", p.TTLInfos); err != nil {
			return err
		}
	}

	if err := writeJSON("serialization.json", p.SerializationInfos); err != nil {
		return err
	}
	return nil
}

func ttlInfosEmpty(p *part.Part) bool {
	t := p.TTLInfos
	return t.TableTTL.Min == 0 && t.TableTTL.Max == 0 &&
		len(t.ColumnsTTL) == 0 && len(t.RowsWhereTTL) == 0 && len(t.GroupByTTL) == 0 &&
		len(t.RecompressionTTL) == 0 && len(t.MovesTTL) == 0
}

// writeChecksums hashes every file in the part directory (projections
// excluded, they carry their own) into checksums.txt and returns the summed
// on-disk size.
func (s *Stream) writeChecksums() (int64, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("error in ReadDir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || e.Name() == "checksums.txt" {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	type fileSum struct {
		Size   int64  `json:"size"`
		XXHash uint64 `json:"xxhash64"`
	}
	sums := make(map[string]fileSum, len(names))
	var total int64
	for _, name := range names {
		f, err := os.Open(filepath.Join(s.dir, name))
		if err != nil {
			return 0, fmt.Errorf("error in os.Open: %w", err)
		}
		h := xxhash.New()
		n, err := io.Copy(h, f)
		f.Close()
		if err != nil {
			return 0, fmt.Errorf("error hashing %s: %w", name, err)
		}
		sums[name] = fileSum{Size: n, XXHash: h.Sum64()}
		total += n
	}
	payload, err := json.Marshal(sums)
	if err != nil {
		return 0, fmt.Errorf("error in json.Marshal: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.dir, "checksums.txt"), payload, 0o644); err != nil {
		return 0, fmt.Errorf("error writing checksums.txt: %w", err)
	}
	return total + int64(len(payload)), nil
}

func (s *Stream) fsyncAll() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("error in ReadDir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		f, err := os.OpenFile(filepath.Join(s.dir, e.Name()), os.O_RDWR, 0)
		if err != nil {
			return fmt.Errorf("error in OpenFile: %w", err)
		}
		if err := f.Sync(); err != nil {
			f.Close()
			return fmt.Errorf("error in Sync: %w", err)
		}
		f.Close()
	}
	return FsyncDir(s.dir)
}

// FsyncDir fsyncs a directory, making entry renames durable.
func FsyncDir(path string) error {
	d, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("error in os.Open: %w", err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("error in Sync: %w", err)
	}
	return nil
}

// Finish blocks until the scheduled finalization completes.
func (f *Finalizer) Finish() error {
	<-f.done
	return f.err
}
