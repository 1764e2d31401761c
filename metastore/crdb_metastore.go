package metastore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	crdbpgx "github.com/cockroachdb/cockroach-go/v2/crdb/crdbpgx"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/permafrostdb/permafrost/crdb"
	"github.com/permafrostdb/permafrost/utils"
)

// CRDBMetaStore keeps table schemas and part records in CockroachDB.
type CRDBMetaStore struct {
	pool *pgxpool.Pool
}

func NewCRDBMetaStore() *CRDBMetaStore {
	return &CRDBMetaStore{pool: crdb.PGPool}
}

func (ms *CRDBMetaStore) GetTableSchema(ctx context.Context, table string) (TableSchema, error) {
	var ts TableSchema
	err := utils.ReliableExec(ctx, ms.pool, time.Second*10, func(ctx context.Context, conn *pgxpool.Conn) error {
		var specJSON []byte
		row := conn.QueryRow(ctx, `SELECT id, name, spec, created_at, updated_at FROM table_schemas WHERE name = $1`, table)
		var id, name string
		var createdAt, updatedAt time.Time
		if err := row.Scan(&id, &name, &specJSON, &createdAt, &updatedAt); err != nil {
			return fmt.Errorf("error in Scan: %w", err)
		}
		if err := json.Unmarshal(specJSON, &ts); err != nil {
			return fmt.Errorf("error in json.Unmarshal of spec: %w", err)
		}
		ts.ID = id
		ts.Name = name
		ts.CreatedAt = createdAt
		ts.UpdatedAt = updatedAt
		return nil
	})
	return ts, err
}

func (ms *CRDBMetaStore) CreateTableSchema(ctx context.Context, ts TableSchema) error {
	logger.Debug().Str("table", ts.Name).Msg("creating table schema")
	if ts.ID == "" {
		ts.ID = utils.GenRandomShortID()
	}
	specJSON, err := json.Marshal(ts)
	if err != nil {
		return fmt.Errorf("error in json.Marshal of spec: %w", err)
	}
	err = utils.ReliableExec(ctx, ms.pool, time.Second*10, func(ctx context.Context, conn *pgxpool.Conn) error {
		_, err := conn.Exec(ctx, `INSERT INTO table_schemas (id, name, spec, created_at, updated_at) VALUES ($1, $2, $3, now(), now())`,
			ts.ID, ts.Name, specJSON)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				return utils.PermError(fmt.Sprintf("table %s already exists", ts.Name))
			}
			return fmt.Errorf("error in Exec: %w", err)
		}
		return nil
	})
	if err != nil {
		var pe utils.PermError
		if errors.As(err, &pe) {
			return fmt.Errorf("%w: %s", ErrTableExists, ts.Name)
		}
		return err
	}
	return nil
}

// RecordPart commits the part row and its column list transactionally. A
// duplicate (table, name) means the part was already published.
func (ms *CRDBMetaStore) RecordPart(ctx context.Context, rec PartRecord) error {
	err := crdbpgx.ExecuteTx(ctx, ms.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		cols := pgtype.TextArray{}
		if err := cols.Set(utils.ArrayOrEmpty(rec.Columns)); err != nil {
			return fmt.Errorf("error in TextArray Set: %w", err)
		}
		_, err := tx.Exec(ctx, `INSERT INTO parts (id, table_name, name, partition_id, rows, bytes, columns, disk, alive, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())`,
			rec.ID, rec.Table, rec.Name, rec.PartitionID, rec.Rows, rec.Bytes, &cols, rec.Disk, rec.Alive)
		if err != nil {
			return fmt.Errorf("error in Exec: %w", err)
		}
		return nil
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: %s", ErrPartExists, rec.Name)
		}
		return fmt.Errorf("error in ExecuteTx: %w", err)
	}
	return nil
}

func (ms *CRDBMetaStore) ListParts(ctx context.Context, table string) ([]PartRecord, error) {
	var parts []PartRecord
	err := utils.ReliableExec(ctx, ms.pool, time.Second*10, func(ctx context.Context, conn *pgxpool.Conn) error {
		rows, err := conn.Query(ctx, `SELECT id, table_name, name, partition_id, rows, bytes, columns, disk, alive, created_at FROM parts WHERE table_name = $1 AND alive`, table)
		if err != nil {
			return fmt.Errorf("error in Query: %w", err)
		}
		defer rows.Close()
		parts = parts[:0]
		for rows.Next() {
			var rec PartRecord
			cols := pgtype.TextArray{}
			if err := rows.Scan(&rec.ID, &rec.Table, &rec.Name, &rec.PartitionID, &rec.Rows, &rec.Bytes, &cols, &rec.Disk, &rec.Alive, &rec.CreatedAt); err != nil {
				return fmt.Errorf("error in Scan: %w", err)
			}
			if err := cols.AssignTo(&rec.Columns); err != nil {
				return fmt.Errorf("error in AssignTo: %w", err)
			}
			parts = append(parts, rec)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return parts, nil
}

func (ms *CRDBMetaStore) Shutdown(_ context.Context) error {
	ms.pool.Close()
	return nil
}
