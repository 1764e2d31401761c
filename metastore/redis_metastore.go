package metastore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/permafrostdb/permafrost/utils"
	"github.com/rs/zerolog"
)

type (
	RedisMetaStore struct {
		client *redis.Client
	}
)

func NewRedisMetaStore(ctx context.Context) (*RedisMetaStore, error) {
	logger := zerolog.Ctx(ctx)
	logger.Debug().Msg("connecting to redis metastore")
	rms := &RedisMetaStore{
		client: redis.NewClient(&redis.Options{
			Addr:        os.Getenv("REDIS_ADDR"),
			Password:    os.Getenv("REDIS_PASSWORD"),
			DB:          0,
			DialTimeout: time.Second * 3,
		}),
	}

	// Ping test first to ensure valid connection
	if os.Getenv("REDIS_PING_TEST") == "1" {
		logger.Debug().Msg("running redis ping test")
		s := time.Now()
		_, err := rms.client.Ping(ctx).Result()
		if err != nil {
			rms.client.Close()
			return nil, fmt.Errorf("error pinging redis: %w", err)
		}
		logger.Debug().Msgf("redis ping test successful in %s", time.Since(s))
	}

	return rms, nil
}

func (rms *RedisMetaStore) tableKey(table string) string {
	return "t_" + table
}

func (rms *RedisMetaStore) GetTableSchema(ctx context.Context, table string) (TableSchema, error) {
	ts := TableSchema{}
	rawTableSchema, err := rms.client.Get(ctx, rms.tableKey(table)).Result()
	if err != nil {
		return ts, fmt.Errorf("error in redis GET: %w", err)
	}

	err = json.Unmarshal([]byte(rawTableSchema), &ts)
	if err != nil {
		return ts, fmt.Errorf("error in json.Unmarshal: %w", err)
	}

	return ts, nil
}

func (rms *RedisMetaStore) CreateTableSchema(ctx context.Context, ts TableSchema) error {
	logger.Debug().Str("table", ts.Name).Msg("creating table schema")
	if ts.ID == "" {
		ts.ID = utils.GenRandomShortID()
	}
	ts.CreatedAt = time.Now()
	ts.UpdatedAt = time.Now()

	jsonBytes, err := json.Marshal(ts)
	if err != nil {
		return fmt.Errorf("error in json.Marshal: %w", err)
	}

	set, err := rms.client.SetNX(ctx, rms.tableKey(ts.Name), string(jsonBytes), 0).Result()
	if err != nil {
		return fmt.Errorf("error in redis SETNX: %w", err)
	}
	if !set {
		return fmt.Errorf("%w: %s", ErrTableExists, ts.Name)
	}

	return nil
}

func (rms *RedisMetaStore) RecordPart(ctx context.Context, rec PartRecord) error {
	partJSON, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("error in json.Marshal(rec): %w", err)
	}

	set, err := rms.client.HSetNX(ctx, rms.tableKey(rec.Table)+"_parts", rec.Name, string(partJSON)).Result()
	if err != nil {
		return fmt.Errorf("error in redis HSETNX: %w", err)
	}
	if !set {
		return fmt.Errorf("%w: %s", ErrPartExists, rec.Name)
	}
	return nil
}

func (rms *RedisMetaStore) ListParts(ctx context.Context, table string) ([]PartRecord, error) {
	logger := zerolog.Ctx(ctx)

	var cursorPos uint64 = 0
	var returnedCursor uint64 = 1
	parts := make([]PartRecord, 0)

	// Loop until we have all the results
	for returnedCursor != 0 {
		logger.Debug().Msgf("running redis HSCAN with cursor %d", cursorPos)
		rawParts, newCursor, err := rms.client.HScan(ctx, rms.tableKey(table)+"_parts", cursorPos, "", 0).Result()
		if err != nil {
			return nil, fmt.Errorf("error in redis HSCAN: %w", err)
		}

		// HScan returns alternating field, value pairs
		for i := 1; i < len(rawParts); i += 2 {
			rec := PartRecord{}
			err = json.Unmarshal([]byte(rawParts[i]), &rec)
			if err != nil {
				return nil, fmt.Errorf("error unmarshalling part '%s' under table '%s': %w", rawParts[i-1], table, err)
			}
			if !rec.Alive {
				continue
			}
			parts = append(parts, rec)
		}

		returnedCursor = newCursor
		cursorPos = newCursor
	}

	return parts, nil
}

func (rms *RedisMetaStore) Shutdown(_ context.Context) error {
	err := rms.client.Close()
	if err != nil {
		return fmt.Errorf("error closing redis client: %w", err)
	}
	return nil
}
