package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/lucid-vigil/threatcluster/pkg/fcm"
)

// RedisConfig configures Redis-backed model storage.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// RedisStore keeps each model as a JSON string and its training history as
// a capped list.
type RedisStore struct {
	client *redis.Client
	prefix string
	logger zerolog.Logger
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg RedisConfig, logger zerolog.Logger) (*RedisStore, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = "127.0.0.1:6379"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis model store: %w", err)
	}
	return NewRedisStoreFromClient(client, cfg.KeyPrefix, logger), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client, prefix string, logger zerolog.Logger) *RedisStore {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "threatcluster"
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		logger: logger.With().Str("component", "redis_store").Logger(),
	}
}

func (s *RedisStore) modelKey(name string) string {
	return s.prefix + ":" + name + ":model"
}

func (s *RedisStore) historyKey(name string) string {
	return s.prefix + ":" + name + ":history"
}

func (s *RedisStore) Save(ctx context.Context, name string, m *fcm.Model, rec TrainingRecord) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode model %s: %w", name, err)
	}
	rec.Model = name
	recData, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode training record: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.modelKey(name), data, 0)
		pipe.RPush(ctx, s.historyKey(name), recData)
		pipe.LTrim(ctx, s.historyKey(name), -historyLimit, -1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save model %s to redis: %w", name, err)
	}
	s.logger.Info().Str("model", name).Str("key", s.modelKey(name)).Str("run_id", rec.RunID).Msg("Model saved")
	return nil
}

func (s *RedisStore) Load(ctx context.Context, name string) (*fcm.Model, error) {
	data, err := s.client.Get(ctx, s.modelKey(name)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load model %s from redis: %w", name, err)
	}
	var m fcm.Model
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode model %s: %w", name, err)
	}
	return &m, nil
}

func (s *RedisStore) History(ctx context.Context, name string) ([]TrainingRecord, error) {
	raw, err := s.client.LRange(ctx, s.historyKey(name), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read training history %s: %w", name, err)
	}
	return decodeRecords(raw, s.logger), nil
}

func (s *RedisStore) Latest(ctx context.Context, name string) (*TrainingRecord, error) {
	raw, err := s.client.LRange(ctx, s.historyKey(name), -1, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read training history %s: %w", name, err)
	}
	return latest(decodeRecords(raw, s.logger))
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// decodeRecords skips entries that are not valid records.
func decodeRecords(raw []string, logger zerolog.Logger) []TrainingRecord {
	out := make([]TrainingRecord, 0, len(raw))
	for _, item := range raw {
		var rec TrainingRecord
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			logger.Warn().Err(err).Msg("Skipping malformed training record")
			continue
		}
		out = append(out, rec)
	}
	return out
}
