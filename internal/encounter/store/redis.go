package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"phigate/internal/encounter/models"
	"phigate/pkg/platform/sentinel"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

var redisOpDurationMs = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "phigate_encounter_redis_op_duration_ms",
	Help:    "Latency of encounter store operations against Redis in milliseconds",
	Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 25, 50},
}, []string{"op"})

// Redis stores encounters as JSON documents under namespace, with a
// creation-time index at namespace + ":index".
type Redis struct {
	client    redis.Cmdable
	namespace string
}

// NewRedis builds the store. namespace is usually platform redis
// Client.Key("enc").
func NewRedis(client redis.Cmdable, namespace string) *Redis {
	return &Redis{client: client, namespace: namespace}
}

func (s *Redis) recordKey(id string) string { return s.namespace + ":" + id }

func (s *Redis) indexKey() string { return s.namespace + ":index" }

func observe(op string, start time.Time) {
	redisOpDurationMs.WithLabelValues(op).Observe(float64(time.Since(start).Microseconds()) / 1000.0)
}

// Create writes e with SETNX so two creates can never share an id, then
// indexes it by creation time. If indexing fails the record is removed again.
func (s *Redis) Create(ctx context.Context, e *models.Encounter) (string, error) {
	defer observe("create", time.Now())

	raw, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("marshal encounter: %w", err)
	}
	ok, err := s.client.SetNX(ctx, s.recordKey(e.ID), raw, 0).Result()
	if err != nil {
		return "", fmt.Errorf("store encounter: %w: %w", sentinel.ErrUnavailable, err)
	}
	if !ok {
		return "", sentinel.ErrConflict
	}
	err = s.client.ZAdd(ctx, s.indexKey(), redis.Z{
		Score:  float64(e.CreatedAt.UnixNano()),
		Member: e.ID,
	}).Err()
	if err != nil {
		// A failed create must not leave a readable record behind. MULTI would
		// not help here: Redis applies the SETNX even when ZADD fails inside it.
		if delErr := s.client.Del(ctx, s.recordKey(e.ID)).Err(); delErr != nil {
			err = errors.Join(err, fmt.Errorf("remove unindexed encounter: %w", delErr))
		}
		return "", fmt.Errorf("index encounter: %w: %w", sentinel.ErrUnavailable, err)
	}
	return e.ID, nil
}

func (s *Redis) Get(ctx context.Context, id string) (*models.Encounter, error) {
	defer observe("get", time.Now())

	raw, err := s.client.Get(ctx, s.recordKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load encounter: %w: %w", sentinel.ErrUnavailable, err)
	}
	return decode(raw)
}

// List returns matching encounters ordered by creation time. Filtering
// happens client-side; the index only provides order.
func (s *Redis) List(ctx context.Context, filter models.Filter) ([]*models.Encounter, error) {
	defer observe("list", time.Now())

	ids, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list encounter index: %w: %w", sentinel.ErrUnavailable, err)
	}
	if len(ids) == 0 {
		return []*models.Encounter{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.recordKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load encounters: %w: %w", sentinel.ErrUnavailable, err)
	}

	out := make([]*models.Encounter, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		e, err := decode([]byte(raw))
		if err != nil {
			return nil, err
		}
		if filter.Matches(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

func decode(raw []byte) (*models.Encounter, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var e models.Encounter
	if err := dec.Decode(&e); err != nil {
		return nil, fmt.Errorf("decode encounter: %w", err)
	}
	return &e, nil
}
