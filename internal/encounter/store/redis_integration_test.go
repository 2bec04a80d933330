//go:build integration

package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"phigate/internal/encounter/models"
	"phigate/pkg/platform/sentinel"
	"phigate/pkg/testutil/containers"

	"github.com/stretchr/testify/suite"
)

type RedisStoreSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *Redis
	ctx   context.Context
}

func TestRedisStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisStoreSuite))
}

func (s *RedisStoreSuite) SetupSuite() {
	s.redis = containers.NewRedisContainer(s.T())
	s.store = NewRedis(s.redis.Client, "phigate-test:enc")
	s.ctx = context.Background()
}

func (s *RedisStoreSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(s.ctx))
}

func (s *RedisStoreSuite) newEncounter(patient string, created time.Time) *models.Encounter {
	e, err := models.NewEncounter(models.NewEncounterInput{
		PatientID:     patient,
		ProviderID:    "prov_1",
		EncounterDate: created,
		Type:          models.CategoryTreatmentSession,
		ClinicalData:  map[string]any{"score": 7, "notes": []any{"a", "b"}},
	}, "u1", created)
	s.Require().NoError(err)
	return e
}

func (s *RedisStoreSuite) TestCreateGetList() {
	base := time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)
	second := s.newEncounter("pat_2", base.Add(time.Hour))
	first := s.newEncounter("pat_1", base)

	_, err := s.store.Create(s.ctx, second)
	s.Require().NoError(err)
	_, err = s.store.Create(s.ctx, first)
	s.Require().NoError(err)

	got, err := s.store.Get(s.ctx, first.ID)
	s.Require().NoError(err)
	s.Equal("pat_1", got.PatientID)
	s.Equal(json.Number("7"), got.ClinicalData["score"])

	all, err := s.store.List(s.ctx, models.Filter{})
	s.Require().NoError(err)
	s.Require().Len(all, 2)
	s.Equal(first.ID, all[0].ID)

	filtered, err := s.store.List(s.ctx, models.Filter{PatientID: "pat_2"})
	s.Require().NoError(err)
	s.Require().Len(filtered, 1)
	s.Equal(second.ID, filtered[0].ID)
}

func (s *RedisStoreSuite) TestErrors() {
	_, err := s.store.Get(s.ctx, "enc_missing")
	s.Require().ErrorIs(err, sentinel.ErrNotFound)

	e := s.newEncounter("pat_1", time.Now())
	_, err = s.store.Create(s.ctx, e)
	s.Require().NoError(err)
	_, err = s.store.Create(s.ctx, e)
	s.Require().ErrorIs(err, sentinel.ErrConflict)
}

func (s *RedisStoreSuite) TestKeysStayInNamespace() {
	e := s.newEncounter("pat_1", time.Now())
	_, err := s.store.Create(s.ctx, e)
	s.Require().NoError(err)

	keys, err := s.redis.Client.Keys(s.ctx, "*").Result()
	s.Require().NoError(err)
	s.ElementsMatch([]string{"phigate-test:enc:" + e.ID, "phigate-test:enc:index"}, keys)
}

func (s *RedisStoreSuite) TestFailedIndexLeavesNoRecord() {
	// A string at the index key makes ZADD fail with WRONGTYPE.
	s.Require().NoError(s.redis.Client.Set(s.ctx, "phigate-test:enc:index", "not-a-zset", 0).Err())

	e := s.newEncounter("pat_1", time.Now())
	_, err := s.store.Create(s.ctx, e)
	s.Require().ErrorIs(err, sentinel.ErrUnavailable)

	_, err = s.store.Get(s.ctx, e.ID)
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}
