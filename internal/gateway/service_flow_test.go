package gateway_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"phigate/internal/encounter/models"
	"phigate/internal/encounter/store"
	"phigate/internal/gateway"
	"phigate/internal/policy"
	dErrors "phigate/pkg/domain-errors"
	"phigate/pkg/platform/audit"
	"phigate/pkg/platform/audit/deadletter"
	"phigate/pkg/platform/audit/store/memory"
)

var (
	user  = policy.Principal{ID: "u1", Role: policy.RoleUser, SourceIP: "10.0.0.1", UserAgent: "test"}
	admin = policy.Principal{ID: "a1", Role: policy.RoleAdmin, SourceIP: "10.0.0.2", UserAgent: "test"}
)

func newInput() models.NewEncounterInput {
	return models.NewEncounterInput{
		PatientID:     "pat_1",
		ProviderID:    "prov_1",
		EncounterDate: time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
		Type:          models.CategoryFollowUp,
		ClinicalData:  map[string]any{"notes": "reachable at 555-123-4567"},
	}
}

type fixture struct {
	service *gateway.Service
	events  *memory.InMemoryStore
	log     *audit.Log
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	events := memory.NewInMemoryStore()
	log := audit.New(events)
	svc, err := gateway.New(store.NewInMemory(), log)
	require.NoError(t, err)
	return fixture{service: svc, events: events, log: log}
}

func allEvents(t *testing.T, log *audit.Log) []audit.Event {
	t.Helper()
	seq, err := log.Query(context.Background(), audit.Filter{})
	require.NoError(t, err)
	var out []audit.Event
	for e, err := range seq {
		require.NoError(t, err)
		out = append(out, e)
	}
	return out
}

func TestGateway_OneEventPerCall(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.service.CreateEncounter(ctx, user, newInput())
	require.NoError(t, err)
	assert.Equal(t, 1, f.events.Len())

	_, err = f.service.ReadEncounter(ctx, user, created.Encounter.ID, models.Filter{})
	require.NoError(t, err)
	assert.Equal(t, 2, f.events.Len())

	_, err = f.service.ReadEncounter(ctx, user, "enc_missing", models.Filter{})
	require.Error(t, err)
	assert.Equal(t, 3, f.events.Len())

	_, err = f.service.ListAudit(ctx, user, audit.Filter{})
	require.Error(t, err)
	assert.Equal(t, 4, f.events.Len())

	_, err = f.service.ListAudit(ctx, admin, audit.Filter{})
	require.NoError(t, err)
	assert.Equal(t, 5, f.events.Len())

	events := allEvents(t, f.log)
	want := []struct {
		eventType audit.EventType
		outcome   audit.Outcome
	}{
		{audit.EventCreate, audit.OutcomeSuccess},
		{audit.EventRead, audit.OutcomeSuccess},
		{audit.EventRead, audit.OutcomeError},
		{audit.EventList, audit.OutcomeDenied},
		{audit.EventList, audit.OutcomeSuccess},
	}
	require.Len(t, events, len(want))
	for i, w := range want {
		assert.Equal(t, w.eventType, events[i].EventType, "event %d", i)
		assert.Equal(t, w.outcome, events[i].Outcome, "event %d", i)
	}
}

func TestGateway_CreateAuditsRecordIDNotSubject(t *testing.T) {
	f := newFixture(t)

	res, err := f.service.CreateEncounter(context.Background(), user, newInput())
	require.NoError(t, err)

	events := allEvents(t, f.log)
	require.Len(t, events, 1)
	assert.NotEqual(t, "pat_1", events[0].ResourceID)
	assert.Equal(t, res.Encounter.ID, events[0].ResourceID)
	assert.Equal(t, "reachable at 555-123-4567", res.Encounter.ClinicalData["notes"])
}

func TestGateway_ListAudit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.service.CreateEncounter(ctx, user, newInput())
		require.NoError(t, err)
	}

	t.Run("user is denied with one denied event", func(t *testing.T) {
		before := f.events.Len()
		_, err := f.service.ListAudit(ctx, user, audit.Filter{})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeForbidden))
		assert.Equal(t, before+1, f.events.Len())

		denied := allEvents(t, f.log)
		last := denied[len(denied)-1]
		assert.Equal(t, audit.EventList, last.EventType)
		assert.Equal(t, audit.OutcomeDenied, last.Outcome)
	})

	t.Run("admin gets everything in ascending order", func(t *testing.T) {
		res, err := f.service.ListAudit(ctx, admin, audit.Filter{})
		require.NoError(t, err)
		require.Len(t, res.Events, 4)
		for i := 1; i < len(res.Events); i++ {
			assert.False(t, res.Events[i].Timestamp.Before(res.Events[i-1].Timestamp))
		}
		assert.Equal(t, audit.EventCreate, res.Events[0].EventType)
	})

	t.Run("filters narrow the trail", func(t *testing.T) {
		res, err := f.service.ListAudit(ctx, admin, audit.Filter{EventType: audit.EventList, PrincipalID: "u1"})
		require.NoError(t, err)
		require.Len(t, res.Events, 1)
		assert.Equal(t, audit.OutcomeDenied, res.Events[0].Outcome)
	})
}

func TestGateway_AuditKeepsUUIDPrincipals(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := policy.Principal{ID: "850e8400-e29b-41d4-a716-446655440001", Role: policy.RoleUser, SourceIP: "10.0.0.3", UserAgent: "test"}
	bob := policy.Principal{ID: "850e8400-e29b-41d4-a716-446655440002", Role: policy.RoleUser, SourceIP: "10.0.0.4", UserAgent: "test"}

	_, err := f.service.CreateEncounter(ctx, alice, newInput())
	require.NoError(t, err)
	_, err = f.service.CreateEncounter(ctx, bob, newInput())
	require.NoError(t, err)

	res, err := f.service.ListAudit(ctx, admin, audit.Filter{PrincipalID: alice.ID})
	require.NoError(t, err)
	require.Len(t, res.Events, 1)
	assert.Equal(t, alice.ID, res.Events[0].PrincipalID)
	assert.Equal(t, audit.EventCreate, res.Events[0].EventType)

	res, err = f.service.ListAudit(ctx, admin, audit.Filter{PrincipalID: bob.ID, EventType: audit.EventCreate})
	require.NoError(t, err)
	require.Len(t, res.Events, 1)
	assert.Equal(t, bob.ID, res.Events[0].PrincipalID)
}

func TestGateway_ConcurrentReads(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.service.CreateEncounter(ctx, user, newInput())
	require.NoError(t, err)

	var (
		wg  sync.WaitGroup
		ids [2]string
	)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.service.ReadEncounter(ctx, user, created.Encounter.ID, models.Filter{})
			assert.NoError(t, err)
			if res != nil {
				ids[i] = res.AuditEventID
			}
		}(i)
	}
	wg.Wait()

	assert.NotEmpty(t, ids[0])
	assert.NotEqual(t, ids[0], ids[1])

	seq, err := f.log.Query(ctx, audit.Filter{ResourceID: created.Encounter.ID, EventType: audit.EventRead})
	require.NoError(t, err)
	n := 0
	for e, err := range seq {
		require.NoError(t, err)
		assert.Equal(t, audit.OutcomeSuccess, e.Outcome)
		n++
	}
	assert.Equal(t, 2, n)
}

func TestGateway_ReadMissing(t *testing.T) {
	f := newFixture(t)

	res, err := f.service.ReadEncounter(context.Background(), user, "enc_missing", models.Filter{})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
	assert.Equal(t, "encounter not found", err.Error())
	assert.Nil(t, res.Encounter)

	events := allEvents(t, f.log)
	require.Len(t, events, 1)
	assert.Equal(t, audit.OutcomeError, events[0].Outcome)
	assert.Equal(t, "enc_missing", events[0].ResourceID)
}

// downStore rejects every audit write.
type downStore struct {
	*memory.InMemoryStore
}

func (downStore) Append(context.Context, audit.Event) error {
	return errors.New("audit store unavailable")
}

func TestGateway_AuditStoreDown(t *testing.T) {
	var signals atomic.Int32
	buffer := deadletter.NewRingBuffer(16)
	log := audit.New(downStore{memory.NewInMemoryStore()},
		audit.WithRetry(3, 0),
		audit.WithDeadLetter(buffer),
		audit.WithDegradedHook(func(context.Context, audit.Event, error) { signals.Add(1) }),
	)
	svc, err := gateway.New(store.NewInMemory(), log)
	require.NoError(t, err)
	ctx := context.Background()

	created, err := svc.CreateEncounter(ctx, user, newInput())
	require.NoError(t, err, "create still succeeds")
	assert.True(t, created.AuditDegraded)
	assert.NotNil(t, created.Encounter)
	assert.EqualValues(t, 1, signals.Load())

	_, err = svc.ReadEncounter(ctx, user, "enc_missing", models.Filter{})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound), "failure outcome is unchanged")
	assert.EqualValues(t, 2, signals.Load())

	read, err := svc.ReadEncounter(ctx, user, created.Encounter.ID, models.Filter{})
	require.NoError(t, err)
	assert.True(t, read.AuditDegraded)
	assert.Equal(t, created.Encounter.ID, read.Encounter.ID)
	assert.EqualValues(t, 3, signals.Load())
	assert.Equal(t, 3, buffer.Len())
}
