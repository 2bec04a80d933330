package gateway

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks RecordStore,AuditLog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"phigate/internal/encounter/models"
	"phigate/internal/gateway/metrics"
	"phigate/internal/gateway/mocks"
	"phigate/internal/policy"
	dErrors "phigate/pkg/domain-errors"
	"phigate/pkg/platform/audit"
	"phigate/pkg/platform/sentinel"
	"phigate/pkg/requestcontext"
)

// =============================================================================
// Gateway Service Test Suite
// =============================================================================
// The gateway owns the call ordering: authorize, execute, audit, respond.
// These tests pin the audit event each branch produces and the generic
// errors that cross the boundary.

type GatewayServiceSuite struct {
	suite.Suite
	ctrl      *gomock.Controller
	records   *mocks.MockRecordStore
	auditLog  *mocks.MockAuditLog
	metrics   *metrics.Metrics
	logs      *bytes.Buffer
	service   *Service
	user      policy.Principal
	admin     policy.Principal
	encounter *models.Encounter
}

func TestGatewayServiceSuite(t *testing.T) {
	suite.Run(t, new(GatewayServiceSuite))
}

func (s *GatewayServiceSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.records = mocks.NewMockRecordStore(s.ctrl)
	s.auditLog = mocks.NewMockAuditLog(s.ctrl)
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.logs = &bytes.Buffer{}

	var err error
	s.service, err = New(s.records, s.auditLog,
		WithLogger(slog.New(slog.NewJSONHandler(s.logs, &slog.HandlerOptions{Level: slog.LevelDebug}))),
		WithMetrics(s.metrics),
		WithClock(func() time.Time { return time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC) }),
	)
	s.Require().NoError(err)

	s.user = policy.Principal{ID: "u1", Role: policy.RoleUser, SourceIP: "10.0.0.1", UserAgent: "curl/8.0"}
	s.admin = policy.Principal{ID: "a1", Role: policy.RoleAdmin, SourceIP: "10.0.0.2", UserAgent: "curl/8.0"}
	s.encounter, err = models.NewEncounter(s.input(), "u1", time.Now())
	s.Require().NoError(err)
}

func (s *GatewayServiceSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *GatewayServiceSuite) input() models.NewEncounterInput {
	return models.NewEncounterInput{
		PatientID:     "pat_1",
		ProviderID:    "prov_1",
		EncounterDate: time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
		Type:          models.CategoryInitialAssessment,
		ClinicalData:  map[string]any{"chief_complaint": "anxiety", "ssn": "123-45-6789"},
	}
}

// expectAudit captures exactly one appended event.
func (s *GatewayServiceSuite) expectAudit(captured *audit.Event) *gomock.Call {
	return s.auditLog.EXPECT().Append(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, e audit.Event) (audit.Ack, error) {
			*captured = e
			return audit.Ack{EventID: "evt_1"}, nil
		}).Times(1)
}

func (s *GatewayServiceSuite) TestNew() {
	s.Run("nil record store returns error", func() {
		_, err := New(nil, s.auditLog)
		s.Error(err)
	})

	s.Run("nil audit log returns error", func() {
		_, err := New(s.records, nil)
		s.Error(err)
	})
}

// =============================================================================
// CreateEncounter
// =============================================================================

func (s *GatewayServiceSuite) TestCreateEncounter() {
	s.Run("success audits the opaque record id", func() {
		var event audit.Event
		s.records.EXPECT().Create(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, e *models.Encounter) (string, error) { return e.ID, nil })
		s.expectAudit(&event)

		res, err := s.service.CreateEncounter(context.Background(), s.user, s.input())
		s.Require().NoError(err)
		s.Require().NotNil(res.Encounter)
		s.Equal("pat_1", res.Encounter.PatientID)
		s.Equal("u1", res.Encounter.CreatedBy)
		s.Equal("evt_1", res.AuditEventID)
		s.False(res.AuditDegraded)

		s.Equal(audit.EventCreate, event.EventType)
		s.Equal(audit.OutcomeSuccess, event.Outcome)
		s.Equal(res.Encounter.ID, event.ResourceID)
		s.NotEqual("pat_1", event.ResourceID)
		s.Equal("u1", event.PrincipalID)
		s.Equal("USER", event.PrincipalRole)
		s.Equal("10.0.0.1", event.SourceIP)
		s.Equal("curl/8.0", event.UserAgent)
	})

	s.Run("created_at follows the request time when one is fixed", func() {
		var event audit.Event
		s.records.EXPECT().Create(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, e *models.Encounter) (string, error) { return e.ID, nil }).Times(2)
		s.auditLog.EXPECT().Append(gomock.Any(), gomock.Any()).Return(audit.Ack{EventID: "evt_1"}, nil).Times(1)
		s.expectAudit(&event)

		res, err := s.service.CreateEncounter(context.Background(), s.user, s.input())
		s.Require().NoError(err)
		s.Equal(time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC), res.Encounter.CreatedAt)

		fixed := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
		res, err = s.service.CreateEncounter(requestcontext.WithTime(context.Background(), fixed), s.user, s.input())
		s.Require().NoError(err)
		s.Equal(fixed, res.Encounter.CreatedAt)
	})

	s.Run("store conflict is audited as an error", func() {
		var event audit.Event
		s.records.EXPECT().Create(gomock.Any(), gomock.Any()).Return("", sentinel.ErrConflict)
		s.expectAudit(&event)

		res, err := s.service.CreateEncounter(context.Background(), s.user, s.input())
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
		s.Nil(res.Encounter)
		s.Equal(audit.OutcomeError, event.Outcome)
	})

	s.Run("unexpected store failure becomes a generic internal error", func() {
		var event audit.Event
		s.records.EXPECT().Create(gomock.Any(), gomock.Any()).
			Return("", errors.New("write pat_1 failed for 123-45-6789"))
		s.expectAudit(&event)

		_, err := s.service.CreateEncounter(context.Background(), s.user, s.input())
		s.True(dErrors.HasCode(err, dErrors.CodeInternal))
		s.Equal("internal error", err.Error())
		s.NotContains(s.logs.String(), "123-45-6789")
	})

	s.Run("malformed input is rejected without touching stores or audit", func() {
		in := s.input()
		in.Type = "surgery"
		_, err := s.service.CreateEncounter(context.Background(), s.user, in)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))

		_, err = s.service.CreateEncounter(context.Background(), policy.Principal{Role: policy.RoleUser}, s.input())
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})

	s.Run("unknown role is rejected as malformed", func() {
		_, err := s.service.CreateEncounter(context.Background(), policy.Principal{ID: "x", Role: "GUEST"}, s.input())
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})
}

// =============================================================================
// ReadEncounter
// =============================================================================

func (s *GatewayServiceSuite) TestReadEncounter() {
	s.Run("success returns the unredacted record", func() {
		var event audit.Event
		s.records.EXPECT().Get(gomock.Any(), s.encounter.ID).Return(s.encounter, nil)
		s.expectAudit(&event)

		res, err := s.service.ReadEncounter(context.Background(), s.user, s.encounter.ID, models.Filter{})
		s.Require().NoError(err)
		s.Equal("123-45-6789", res.Encounter.ClinicalData["ssn"])
		s.Equal(audit.EventRead, event.EventType)
		s.Equal(audit.OutcomeSuccess, event.Outcome)
		s.Equal(s.encounter.ID, event.ResourceID)
	})

	s.Run("missing record yields not found and an error event", func() {
		var event audit.Event
		s.records.EXPECT().Get(gomock.Any(), "enc_missing").Return(nil, sentinel.ErrNotFound)
		s.expectAudit(&event)

		res, err := s.service.ReadEncounter(context.Background(), s.user, "enc_missing", models.Filter{})
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
		s.Equal("encounter not found", err.Error())
		s.Nil(res.Encounter)
		s.Equal(audit.OutcomeError, event.Outcome)
		s.Equal("enc_missing", event.ResourceID)
	})

	s.Run("filter mismatch is reported as not found", func() {
		var event audit.Event
		s.records.EXPECT().Get(gomock.Any(), s.encounter.ID).Return(s.encounter, nil)
		s.expectAudit(&event)

		_, err := s.service.ReadEncounter(context.Background(), s.user, s.encounter.ID, models.Filter{PatientID: "pat_other"})
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
		s.Equal(audit.OutcomeError, event.Outcome)
	})

	s.Run("inverted date filter is rejected without audit", func() {
		now := time.Now()
		_, err := s.service.ReadEncounter(context.Background(), s.user, s.encounter.ID,
			models.Filter{Start: now, End: now.Add(-time.Hour)})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("blank id is rejected without audit", func() {
		_, err := s.service.ReadEncounter(context.Background(), s.user, "  ", models.Filter{})
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})

	s.Run("audit append survives caller cancellation", func() {
		ctx, cancel := context.WithCancel(context.Background())
		s.records.EXPECT().Get(gomock.Any(), s.encounter.ID).
			DoAndReturn(func(context.Context, string) (*models.Encounter, error) {
				cancel()
				return s.encounter, nil
			})
		s.auditLog.EXPECT().Append(gomock.Any(), gomock.Any()).
			DoAndReturn(func(ctx context.Context, _ audit.Event) (audit.Ack, error) {
				s.NoError(ctx.Err())
				return audit.Ack{EventID: "evt_2"}, nil
			})

		res, err := s.service.ReadEncounter(ctx, s.user, s.encounter.ID, models.Filter{})
		s.Require().NoError(err)
		s.Equal("evt_2", res.AuditEventID)
	})
}

// =============================================================================
// ListAudit
// =============================================================================

func (s *GatewayServiceSuite) TestListAudit() {
	s.Run("user is denied and the denial is audited", func() {
		var event audit.Event
		s.expectAudit(&event)

		res, err := s.service.ListAudit(context.Background(), s.user, audit.Filter{})
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
		s.Equal("forbidden", err.Error())
		s.Empty(res.Events)
		s.Equal(audit.EventList, event.EventType)
		s.Equal(audit.OutcomeDenied, event.Outcome)
		s.Equal(1.0, testutil.ToFloat64(s.metrics.Requests.WithLabelValues("LIST_AUDIT", "DENIED")))
	})

	s.Run("admin receives events then the call is audited", func() {
		stored := []audit.Event{{EventID: "evt_a"}, {EventID: "evt_b"}}
		gomock.InOrder(
			s.auditLog.EXPECT().Query(gomock.Any(), audit.Filter{}).Return(seqOf(stored, nil), nil),
			s.auditLog.EXPECT().Append(gomock.Any(), gomock.Any()).
				DoAndReturn(func(_ context.Context, e audit.Event) (audit.Ack, error) {
					s.Equal(audit.OutcomeSuccess, e.Outcome)
					s.Equal(resourceAuditLog, e.ResourceID)
					return audit.Ack{EventID: "evt_c"}, nil
				}),
		)

		res, err := s.service.ListAudit(context.Background(), s.admin, audit.Filter{})
		s.Require().NoError(err)
		s.Equal(stored, res.Events)
	})

	s.Run("query failure is audited and surfaced as internal", func() {
		var event audit.Event
		s.auditLog.EXPECT().Query(gomock.Any(), gomock.Any()).
			Return(seqOf(nil, fmt.Errorf("list audit events: %w", sentinel.ErrUnavailable)), nil)
		s.expectAudit(&event)

		_, err := s.service.ListAudit(context.Background(), s.admin, audit.Filter{})
		s.True(dErrors.HasCode(err, dErrors.CodeInternal))
		s.Equal(audit.OutcomeError, event.Outcome)
	})

	s.Run("inverted range is rejected without audit", func() {
		now := time.Now()
		_, err := s.service.ListAudit(context.Background(), s.admin, audit.Filter{Start: now, End: now.Add(-time.Minute)})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

// =============================================================================
// Degraded audit
// =============================================================================

func (s *GatewayServiceSuite) TestDegradedAuditKeepsTheResult() {
	s.records.EXPECT().Get(gomock.Any(), s.encounter.ID).Return(s.encounter, nil)
	s.auditLog.EXPECT().Append(gomock.Any(), gomock.Any()).
		Return(audit.Ack{EventID: "evt_x", Degraded: true}, audit.ErrAppendFailed).Times(1)

	res, err := s.service.ReadEncounter(context.Background(), s.user, s.encounter.ID, models.Filter{})
	s.Require().NoError(err)
	s.Equal(s.encounter.ID, res.Encounter.ID)
	s.True(res.AuditDegraded)
	s.Equal("evt_x", res.AuditEventID)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.AuditDegraded.WithLabelValues("READ_ENCOUNTER")))
}

func seqOf(events []audit.Event, err error) iter.Seq2[audit.Event, error] {
	return func(yield func(audit.Event, error) bool) {
		for _, e := range events {
			if !yield(e, nil) {
				return
			}
		}
		if err != nil {
			yield(audit.Event{}, err)
		}
	}
}
