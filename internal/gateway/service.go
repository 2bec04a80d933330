// Package gateway is the single entry point for encounter reads and writes
// and for audit trail queries.
//
// Every call follows the same path: authorize, execute, audit, respond.
// Exactly one audit event is appended per call that passes input checks,
// whether the call was denied, failed or succeeded, and the append happens
// before the call returns. Errors crossing the boundary carry only generic
// messages; detail is logged through the redacting handler.
package gateway

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"strings"
	"time"

	"phigate/internal/encounter/models"
	"phigate/internal/gateway/metrics"
	"phigate/internal/policy"
	dErrors "phigate/pkg/domain-errors"
	"phigate/pkg/platform/audit"
	"phigate/pkg/platform/redact"
	"phigate/pkg/platform/sentinel"
	"phigate/pkg/requestcontext"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// RecordStore is the encounter store contract.
type RecordStore interface {
	Create(ctx context.Context, e *models.Encounter) (string, error)
	Get(ctx context.Context, id string) (*models.Encounter, error)
	List(ctx context.Context, filter models.Filter) ([]*models.Encounter, error)
}

// AuditLog is the audit contract; *audit.Log implements it.
type AuditLog interface {
	Append(ctx context.Context, event audit.Event) (audit.Ack, error)
	Query(ctx context.Context, filter audit.Filter) (iter.Seq2[audit.Event, error], error)
}

const (
	tracerName = "phigate/internal/gateway"

	// Resource ids for events that do not target a single record.
	resourceEncounters = "encounters"
	resourceAuditLog   = "audit_log"
)

var (
	errForbidden = dErrors.New(dErrors.CodeForbidden, "forbidden")
	errNotFound  = dErrors.New(dErrors.CodeNotFound, "encounter not found")
	errConflict  = dErrors.New(dErrors.CodeConflict, "encounter already exists")
	errInternal  = dErrors.New(dErrors.CodeInternal, "internal error")
)

// AuditOutcome reports what happened to the audit event of a call.
// AuditDegraded means the event was not persisted and went to the
// dead-letter path; the call's own result is unaffected.
type AuditOutcome struct {
	AuditEventID  string
	AuditDegraded bool
}

// CreateResult is returned by CreateEncounter. It is non-nil whenever the
// call was audited, including denied and failed calls.
type CreateResult struct {
	Encounter *models.Encounter
	AuditOutcome
}

// ReadResult is returned by ReadEncounter, with the same rules as
// CreateResult.
type ReadResult struct {
	Encounter *models.Encounter
	AuditOutcome
}

// ListAuditResult is returned by ListAudit. Events are in ascending
// timestamp order and do not include the event recording this call.
type ListAuditResult struct {
	Events []audit.Event
	AuditOutcome
}

// Service is the encounter gateway.
type Service struct {
	records  RecordStore
	auditLog AuditLog
	redactor *redact.Redactor
	logger   *slog.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer
	now      func() time.Time
}

type Option func(*Service)

// WithLogger sets the logger. The service wraps it in a redacting handler,
// so callers may pass any logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithRedactor(r *redact.Redactor) Option {
	return func(s *Service) {
		if r != nil {
			s.redactor = r
		}
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// New constructs a Service.
func New(records RecordStore, auditLog AuditLog, opts ...Option) (*Service, error) {
	if records == nil {
		return nil, errors.New("record store is required")
	}
	if auditLog == nil {
		return nil, errors.New("audit log is required")
	}
	s := &Service{
		records:  records,
		auditLog: auditLog,
		redactor: redact.New(),
		tracer:   otel.Tracer(tracerName),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	s.logger = slog.New(redact.NewHandler(s.logger.Handler(), s.redactor))
	return s, nil
}

// clock prefers the time fixed for the current request so that a record's
// created_at agrees with the request that produced it.
func (s *Service) clock(ctx context.Context) time.Time {
	if t, ok := requestcontext.TimeFrom(ctx); ok {
		return t
	}
	return s.now()
}

// call is the audit context of one gateway call.
type call struct {
	op        policy.Operation
	principal policy.Principal
	eventType audit.EventType
	start     time.Time
}

func (s *Service) begin(ctx context.Context, op policy.Operation, p policy.Principal, eventType audit.EventType) (context.Context, trace.Span, call) {
	ctx, span := s.tracer.Start(ctx, "gateway."+strings.ToLower(string(op)),
		trace.WithAttributes(
			attribute.String("gateway.operation", string(op)),
			attribute.String("principal.role", string(p.Role)),
		),
	)
	return ctx, span, call{op: op, principal: p, eventType: eventType, start: time.Now()}
}

// CreateEncounter authorizes and stores a new encounter.
func (s *Service) CreateEncounter(ctx context.Context, p policy.Principal, in models.NewEncounterInput) (*CreateResult, error) {
	ctx, span, c := s.begin(ctx, policy.OpCreateEncounter, p, audit.EventCreate)
	defer span.End()

	if err := p.Validate(); err != nil {
		return nil, s.reject(ctx, span, c, err)
	}
	encounter, err := models.NewEncounter(in, p.ID, s.clock(ctx))
	if err != nil {
		return nil, s.reject(ctx, span, c, err)
	}

	if d := policy.Authorize(p, c.op, ""); !d.Allowed {
		out := s.finish(ctx, span, c, resourceEncounters, audit.OutcomeDenied)
		s.logDenied(ctx, c, d)
		return &CreateResult{AuditOutcome: out}, errForbidden
	}

	id, err := s.records.Create(ctx, encounter)
	if err != nil {
		out := s.finish(ctx, span, c, encounter.ID, audit.OutcomeError)
		return &CreateResult{AuditOutcome: out}, s.storeError(ctx, c, err)
	}

	out := s.finish(ctx, span, c, id, audit.OutcomeSuccess)
	s.logger.InfoContext(ctx, "encounter created",
		"encounter_id", id,
		"encounter_type", encounter.Type,
		"principal_id", p.ID,
	)
	return &CreateResult{Encounter: encounter, AuditOutcome: out}, nil
}

// ReadEncounter authorizes and loads one encounter. A record that exists
// but does not satisfy a non-empty filter is reported as not found.
func (s *Service) ReadEncounter(ctx context.Context, p policy.Principal, id string, filter models.Filter) (*ReadResult, error) {
	ctx, span, c := s.begin(ctx, policy.OpReadEncounter, p, audit.EventRead)
	defer span.End()

	id = strings.TrimSpace(id)
	if err := p.Validate(); err != nil {
		return nil, s.reject(ctx, span, c, err)
	}
	if id == "" {
		return nil, s.reject(ctx, span, c, dErrors.New(dErrors.CodeBadRequest, "encounter id is required"))
	}
	if err := filter.Validate(); err != nil {
		return nil, s.reject(ctx, span, c, err)
	}

	if d := policy.Authorize(p, c.op, ""); !d.Allowed {
		out := s.finish(ctx, span, c, id, audit.OutcomeDenied)
		s.logDenied(ctx, c, d)
		return &ReadResult{AuditOutcome: out}, errForbidden
	}

	encounter, err := s.records.Get(ctx, id)
	if err != nil {
		out := s.finish(ctx, span, c, id, audit.OutcomeError)
		return &ReadResult{AuditOutcome: out}, s.storeError(ctx, c, err)
	}
	if !filter.IsEmpty() && !filter.Matches(encounter) {
		out := s.finish(ctx, span, c, id, audit.OutcomeError)
		s.logger.InfoContext(ctx, "encounter does not match filter", "encounter_id", id)
		return &ReadResult{AuditOutcome: out}, errNotFound
	}

	out := s.finish(ctx, span, c, id, audit.OutcomeSuccess)
	s.logger.InfoContext(ctx, "encounter accessed",
		"encounter_id", id,
		"principal_id", p.ID,
	)
	return &ReadResult{Encounter: encounter, AuditOutcome: out}, nil
}

// ListAudit authorizes and runs an audit trail query. The query is
// materialized before the call's own event is appended.
func (s *Service) ListAudit(ctx context.Context, p policy.Principal, filter audit.Filter) (*ListAuditResult, error) {
	ctx, span, c := s.begin(ctx, policy.OpListAudit, p, audit.EventList)
	defer span.End()

	if err := p.Validate(); err != nil {
		return nil, s.reject(ctx, span, c, err)
	}
	if err := filter.Validate(); err != nil {
		return nil, s.reject(ctx, span, c, err)
	}

	if d := policy.Authorize(p, c.op, ""); !d.Allowed {
		out := s.finish(ctx, span, c, resourceAuditLog, audit.OutcomeDenied)
		s.logDenied(ctx, c, d)
		return &ListAuditResult{AuditOutcome: out}, errForbidden
	}

	events, err := s.queryAudit(ctx, filter)
	if err != nil {
		out := s.finish(ctx, span, c, resourceAuditLog, audit.OutcomeError)
		s.logger.ErrorContext(ctx, "audit query failed", "error", err)
		return &ListAuditResult{AuditOutcome: out}, errInternal
	}

	out := s.finish(ctx, span, c, resourceAuditLog, audit.OutcomeSuccess)
	s.logger.InfoContext(ctx, "audit trail accessed",
		"principal_id", p.ID,
		"events", len(events),
		"filter_resource_id", filter.ResourceID,
		"filter_principal_id", filter.PrincipalID,
		"filter_event_type", filter.EventType,
	)
	return &ListAuditResult{Events: events, AuditOutcome: out}, nil
}

func (s *Service) queryAudit(ctx context.Context, filter audit.Filter) ([]audit.Event, error) {
	seq, err := s.auditLog.Query(ctx, filter)
	if err != nil {
		return nil, err
	}
	events := []audit.Event{}
	for event, err := range seq {
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, nil
}

// finish appends the call's audit event. The append ignores caller
// cancellation: once a call has an outcome, its audit record is attempted.
func (s *Service) finish(ctx context.Context, span trace.Span, c call, resourceID string, outcome audit.Outcome) AuditOutcome {
	ack, err := s.auditLog.Append(context.WithoutCancel(ctx), audit.Event{
		PrincipalID:   c.principal.ID,
		PrincipalRole: string(c.principal.Role),
		EventType:     c.eventType,
		ResourceID:    resourceID,
		SourceIP:      c.principal.SourceIP,
		UserAgent:     c.principal.UserAgent,
		Outcome:       outcome,
	})
	degraded := ack.Degraded || err != nil
	if err != nil {
		s.logger.ErrorContext(ctx, "audit event not persisted",
			"operation", c.op,
			"outcome", outcome,
			"audit_event_id", ack.EventID,
			"error", err,
		)
	}

	span.SetAttributes(
		attribute.String("gateway.outcome", string(outcome)),
		attribute.Bool("audit.degraded", degraded),
	)
	if outcome != audit.OutcomeSuccess {
		span.SetStatus(codes.Error, string(outcome))
	}
	if s.metrics != nil {
		s.metrics.IncrementRequest(string(c.op), string(outcome))
		s.metrics.ObserveDuration(string(c.op), c.start)
		if degraded {
			s.metrics.IncrementAuditDegraded(string(c.op))
		}
	}
	return AuditOutcome{AuditEventID: ack.EventID, AuditDegraded: degraded}
}

// reject handles input that should have been stopped by request
// validation. Nothing has been touched, so nothing is audited.
func (s *Service) reject(ctx context.Context, span trace.Span, c call, err error) error {
	span.SetStatus(codes.Error, "rejected")
	if s.metrics != nil {
		s.metrics.IncrementRequest(string(c.op), "REJECTED")
	}
	s.logger.DebugContext(ctx, "gateway call rejected", "operation", c.op, "error", err)
	switch dErrors.CodeOf(err) {
	case dErrors.CodeBadRequest, dErrors.CodeValidation:
		return err
	default:
		return dErrors.New(dErrors.CodeBadRequest, "malformed request")
	}
}

func (s *Service) logDenied(ctx context.Context, c call, d policy.Decision) {
	s.logger.WarnContext(ctx, "access denied",
		"operation", c.op,
		"principal_id", c.principal.ID,
		"principal_role", c.principal.Role,
		"reason", d.Reason,
	)
}

// storeError maps record store failures to generic domain errors.
func (s *Service) storeError(ctx context.Context, c call, err error) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return errNotFound
	case errors.Is(err, sentinel.ErrConflict):
		return errConflict
	case errors.Is(err, redact.ErrRedactionFailed):
		s.logger.ErrorContext(ctx, "redaction failed, response withheld", "operation", c.op)
		return errInternal
	default:
		s.logger.ErrorContext(ctx, "record store failure", "operation", c.op, "error", err)
		return errInternal
	}
}
