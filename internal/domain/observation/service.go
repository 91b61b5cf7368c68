package observation

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pstell2002/jupyterhealth-exchange/internal/platform/db"
	"github.com/pstell2002/jupyterhealth-exchange/internal/platform/fhir"
	"github.com/pstell2002/jupyterhealth-exchange/internal/platform/metrics"
)

// SubjectCreated is the event subject published after an observation commits.
const SubjectCreated = "observation.created"

// Transactor runs fn in one database transaction.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// EventPublisher delivers domain events. Failures are logged, never returned
// to the client.
type EventPublisher interface {
	Publish(ctx context.Context, subject string, payload interface{}) error
}

// CreatedEvent is the payload of SubjectCreated.
type CreatedEvent struct {
	ObservationID uuid.UUID `json:"observation_id"`
	PatientID     uuid.UUID `json:"patient_id"`
	ScopeCodeID   uuid.UUID `json:"scope_code_id"`
	ActorID       uuid.UUID `json:"actor_id"`
}

type Service struct {
	repo   Repository
	authz  Authorizer
	tx     Transactor
	events EventPublisher
	logger zerolog.Logger
}

func NewService(repo Repository, authz Authorizer, tx Transactor, events EventPublisher, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		authz:  authz,
		tx:     tx,
		events: events,
		logger: logger.With().Str("component", "observation").Logger(),
	}
}

// Create maps an internal-form resource onto a new observation and persists
// it in its own transaction. The actor must be the subject patient or a
// practitioner authorized for the patient's organization, and the patient
// must have granted the observation's scope to at least one study.
func (s *Service) Create(ctx context.Context, resource map[string]interface{}, actor uuid.UUID) (*Observation, error) {
	o, err := FromResource(resource)
	if err != nil {
		return nil, err
	}

	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		scope, err := s.repo.ScopeCodeByCoding(ctx, o.CodingSystem, o.CodingCode)
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("%w: unknown coding %s|%s", ErrInvalidResource, o.CodingSystem, o.CodingCode)
		}
		if err != nil {
			return err
		}
		o.CodeableConceptID = scope.ID
		o.CodingText = scope.Text

		if err := s.authorizeWrite(ctx, o.SubjectPatientID, actor); err != nil {
			return err
		}

		granted, err := s.authz.HasGrantedScope(ctx, o.SubjectPatientID, scope.ID)
		if err != nil {
			return err
		}
		if !granted {
			return fmt.Errorf("%w: patient %s has not consented to scope %s|%s in any study",
				ErrForbidden, o.SubjectPatientID, o.CodingSystem, o.CodingCode)
		}

		return s.repo.Create(ctx, o)
	})
	if err != nil {
		return nil, err
	}

	s.publishCreated(ctx, o, actor)
	return o, nil
}

func (s *Service) authorizeWrite(ctx context.Context, patientID, actor uuid.UUID) error {
	userID, err := s.repo.PatientUserID(ctx, patientID)
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("%w: patient %s not found", ErrInvalidResource, patientID)
	}
	if err != nil {
		return err
	}
	if userID == actor {
		return nil
	}
	ok, err := s.authz.IsPatientAuthorized(ctx, actor, patientID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: not authorized to write observations for patient %s", ErrForbidden, patientID)
	}
	return nil
}

func (s *Service) publishCreated(ctx context.Context, o *Observation, actor uuid.UUID) {
	if s.events == nil {
		return
	}
	evt := CreatedEvent{
		ObservationID: o.ID,
		PatientID:     o.SubjectPatientID,
		ScopeCodeID:   o.CodeableConceptID,
		ActorID:       actor,
	}
	if err := s.events.Publish(ctx, SubjectCreated, evt); err != nil {
		metrics.ObservationEventsTotal.WithLabelValues("failed").Inc()
		s.logger.Warn().Err(err).Str("observation_id", o.ID.String()).Msg("publish observation.created")
		return
	}
	metrics.ObservationEventsTotal.WithLabelValues("published").Inc()
}

// CreateFromResource implements fhir.EntryCreator.
func (s *Service) CreateFromResource(ctx context.Context, resource map[string]interface{}, actor uuid.UUID) fhir.CreateResult {
	o, err := s.Create(ctx, resource, actor)
	return Classify(o, err)
}

// Classify converts the outcome of Create into a tagged result.
func Classify(o *Observation, err error) fhir.CreateResult {
	switch {
	case err == nil:
		return fhir.Created(o.ID.String())
	case errors.Is(err, ErrInvalidResource):
		return fhir.Rejected(err.Error())
	case errors.Is(err, ErrForbidden):
		return fhir.Forbidden(err.Error())
	case db.IsConstraintViolation(err):
		return fhir.Conflict(db.ConstraintDetail(err))
	default:
		return fhir.Failed(err)
	}
}

// Search runs an authorized observation search for practitionerID.
func (s *Service) Search(ctx context.Context, practitionerID uuid.UUID, p SearchParams, limit, offset int) ([]*Observation, int, error) {
	q, err := BuildSearch(ctx, s.authz, practitionerID, p)
	if err != nil {
		return nil, 0, err
	}
	return s.repo.Search(ctx, q, limit, offset)
}

// Get returns one observation if userID may read it. Unknown observations
// are reported as ErrForbidden.
func (s *Service) Get(ctx context.Context, userID, id uuid.UUID) (*Observation, error) {
	ok, err := s.authz.IsObservationAuthorized(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrForbidden
	}
	return s.repo.GetByID(ctx, id)
}
