package study

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pstell2002/jupyterhealth-exchange/internal/domain/access"
	"github.com/pstell2002/jupyterhealth-exchange/internal/platform/db"
)

// Authorizer is the subset of the access engine used for study operations.
type Authorizer interface {
	IsStudyAuthorized(ctx context.Context, userID, studyID uuid.UUID) (bool, error)
	IsPatientAuthorized(ctx context.Context, userID, patientID uuid.UUID) (bool, error)
	ConsentState(ctx context.Context, studyID, patientID, scopeCodeID uuid.UUID) (access.ConsentState, error)
	StudyConsents(ctx context.Context, studyID uuid.UUID) ([]access.ScopeConsent, error)
	PendingScopeConsents(ctx context.Context, studyID uuid.UUID) ([]access.ScopeConsent, error)
	ActiveScopeConsents(ctx context.Context, studyID uuid.UUID) ([]access.ScopeConsent, error)
}

type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type Service struct {
	repo   Repository
	authz  Authorizer
	tx     Transactor
	logger zerolog.Logger
	now    func() time.Time
}

func NewService(repo Repository, authz Authorizer, tx Transactor, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		authz:  authz,
		tx:     tx,
		logger: logger.With().Str("component", "study").Logger(),
		now:    time.Now,
	}
}

func (s *Service) requireStudy(ctx context.Context, actor, studyID uuid.UUID) error {
	ok, err := s.authz.IsStudyAuthorized(ctx, actor, studyID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: study %s", ErrForbidden, studyID)
	}
	return nil
}

// requirePatientActor admits the patient's own user and practitioners
// authorized for the patient's organization.
func (s *Service) requirePatientActor(ctx context.Context, actor, patientID uuid.UUID) error {
	userID, err := s.repo.PatientUserID(ctx, patientID)
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("%w: patient %s", ErrNotFound, patientID)
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
		return fmt.Errorf("%w: patient %s", ErrForbidden, patientID)
	}
	return nil
}

// Consents returns the pending and granted consent states of a study.
func (s *Service) Consents(ctx context.Context, actor, studyID uuid.UUID) (*ConsentSummary, error) {
	if err := s.requireStudy(ctx, actor, studyID); err != nil {
		return nil, err
	}
	pending, err := s.authz.PendingScopeConsents(ctx, studyID)
	if err != nil {
		return nil, err
	}
	granted, err := s.authz.ActiveScopeConsents(ctx, studyID)
	if err != nil {
		return nil, err
	}
	return &ConsentSummary{StudyID: studyID, Pending: pending, Granted: granted}, nil
}

// RecordConsent stores a patient's answer for a requested scope. An answer
// older than the one on record is ignored and the current state returned.
func (s *Service) RecordConsent(ctx context.Context, actor, studyID uuid.UUID, in ConsentInput) (*access.ScopeConsent, error) {
	if err := in.validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalid, err.Error())
	}
	if err := s.requirePatientActor(ctx, actor, in.PatientID); err != nil {
		return nil, err
	}

	if _, err := s.authz.ConsentState(ctx, studyID, in.PatientID, in.ScopeCodeID); err != nil {
		if errors.Is(err, access.ErrPatientNotInStudy) || errors.Is(err, access.ErrScopeNotRequested) {
			return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
		}
		return nil, err
	}

	at := s.now().UTC()
	if in.ConsentedTime != nil {
		at = in.ConsentedTime.UTC()
	}

	var applied bool
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		enrollmentID, err := s.repo.EnrollmentID(ctx, studyID, in.PatientID)
		if err != nil {
			return err
		}
		applied, err = s.repo.UpsertConsent(ctx, enrollmentID, in.ScopeCodeID, *in.Consented, at)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !applied {
		s.logger.Info().
			Str("study_id", studyID.String()).
			Str("patient_id", in.PatientID.String()).
			Time("consented_time", at).
			Msg("consent older than recorded answer ignored")
	}

	state, err := s.authz.ConsentState(ctx, studyID, in.PatientID, in.ScopeCodeID)
	if err != nil {
		return nil, err
	}
	sc := &access.ScopeConsent{
		StudyID:     studyID,
		PatientID:   in.PatientID,
		ScopeCodeID: in.ScopeCodeID,
		State:       state,
	}
	if applied {
		sc.ConsentedTime = &at
	}
	return sc, nil
}

// Enroll adds patients to a study. Every patient must belong to an
// organization the actor is authorized for; otherwise nothing is enrolled.
func (s *Service) Enroll(ctx context.Context, actor, studyID uuid.UUID, in EnrollInput) ([]*access.Enrollment, error) {
	if len(in.PatientIDs) == 0 {
		return nil, fmt.Errorf("%w: patient_ids is required", ErrInvalid)
	}
	if err := s.requireStudy(ctx, actor, studyID); err != nil {
		return nil, err
	}
	for _, pid := range in.PatientIDs {
		ok, err := s.authz.IsPatientAuthorized(ctx, actor, pid)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: patient %s", ErrForbidden, pid)
		}
	}

	out := make([]*access.Enrollment, 0, len(in.PatientIDs))
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		for _, pid := range in.PatientIDs {
			e, err := s.repo.Enroll(ctx, studyID, pid)
			if err != nil {
				return err
			}
			out = append(out, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RequestScope declares that a study collects the given scope.
func (s *Service) RequestScope(ctx context.Context, actor, studyID uuid.UUID, in ScopeRequestInput) error {
	if in.ScopeCodeID == uuid.Nil {
		return fmt.Errorf("%w: scope_code_id is required", ErrInvalid)
	}
	if err := s.requireStudy(ctx, actor, studyID); err != nil {
		return err
	}
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		return s.repo.AddScopeRequest(ctx, studyID, in.ScopeCodeID)
	})
	if db.IsConstraintViolation(err) {
		return fmt.Errorf("%w: unknown scope code %s", ErrInvalid, in.ScopeCodeID)
	}
	return err
}

// ScopeRequests lists the scope codes a study collects.
func (s *Service) ScopeRequests(ctx context.Context, actor, studyID uuid.UUID) ([]ScopeRequest, error) {
	if err := s.requireStudy(ctx, actor, studyID); err != nil {
		return nil, err
	}
	return s.repo.ListScopeRequests(ctx, studyID)
}

// DataSources lists the data sources a study has opted in to.
func (s *Service) DataSources(ctx context.Context, actor, studyID uuid.UUID) ([]StudyDataSource, error) {
	if err := s.requireStudy(ctx, actor, studyID); err != nil {
		return nil, err
	}
	return s.repo.ListDataSources(ctx, studyID)
}

// AddDataSource opts a study in to a data source. Adding one twice is a
// conflict.
func (s *Service) AddDataSource(ctx context.Context, actor, studyID uuid.UUID, in DataSourceInput) error {
	if in.DataSourceID == uuid.Nil {
		return fmt.Errorf("%w: data_source_id is required", ErrInvalid)
	}
	if err := s.requireStudy(ctx, actor, studyID); err != nil {
		return err
	}
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		return s.repo.AddDataSource(ctx, studyID, in.DataSourceID)
	})
	switch {
	case db.IsUniqueViolation(err):
		return fmt.Errorf("%w: study %s already uses data source %s", ErrConflict, studyID, in.DataSourceID)
	case db.IsConstraintViolation(err):
		return fmt.Errorf("%w: unknown data source %s", ErrInvalid, in.DataSourceID)
	}
	return err
}

// RemoveDataSource opts a study out of a data source.
func (s *Service) RemoveDataSource(ctx context.Context, actor, studyID uuid.UUID, in DataSourceInput) error {
	if in.DataSourceID == uuid.Nil {
		return fmt.Errorf("%w: data_source_id is required", ErrInvalid)
	}
	if err := s.requireStudy(ctx, actor, studyID); err != nil {
		return err
	}
	err := s.repo.RemoveDataSource(ctx, studyID, in.DataSourceID)
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("%w: study %s does not use data source %s", ErrNotFound, studyID, in.DataSourceID)
	}
	return err
}

// PatientConsents lists the consent state of every requested scope in every
// study the patient is enrolled in.
func (s *Service) PatientConsents(ctx context.Context, actor, patientID uuid.UUID) ([]PatientStudyConsents, error) {
	if err := s.requirePatientActor(ctx, actor, patientID); err != nil {
		return nil, err
	}
	studies, err := s.repo.ListForPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}

	out := make([]PatientStudyConsents, 0, len(studies))
	for _, st := range studies {
		all, err := s.authz.StudyConsents(ctx, st.ID)
		if err != nil {
			return nil, err
		}
		scopes := make([]access.ScopeConsent, 0)
		for _, sc := range all {
			if sc.PatientID == patientID {
				scopes = append(scopes, sc)
			}
		}
		out = append(out, PatientStudyConsents{Study: st, Scopes: scopes})
	}
	return out, nil
}
