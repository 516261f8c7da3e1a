package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/course-scheduling-api/internal/models"
	appErrors "github.com/noah-isme/course-scheduling-api/pkg/errors"
)

type teacherRoster interface {
	ListUserIDs(ctx context.Context, anchor, verb string, at time.Time) ([]string, error)
	Grant(ctx context.Context, exec sqlx.ExtContext, perm *models.Permission) error
	Revoke(ctx context.Context, exec sqlx.ExtContext, userID, anchor, verb string, at time.Time) (int64, error)
}

type availabilityWriter interface {
	ListAvailableBlocks(ctx context.Context, userID, programID string) ([]models.TimeBlock, error)
	ReplaceBlocks(ctx context.Context, exec sqlx.ExtContext, userID, programID string, blockIDs []string) error
}

type programBlockLister interface {
	ListByProgram(ctx context.Context, programID string) ([]models.TimeBlock, error)
}

// StaffingService manages who teaches a subject and when teachers are free.
type StaffingService struct {
	db           txProvider
	subjects     subjectReader
	blocks       programBlockLister
	teachers     teacherRoster
	availability availabilityWriter
	cache        *CacheService
	logger       *zap.Logger
	now          func() time.Time
}

// NewStaffingService constructs a StaffingService.
func NewStaffingService(db txProvider, subjects subjectReader, blocks programBlockLister, teachers teacherRoster, availability availabilityWriter, cache *CacheService, logger *zap.Logger) *StaffingService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StaffingService{
		db:           db,
		subjects:     subjects,
		blocks:       blocks,
		teachers:     teachers,
		availability: availability,
		cache:        cache,
		logger:       logger,
		now:          time.Now,
	}
}

func (s *StaffingService) subject(ctx context.Context, id string) (*models.Subject, error) {
	subject, err := s.subjects.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "subject not found")
		}
		return nil, wrapInternal(err, "failed to load subject")
	}
	return subject, nil
}

// Teachers lists the ids of the subject's current teachers.
func (s *StaffingService) Teachers(ctx context.Context, subjectID string) ([]string, error) {
	subject, err := s.subject(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	ids, err := s.teachers.ListUserIDs(ctx, subject.Anchor, models.VerbTeacher, s.now())
	if err != nil {
		return nil, wrapInternal(err, "failed to load teachers")
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

// AddTeacher makes userID a teacher of the subject. It returns false when the
// user already teaches it.
func (s *StaffingService) AddTeacher(ctx context.Context, subjectID, userID string) (bool, error) {
	subject, err := s.subject(ctx, subjectID)
	if err != nil {
		return false, err
	}
	at := s.now()
	ids, err := s.teachers.ListUserIDs(ctx, subject.Anchor, models.VerbTeacher, at)
	if err != nil {
		return false, wrapInternal(err, "failed to load teachers")
	}
	for _, id := range ids {
		if id == userID {
			return false, nil
		}
	}
	perm := &models.Permission{UserID: userID, Anchor: subject.Anchor, Verb: models.VerbTeacher, StartDate: at, EndDate: models.OpenEnded}
	if err := s.teachers.Grant(ctx, nil, perm); err != nil {
		return false, wrapInternal(err, "failed to add teacher")
	}
	s.cache.Bump(ctx, ClassTeachers)
	s.logger.Info("teacher added", zap.String("subject_id", subject.ID), zap.String("user_id", userID))
	return true, nil
}

// RemoveTeacher ends userID's teaching of the subject. It returns false when
// the user was not teaching it.
func (s *StaffingService) RemoveTeacher(ctx context.Context, subjectID, userID string) (bool, error) {
	subject, err := s.subject(ctx, subjectID)
	if err != nil {
		return false, err
	}
	n, err := s.teachers.Revoke(ctx, nil, userID, subject.Anchor, models.VerbTeacher, s.now())
	if err != nil {
		return false, wrapInternal(err, "failed to remove teacher")
	}
	if n == 0 {
		return false, nil
	}
	s.cache.Bump(ctx, ClassTeachers)
	s.logger.Info("teacher removed", zap.String("subject_id", subject.ID), zap.String("user_id", userID))
	return true, nil
}

// Availability returns the blocks the teacher marked available in the program.
func (s *StaffingService) Availability(ctx context.Context, programID, userID string) ([]models.TimeBlock, error) {
	blocks, err := s.availability.ListAvailableBlocks(ctx, userID, programID)
	if err != nil {
		return nil, wrapInternal(err, "failed to load teacher availability")
	}
	if blocks == nil {
		blocks = []models.TimeBlock{}
	}
	return models.SortBlocks(blocks), nil
}

// SetAvailability replaces the teacher's availability in the program with
// blockIDs, each of which must belong to the program.
func (s *StaffingService) SetAvailability(ctx context.Context, programID, userID string, blockIDs []string) ([]models.TimeBlock, error) {
	all, err := s.blocks.ListByProgram(ctx, programID)
	if err != nil {
		return nil, wrapInternal(err, "failed to load time blocks")
	}
	byID := make(map[string]models.TimeBlock, len(all))
	for _, b := range all {
		byID[b.ID] = b
	}
	chosen := make([]models.TimeBlock, 0, len(blockIDs))
	for _, id := range blockIDs {
		b, ok := byID[id]
		if !ok {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("time block %s is not part of the program", id))
		}
		if models.ContainsBlock(chosen, id) {
			continue
		}
		chosen = append(chosen, b)
	}
	chosen = models.SortBlocks(chosen)
	ids := models.BlockIDs(chosen)

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, wrapInternal(err, "failed to begin transaction")
	}
	if err := s.availability.ReplaceBlocks(ctx, tx, userID, programID, ids); err != nil {
		_ = tx.Rollback()
		return nil, wrapInternal(err, "failed to save teacher availability")
	}
	if err := tx.Commit(); err != nil {
		return nil, wrapInternal(err, "failed to commit transaction")
	}
	s.cache.Bump(ctx, ClassAvailability)
	return chosen, nil
}
