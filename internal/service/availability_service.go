package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/course-scheduling-api/internal/models"
	appErrors "github.com/noah-isme/course-scheduling-api/pkg/errors"
)

type teacherDirectory interface {
	ListUsers(ctx context.Context, anchor, verb string, at time.Time) ([]models.Teacher, error)
}

type availabilityStore interface {
	ListAvailableBlocks(ctx context.Context, userID, programID string) ([]models.TimeBlock, error)
	ListTeachingSlots(ctx context.Context, userID, programID string, blockIDs []string, at time.Time) ([]models.TeachingSlot, error)
}

// AvailabilityService resolves when a section's teachers are free.
type AvailabilityService struct {
	teachers teacherDirectory
	store    availabilityStore
	logger   *zap.Logger
}

// NewAvailabilityService constructs an AvailabilityService.
func NewAvailabilityService(teachers teacherDirectory, store availabilityStore, logger *zap.Logger) *AvailabilityService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AvailabilityService{teachers: teachers, store: store, logger: logger}
}

// Teachers returns the teachers of a subject at.
func (s *AvailabilityService) Teachers(ctx context.Context, subject models.Subject, at time.Time) ([]models.Teacher, error) {
	teachers, err := s.teachers.ListUsers(ctx, subject.Anchor, models.VerbTeacher, at)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teachers")
	}
	return teachers, nil
}

// AvailableTimes returns the blocks a teacher marked available. Unless
// ignoreClasses is set, blocks at which the teacher already teaches are
// removed.
func (s *AvailabilityService) AvailableTimes(ctx context.Context, userID, programID string, ignoreClasses bool, at time.Time) ([]models.TimeBlock, error) {
	blocks, err := s.store.ListAvailableBlocks(ctx, userID, programID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teacher availability")
	}
	if ignoreClasses || len(blocks) == 0 {
		return blocks, nil
	}
	slots, err := s.store.ListTeachingSlots(ctx, userID, programID, nil, at)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teaching load")
	}
	busy := make(map[string]struct{}, len(slots))
	for _, slot := range slots {
		busy[slot.TimeBlockID] = struct{}{}
	}
	free := make([]models.TimeBlock, 0, len(blocks))
	for _, b := range blocks {
		if _, taken := busy[b.ID]; !taken {
			free = append(free, b)
		}
	}
	return free, nil
}

// SectionAvailability intersects the availability of every teacher of the
// subject, keeping the first teacher's order, then appends the section's own
// meeting times. A subject with no teachers has no availability beyond the
// section's own blocks.
func (s *AvailabilityService) SectionAvailability(ctx context.Context, subject models.Subject, own []models.TimeBlock, ignoreClasses bool, at time.Time) ([]models.TimeBlock, error) {
	teachers, err := s.Teachers(ctx, subject, at)
	if err != nil {
		return nil, err
	}

	var available []models.TimeBlock
	for i, teacher := range teachers {
		blocks, err := s.AvailableTimes(ctx, teacher.ID, subject.ProgramID, ignoreClasses, at)
		if err != nil {
			return nil, err
		}
		if i == 0 {
			available = blocks
			continue
		}
		available = intersectBlocks(available, blocks)
		if len(available) == 0 {
			break
		}
	}

	for _, b := range own {
		if !models.ContainsBlock(available, b.ID) {
			available = append(available, b)
		}
	}
	return available, nil
}

// CannotSchedule explains why the subject's teachers cannot meet at blocks,
// or returns "" when they can. sectionID is excluded from teaching conflicts.
func (s *AvailabilityService) CannotSchedule(ctx context.Context, subject models.Subject, sectionID string, blocks []models.TimeBlock, at time.Time) (string, error) {
	teachers, err := s.Teachers(ctx, subject, at)
	if err != nil {
		return "", err
	}
	ids := models.BlockIDs(blocks)
	for _, teacher := range teachers {
		available, err := s.store.ListAvailableBlocks(ctx, teacher.ID, subject.ProgramID)
		if err != nil {
			return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teacher availability")
		}
		for _, b := range blocks {
			if !models.ContainsBlock(available, b.ID) {
				return fmt.Sprintf("The teacher %s has not indicated availability during %s.", teacher.Name, b.Label()), nil
			}
		}
		slots, err := s.store.ListTeachingSlots(ctx, teacher.ID, subject.ProgramID, ids, at)
		if err != nil {
			return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teaching load")
		}
		for _, slot := range slots {
			if slot.SectionID == sectionID {
				continue
			}
			block := models.TimeBlock{Start: slot.BlockStart, End: slot.BlockEnd}
			return fmt.Sprintf("The teacher %s is teaching %ss%d during %s.", teacher.Name, slot.SubjectCode, slot.Index, block.Label()), nil
		}
	}
	return "", nil
}

func intersectBlocks(base, other []models.TimeBlock) []models.TimeBlock {
	out := make([]models.TimeBlock, 0, len(base))
	for _, b := range base {
		if models.ContainsBlock(other, b.ID) {
			out = append(out, b)
		}
	}
	return out
}
