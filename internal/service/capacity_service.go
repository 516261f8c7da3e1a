package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/noah-isme/course-scheduling-api/internal/models"
	appErrors "github.com/noah-isme/course-scheduling-api/pkg/errors"
)

// CapacityInput is everything the capacity rules look at.
type CapacityInput struct {
	Section      models.Section
	Subject      models.Subject
	SizeRanges   []models.ClassSizeRange
	HasRooms     bool
	RoomCapacity int
}

// capacityRule yields a capacity, or false when it does not apply. A rule
// that applies may still yield zero, meaning "not configured".
type capacityRule func(in CapacityInput) (int, bool)

var baseCapacityRules = []capacityRule{
	func(in CapacityInput) (int, bool) {
		if in.Section.MaxCapacity == nil {
			return 0, false
		}
		return *in.Section.MaxCapacity, true
	},
	func(in CapacityInput) (int, bool) {
		if !in.HasRooms {
			return 0, false
		}
		if in.Subject.ClassSizeMax == nil {
			return 0, true
		}
		return minInt(*in.Subject.ClassSizeMax, in.RoomCapacity), true
	},
	func(in CapacityInput) (int, bool) {
		return intValue(in.Subject.ClassSizeMax), true
	},
}

var fallbackCapacityRules = []capacityRule{
	func(in CapacityInput) (int, bool) {
		if len(in.SizeRanges) == 0 || !in.HasRooms {
			return 0, false
		}
		largest := 0
		for _, r := range in.SizeRanges {
			if r.RangeMax > largest {
				largest = r.RangeMax
			}
		}
		return minInt(maxInt(largest, intValue(in.Subject.ClassSizeOptimal)), in.RoomCapacity), true
	},
	func(in CapacityInput) (int, bool) {
		if intValue(in.Subject.ClassSizeOptimal) <= 0 || !in.HasRooms {
			return 0, false
		}
		return minInt(*in.Subject.ClassSizeOptimal, in.RoomCapacity), true
	},
	func(in CapacityInput) (int, bool) {
		if intValue(in.Subject.ClassSizeOptimal) <= 0 {
			return 0, false
		}
		return *in.Subject.ClassSizeOptimal, true
	},
	func(in CapacityInput) (int, bool) {
		if !in.HasRooms {
			return 0, false
		}
		return in.RoomCapacity, true
	},
}

// BaseCapacity evaluates the capacity rules first-match-wins, falling back
// to size ranges, optimal size and rooms when the result is zero.
func BaseCapacity(in CapacityInput) int {
	capacity := firstMatch(baseCapacityRules, in)
	if capacity == 0 {
		capacity = firstMatch(fallbackCapacityRules, in)
	}
	return capacity
}

// AdjustCapacity applies floor(base*multiplier + offset), never below zero.
func AdjustCapacity(base int, multiplier, offset decimal.Decimal) int {
	adjusted := decimal.NewFromInt(int64(base)).Mul(multiplier).Add(offset).Floor().IntPart()
	if adjusted < 0 {
		return 0
	}
	return int(adjusted)
}

// IsFull reports whether enrolled meets capacity. An unconfigured capacity
// of zero with nobody enrolled is not full.
func IsFull(enrolled, capacity int) bool {
	if enrolled == 0 && capacity == 0 {
		return false
	}
	return enrolled >= capacity
}

func firstMatch(rules []capacityRule, in CapacityInput) int {
	for _, rule := range rules {
		if v, ok := rule(in); ok {
			return v
		}
	}
	return 0
}

type capacityRoomReader interface {
	ListAssigned(ctx context.Context, sectionID string, kind models.ResourceKind) ([]models.Resource, error)
}

type capacityMeetingReader interface {
	ListBySection(ctx context.Context, sectionID string) ([]models.TimeBlock, error)
}

type sizeRangeReader interface {
	ListSizeRanges(ctx context.Context, subjectID string) ([]models.ClassSizeRange, error)
}

type programSettingsReader interface {
	Get(ctx context.Context, programID string) (models.ProgramSettings, error)
}

type registrationCounter interface {
	CountActiveBySections(ctx context.Context, sectionIDs, verbs []string, at time.Time) (map[string]int, error)
}

// CapacityService computes effective section capacity.
type CapacityService struct {
	rooms    capacityRoomReader
	meetings capacityMeetingReader
	ranges   sizeRangeReader
	settings programSettingsReader
	counts   registrationCounter
	cache    *CacheService
	logger   *zap.Logger
}

// NewCapacityService constructs a CapacityService.
func NewCapacityService(rooms capacityRoomReader, meetings capacityMeetingReader, ranges sizeRangeReader, settings programSettingsReader, counts registrationCounter, cache *CacheService, logger *zap.Logger) *CapacityService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CapacityService{rooms: rooms, meetings: meetings, ranges: ranges, settings: settings, counts: counts, cache: cache, logger: logger}
}

// Input gathers the rule inputs for a section. Room capacity sums the rooms
// held at the section's first meeting time.
func (s *CapacityService) Input(ctx context.Context, section models.Section, subject models.Subject) (CapacityInput, error) {
	in := CapacityInput{Section: section, Subject: subject}

	meetings, err := s.meetings.ListBySection(ctx, section.ID)
	if err != nil {
		return in, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load meeting times")
	}
	if len(meetings) > 0 {
		rooms, err := s.rooms.ListAssigned(ctx, section.ID, models.ResourceClassroom)
		if err != nil {
			return in, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load rooms")
		}
		first := models.SortBlocks(meetings)[0].ID
		for _, room := range rooms {
			if room.TimeBlockID == first {
				in.HasRooms = true
				in.RoomCapacity += room.Capacity
			}
		}
	}

	ranges, err := s.ranges.ListSizeRanges(ctx, subject.ID)
	if err != nil {
		return in, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load size ranges")
	}
	in.SizeRanges = ranges
	return in, nil
}

// Capacity returns the section's effective capacity. With ignoreAdjust the
// programwide multiplier and offset are skipped.
func (s *CapacityService) Capacity(ctx context.Context, section models.Section, subject models.Subject, ignoreAdjust bool) (int, error) {
	id := section.ID + ":adjusted"
	if ignoreAdjust {
		id = section.ID + ":base"
	}
	var capacity int
	err := s.cache.Remember(ctx, ComputeCapacity, id, 0, &capacity, func() error {
		in, err := s.Input(ctx, section, subject)
		if err != nil {
			return err
		}
		capacity = BaseCapacity(in)
		if ignoreAdjust {
			return nil
		}
		settings, err := s.settings.Get(ctx, section.ProgramID)
		if err != nil {
			return err
		}
		capacity = AdjustCapacity(capacity, settings.ClassCapMultiplier, settings.ClassCapOffset)
		return nil
	})
	return capacity, err
}

// NumStudents counts distinct students holding verbs with the section at.
// It reads the store directly so callers see one snapshot.
func (s *CapacityService) NumStudents(ctx context.Context, sectionID string, verbs []string, at time.Time) (int, error) {
	counts, err := s.counts.CountActiveBySections(ctx, []string{sectionID}, verbs, at)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count students")
	}
	return counts[sectionID], nil
}

// StudentCount is the cached number of students enrolled in the section.
// It may lag a registration by one revision read, so fullness decisions use
// SectionIsFull instead.
func (s *CapacityService) StudentCount(ctx context.Context, sectionID string, at time.Time) (int, error) {
	var count int
	err := s.cache.Remember(ctx, ComputeStudentCount, sectionID, 0, &count, func() error {
		n, err := s.NumStudents(ctx, sectionID, []string{models.RelationshipEnrolled}, at)
		if err != nil {
			return err
		}
		count = n
		return nil
	})
	return count, err
}

// SectionIsFull reports whether the section's enrolled students reach its
// capacity at at.
func (s *CapacityService) SectionIsFull(ctx context.Context, section models.Section, subject models.Subject, at time.Time) (bool, error) {
	capacity, err := s.Capacity(ctx, section, subject, false)
	if err != nil {
		return false, err
	}
	enrolled, err := s.NumStudents(ctx, section.ID, []string{models.RelationshipEnrolled}, at)
	if err != nil {
		return false, err
	}
	return IsFull(enrolled, capacity), nil
}

func intValue(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
