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
	applog "github.com/noah-isme/course-scheduling-api/pkg/logger"
)

type txProvider interface {
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
}

type sectionReader interface {
	FindByID(ctx context.Context, id string) (*models.Section, error)
}

type subjectReader interface {
	FindByID(ctx context.Context, id string) (*models.Subject, error)
}

type timeBlockStore interface {
	ListByProgram(ctx context.Context, programID string) ([]models.TimeBlock, error)
	ListBySection(ctx context.Context, sectionID string) ([]models.TimeBlock, error)
	ReplaceSectionMeetings(ctx context.Context, exec sqlx.ExtContext, sectionID string, blockIDs []string) error
}

type resourceStore interface {
	ListFreeInstances(ctx context.Context, programID string, kind models.ResourceKind, blockIDs []string, sectionID string) ([]models.Resource, error)
	ListInstances(ctx context.Context, programID, name string, kind models.ResourceKind, blockIDs []string) ([]models.Resource, error)
	ListAssigned(ctx context.Context, sectionID string, kind models.ResourceKind) ([]models.Resource, error)
	ListRequests(ctx context.Context, sectionID string) ([]models.ResourceRequest, error)
	FindOccupant(ctx context.Context, exec sqlx.ExtContext, resourceID string) (*models.Occupancy, error)
}

type assignmentStore interface {
	Claim(ctx context.Context, exec sqlx.ExtContext, assignment *models.ResourceAssignment) (bool, error)
	DeleteBySection(ctx context.Context, exec sqlx.ExtContext, sectionID string, kind models.ResourceKind) (int64, error)
}

type sectionAvailability interface {
	SectionAvailability(ctx context.Context, subject models.Subject, own []models.TimeBlock, ignoreClasses bool, at time.Time) ([]models.TimeBlock, error)
	CannotSchedule(ctx context.Context, subject models.Subject, sectionID string, blocks []models.TimeBlock, at time.Time) (string, error)
}

// SchedulingServiceConfig tunes the scheduling engine.
type SchedulingServiceConfig struct {
	CollapseTolerance time.Duration
	DisplayTolerance  time.Duration
	StatusTTL         time.Duration
}

// AssignRoomRequest describes a room assignment.
type AssignRoomRequest struct {
	RoomName     string
	Compromise   bool
	ClearOthers  bool
	AllowPartial bool
}

// AssignRoomResult reports whether every instance was claimed and why not.
type AssignRoomResult struct {
	Success  bool     `json:"success"`
	Messages []string `json:"messages"`
}

// StartTimeResult is the outcome of moving a section to a new start time.
type StartTimeResult struct {
	Blocks    []models.TimeBlock `json:"blocks"`
	RoomsKept []string           `json:"rooms_kept"`
	Reason    string             `json:"reason,omitempty"`
	Messages  []string           `json:"messages,omitempty"`
}

// SchedulingService finds viable times and rooms for sections and assigns them.
type SchedulingService struct {
	db           txProvider
	sections     sectionReader
	subjects     subjectReader
	blocks       timeBlockStore
	resources    resourceStore
	assignments  assignmentStore
	availability sectionAvailability
	cache        *CacheService
	metrics      *MetricsService
	logger       *zap.Logger
	cfg          SchedulingServiceConfig
	now          func() time.Time
}

// NewSchedulingService wires the scheduling engine.
func NewSchedulingService(
	db txProvider,
	sections sectionReader,
	subjects subjectReader,
	blocks timeBlockStore,
	resources resourceStore,
	assignments assignmentStore,
	availability sectionAvailability,
	cache *CacheService,
	metrics *MetricsService,
	logger *zap.Logger,
	cfg SchedulingServiceConfig,
) *SchedulingService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.CollapseTolerance <= 0 {
		cfg.CollapseTolerance = 10 * time.Minute
	}
	if cfg.DisplayTolerance <= 0 {
		cfg.DisplayTolerance = 15 * time.Minute
	}
	if cfg.StatusTTL <= 0 {
		cfg.StatusTTL = time.Minute
	}
	return &SchedulingService{
		db:           db,
		sections:     sections,
		subjects:     subjects,
		blocks:       blocks,
		resources:    resources,
		assignments:  assignments,
		availability: availability,
		cache:        cache,
		metrics:      metrics,
		logger:       logger,
		cfg:          cfg,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (s *SchedulingService) load(ctx context.Context, sectionID string) (*models.Section, *models.Subject, error) {
	return loadSectionWithSubject(ctx, s.sections, s.subjects, sectionID)
}

func loadSectionWithSubject(ctx context.Context, sections sectionReader, subjects subjectReader, sectionID string) (*models.Section, *models.Subject, error) {
	section, err := sections.FindByID(ctx, sectionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "section not found")
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load section")
	}
	subject, err := subjects.FindByID(ctx, section.SubjectID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, appErrors.Clone(appErrors.ErrConfiguration, fmt.Sprintf("section %s has no subject", sectionID))
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load subject")
	}
	return section, subject, nil
}

func (s *SchedulingService) meetings(ctx context.Context, sectionID string) ([]models.TimeBlock, error) {
	blocks, err := s.blocks.ListBySection(ctx, sectionID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load meeting times")
	}
	return models.SortBlocks(blocks), nil
}

// SectionTimes returns the section's meeting times merged for display.
func (s *SchedulingService) SectionTimes(ctx context.Context, sectionID string) ([]models.TimeBlock, error) {
	if _, _, err := s.load(ctx, sectionID); err != nil {
		return nil, err
	}
	blocks, err := s.meetings(ctx, sectionID)
	if err != nil {
		return nil, err
	}
	return models.Collapse(blocks, s.cfg.DisplayTolerance), nil
}

// ExtendTimeBlock returns the program blocks from startID onward until they
// cover the section's duration. Running out of blocks is a configuration
// error. With merged the result is collapsed into continuous spans.
func (s *SchedulingService) ExtendTimeBlock(ctx context.Context, section models.Section, startID string, merged bool) ([]models.TimeBlock, error) {
	universe, err := s.blocks.ListByProgram(ctx, section.ProgramID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load program time blocks")
	}
	universe = models.SortBlocks(universe)

	start := -1
	for i, b := range universe {
		if b.ID == startID {
			start = i
			break
		}
	}
	if start < 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("time block %s is not part of the program", startID))
	}

	end := start + 1
	for !section.SufficientLength(universe[start:end]) {
		if end >= len(universe) {
			return nil, appErrors.Clone(appErrors.ErrConfiguration,
				fmt.Sprintf("program has too few time blocks after %s to cover %s hours", startID, section.DurationHours().String()))
		}
		end++
	}

	list := append([]models.TimeBlock(nil), universe[start:end]...)
	if merged {
		return models.Collapse(list, s.cfg.CollapseTolerance), nil
	}
	return list, nil
}

// ViableTimes returns every block at which the section could start: the
// teachers are all free from there on for long enough. The section's own
// meeting times always count as free.
func (s *SchedulingService) ViableTimes(ctx context.Context, sectionID string, ignoreClasses bool) ([]models.TimeBlock, error) {
	section, subject, err := s.load(ctx, sectionID)
	if err != nil {
		return nil, err
	}

	key := sectionID
	if ignoreClasses {
		key += ":ignore-classes"
	}
	viable := []models.TimeBlock{}
	err = s.cache.Remember(ctx, ComputeViableTimes, key, 0, &viable, func() error {
		own, err := s.meetings(ctx, sectionID)
		if err != nil {
			return err
		}
		available, err := s.availability.SectionAvailability(ctx, *subject, own, ignoreClasses, s.now())
		if err != nil {
			return err
		}
		viable = []models.TimeBlock{}
		for _, group := range models.GroupContiguous(available) {
			for i := range group {
				if section.SufficientLength(group[i:]) {
					viable = append(viable, group[i])
				}
			}
		}
		return nil
	})
	return viable, err
}

// ViableRooms returns one instance, at the first meeting time, of every room
// free at all of the section's meeting times. Rooms the section already
// holds count as free. Sections without enough time get no rooms.
func (s *SchedulingService) ViableRooms(ctx context.Context, sectionID string) ([]models.Resource, error) {
	section, _, err := s.load(ctx, sectionID)
	if err != nil {
		return nil, err
	}

	rooms := []models.Resource{}
	err = s.cache.Remember(ctx, ComputeViableRooms, sectionID, 0, &rooms, func() error {
		rooms = []models.Resource{}
		meetings, err := s.meetings(ctx, sectionID)
		if err != nil {
			return err
		}
		if len(meetings) == 0 || !section.SufficientLength(meetings) {
			return nil
		}
		free, err := s.resources.ListFreeInstances(ctx, section.ProgramID, models.ResourceClassroom, models.BlockIDs(meetings), sectionID)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load rooms")
		}
		rooms = roomsCoveringAll(free, meetings)
		return nil
	})
	return rooms, err
}

func roomsCoveringAll(instances []models.Resource, meetings []models.TimeBlock) []models.Resource {
	first := meetings[0].ID
	covered := make(map[string]map[string]struct{})
	atFirst := make(map[string]models.Resource)
	var names []string
	for _, inst := range instances {
		if _, seen := covered[inst.Name]; !seen {
			covered[inst.Name] = make(map[string]struct{})
			names = append(names, inst.Name)
		}
		covered[inst.Name][inst.TimeBlockID] = struct{}{}
		if inst.TimeBlockID == first {
			atFirst[inst.Name] = inst
		}
	}

	rooms := make([]models.Resource, 0, len(names))
	for _, name := range names {
		ok := true
		for _, m := range meetings {
			if _, has := covered[name][m.ID]; !has {
				ok = false
				break
			}
		}
		if ok {
			rooms = append(rooms, atFirst[name])
		}
	}
	return rooms
}

// AssignRoom claims every instance of the named room at the section's
// meeting times. Each claim is a conditional insert, so a room instance can
// never be held by two sections. Unless AllowPartial is set, any conflict
// rolls back every claim made by the call.
func (s *SchedulingService) AssignRoom(ctx context.Context, sectionID string, req AssignRoomRequest) (result *AssignRoomResult, err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveScheduling("assign_room", time.Since(start)) }()

	section, subject, err := s.load(ctx, sectionID)
	if err != nil {
		return nil, err
	}
	meetings, err := s.meetings(ctx, sectionID)
	if err != nil {
		return nil, err
	}
	if len(meetings) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "section has no meeting times")
	}
	code := section.EmailCode(*subject)

	instances, err := s.resources.ListInstances(ctx, section.ProgramID, req.RoomName, models.ResourceClassroom, models.BlockIDs(meetings))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load room")
	}

	result = &AssignRoomResult{Success: true, Messages: []string{}}
	if !req.Compromise {
		ok, err := s.roomSatisfies(ctx, section.ID, *subject, req.RoomName, instances)
		if err != nil {
			return nil, err
		}
		if !ok {
			result.Success = false
			result.Messages = append(result.Messages, fmt.Sprintf("Room %s lacks some resources that %s needs (or is too small), and you opted not to compromise.", req.RoomName, code))
		}
	}
	if len(instances) != len(meetings) {
		result.Success = false
		result.Messages = append(result.Messages, fmt.Sprintf("Room %s does not exist at the times requested by %s.", req.RoomName, code))
	}
	if !result.Success {
		return result, nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if req.ClearOthers {
		if _, err = s.assignments.DeleteBySection(ctx, tx, section.ID, models.ResourceClassroom); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to clear rooms")
		}
	}

	now := s.now()
	for _, inst := range instances {
		claimed, claimErr := s.assignments.Claim(ctx, tx, &models.ResourceAssignment{ResourceID: inst.ID, SectionID: section.ID, CreatedAt: now})
		if claimErr != nil {
			return nil, appErrors.Wrap(claimErr, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to claim room")
		}
		if claimed {
			s.metrics.RecordRoomClaim(true)
			continue
		}

		occ, occErr := s.resources.FindOccupant(ctx, tx, inst.ID)
		if occErr != nil && !errors.Is(occErr, sql.ErrNoRows) {
			return nil, appErrors.Wrap(occErr, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load room occupant")
		}
		if occ != nil && occ.SectionID == section.ID {
			continue
		}

		s.metrics.RecordRoomClaim(false)
		result.Success = false
		if occ != nil {
			during := models.TimeBlock{Start: occ.BlockStart, End: occ.BlockEnd}
			result.Messages = append(result.Messages, fmt.Sprintf("Room %s is occupied by %ss%d during %s.", req.RoomName, occ.SubjectCode, occ.Index, during.Label()))
		} else {
			result.Messages = append(result.Messages, fmt.Sprintf("Room %s is occupied.", req.RoomName))
		}
		if !req.AllowPartial {
			applog.FromContext(s.logger, ctx).Info("room assignment rolled back",
				zap.String("section_id", section.ID),
				zap.String("room", req.RoomName))
			return result, nil
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit room assignment")
	}
	committed = true
	s.cache.Bump(ctx, ClassAssignments)
	return result, nil
}

func (s *SchedulingService) roomSatisfies(ctx context.Context, sectionID string, subject models.Subject, name string, instances []models.Resource) (bool, error) {
	requests, err := s.resources.ListRequests(ctx, sectionID)
	if err != nil {
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load resource requests")
	}
	floating, err := s.resources.ListAssigned(ctx, sectionID, models.ResourceFloating)
	if err != nil {
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load floating resources")
	}
	room := models.Resource{Name: name}
	if len(instances) > 0 {
		room = instances[0]
	}
	ok, _ := models.SatisfiesRequests(room, intValue(subject.ClassSizeMax), requests, floating)
	return ok, nil
}

// AssignStartTime moves the section to the blocks starting at firstBlockID.
// Rooms and floating resources are released; rooms held at the old first
// meeting are claimed again when they are free at every new block. Unless
// force is set, a teacher conflict leaves the section untouched and is
// returned as Reason.
func (s *SchedulingService) AssignStartTime(ctx context.Context, sectionID, firstBlockID string, force bool) (*StartTimeResult, error) {
	start := time.Now()
	defer func() { s.metrics.ObserveScheduling("assign_start_time", time.Since(start)) }()

	section, subject, err := s.load(ctx, sectionID)
	if err != nil {
		return nil, err
	}
	blocks, err := s.ExtendTimeBlock(ctx, *section, firstBlockID, false)
	if err != nil {
		return nil, err
	}
	result := &StartTimeResult{Blocks: blocks, RoomsKept: []string{}}

	if !force {
		reason, err := s.availability.CannotSchedule(ctx, *subject, section.ID, blocks, s.now())
		if err != nil {
			return nil, err
		}
		if reason != "" {
			result.Reason = reason
			return result, nil
		}
	}

	previous, err := s.initialRooms(ctx, sectionID)
	if err != nil {
		return nil, err
	}

	if err := s.replaceMeetings(ctx, sectionID, models.BlockIDs(blocks)); err != nil {
		return nil, err
	}
	if len(previous) == 0 {
		return result, nil
	}

	free, err := s.resources.ListFreeInstances(ctx, section.ProgramID, models.ResourceClassroom, models.BlockIDs(blocks), sectionID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load rooms")
	}
	available := make(map[string]bool)
	for _, room := range roomsCoveringAll(free, blocks) {
		available[room.Name] = true
	}
	for _, name := range previous {
		if !available[name] {
			applog.FromContext(s.logger, ctx).Info("previous room unavailable at new time",
				zap.String("section_id", sectionID),
				zap.String("room", name))
			return result, nil
		}
	}

	for _, name := range previous {
		assigned, err := s.AssignRoom(ctx, sectionID, AssignRoomRequest{RoomName: name, Compromise: true})
		if err != nil {
			return nil, err
		}
		result.Messages = append(result.Messages, assigned.Messages...)
		if assigned.Success {
			result.RoomsKept = append(result.RoomsKept, name)
		}
	}
	return result, nil
}

func (s *SchedulingService) initialRooms(ctx context.Context, sectionID string) ([]string, error) {
	meetings, err := s.meetings(ctx, sectionID)
	if err != nil || len(meetings) == 0 {
		return nil, err
	}
	rooms, err := s.resources.ListAssigned(ctx, sectionID, models.ResourceClassroom)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load rooms")
	}
	var names []string
	for _, room := range rooms {
		if room.TimeBlockID == meetings[0].ID {
			names = append(names, room.Name)
		}
	}
	return names, nil
}

func (s *SchedulingService) replaceMeetings(ctx context.Context, sectionID string, blockIDs []string) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = s.assignments.DeleteBySection(ctx, tx, sectionID, ""); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to release resources")
	}
	if err = s.blocks.ReplaceSectionMeetings(ctx, tx, sectionID, blockIDs); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to assign meeting times")
	}
	if err = tx.Commit(); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit meeting times")
	}
	s.cache.Bump(ctx, ClassMeetings, ClassAssignments)
	return nil
}

// SchedulingStatus reports the first unmet scheduling stage of a section.
func (s *SchedulingService) SchedulingStatus(ctx context.Context, sectionID string) (models.SchedulingStatus, error) {
	section, _, err := s.load(ctx, sectionID)
	if err != nil {
		return "", err
	}

	var status models.SchedulingStatus
	err = s.cache.Remember(ctx, ComputeSchedulingStatus, sectionID, s.cfg.StatusTTL, &status, func() error {
		meetings, err := s.meetings(ctx, sectionID)
		if err != nil {
			return err
		}
		if !section.SufficientLength(meetings) {
			status = models.SchedulingNeedsTime
			return nil
		}
		rooms, err := s.resources.ListAssigned(ctx, sectionID, models.ResourceClassroom)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load rooms")
		}
		if len(rooms) == 0 {
			status = models.SchedulingNeedsRoom
			return nil
		}
		requests, err := s.resources.ListRequests(ctx, sectionID)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load resource requests")
		}
		floating, err := s.resources.ListAssigned(ctx, sectionID, models.ResourceFloating)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load floating resources")
		}
		if _, unmet := models.SatisfiesRequests(rooms[0], 0, requests, floating); len(unmet) > 0 {
			status = models.SchedulingNeedsResources
			return nil
		}
		status = models.SchedulingHappy
		return nil
	})
	return status, err
}

// ClearRooms releases every room the section holds.
func (s *SchedulingService) ClearRooms(ctx context.Context, sectionID string) (int64, error) {
	return s.release(ctx, sectionID, models.ResourceClassroom)
}

// ClearFloatingResources releases every floating resource the section holds.
func (s *SchedulingService) ClearFloatingResources(ctx context.Context, sectionID string) (int64, error) {
	return s.release(ctx, sectionID, models.ResourceFloating)
}

func (s *SchedulingService) release(ctx context.Context, sectionID string, kind models.ResourceKind) (int64, error) {
	if _, _, err := s.load(ctx, sectionID); err != nil {
		return 0, err
	}
	n, err := s.assignments.DeleteBySection(ctx, nil, sectionID, kind)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to release resources")
	}
	if n > 0 {
		s.cache.Bump(ctx, ClassAssignments)
	}
	return n, nil
}
