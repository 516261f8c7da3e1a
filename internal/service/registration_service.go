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

// Eligibility messages returned by CannotAddSection and CannotAddSubject.
const (
	msgConstraintViolated = "You're violating a scheduling constraint. Adding %s to your schedule requires that you: %s."
	msgAlreadySignedUp    = "You are already signed up for a section of this class!"
	msgSectionConflict    = "This section conflicts with your schedule--check out the other sections!"
	msgRegistrationClosed = "Registration for this section is not currently open."
	msgPriorityLimit      = "You are only allowed to select up to %d top classes"
	msgNotStudent         = "You are not a student!"
	msgBlockedType        = "Cannot accept more users of your account type!"
	msgNotAccepted        = "This class is not accepted."
	msgProgramFull        = "This program cannot accept any more students!  Please try again in its next session."
	msgGradeRange         = "You are not in the requested grade range for this class."
	msgSubjectConflict    = "This class conflicts with your schedule!"
)

type registrationStore interface {
	Create(ctx context.Context, exec sqlx.ExtContext, reg *models.Registration) error
	ExistsActive(ctx context.Context, exec sqlx.ExtContext, studentID, sectionID, relationship string, at time.Time) (bool, error)
	EndActive(ctx context.Context, exec sqlx.ExtContext, studentID, sectionID, relationship string, at time.Time) (int64, error)
	LockStudent(ctx context.Context, exec sqlx.ExtContext, studentID string) error
	ListActiveByStudent(ctx context.Context, studentID, programID string, verbs []string, at time.Time) ([]models.SectionRegistration, error)
	CountProgramStudents(ctx context.Context, programID string, verbs []string, at time.Time) (int, error)
	CountHistory(ctx context.Context, studentID, sectionID string) (int, error)
}

type studentReader interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
}

type programReader interface {
	FindByID(ctx context.Context, id string) (*models.Program, error)
}

type subjectSectionReader interface {
	FindByID(ctx context.Context, id string) (*models.Section, error)
	ListBySubject(ctx context.Context, subjectID string) ([]models.Section, error)
}

type meetingIndex interface {
	ListBySection(ctx context.Context, sectionID string) ([]models.TimeBlock, error)
	ListBySections(ctx context.Context, sectionIDs []string) (map[string][]models.TimeBlock, error)
}

type constraintReader interface {
	ListByProgram(ctx context.Context, programID string) ([]models.ScheduleConstraint, error)
}

type permissionChecker interface {
	HasPermission(ctx context.Context, userID, verb string, anchors []string, at time.Time) (bool, error)
}

type applicationStore interface {
	MarkIncomplete(ctx context.Context, studentID, programID string) error
	DeleteBlankResponses(ctx context.Context, studentID, subjectID string) (int64, error)
}

type sectionCapacity interface {
	Capacity(ctx context.Context, section models.Section, subject models.Subject, ignoreAdjust bool) (int, error)
	SectionIsFull(ctx context.Context, section models.Section, subject models.Subject, at time.Time) (bool, error)
	StudentCount(ctx context.Context, sectionID string, at time.Time) (int, error)
}

type listSubscriber interface {
	Subscribe(address string, lists ...string)
	Unsubscribe(address string, lists ...string)
}

// PreregisterOptions adjusts a preregistration.
type PreregisterOptions struct {
	// OverrideFull registers even when the section is full.
	OverrideFull bool
	// FastForce creates the row unconditionally and skips side effects.
	FastForce bool
	// Priority is the tier used when the program registers by priority.
	Priority int
	// Relationship overrides the verb otherwise derived from the program.
	Relationship string
}

// RegistrationService decides and records student registrations. Every
// operation reads registrations at a single timestamp.
type RegistrationService struct {
	db           txProvider
	registration registrationStore
	students     studentReader
	programs     programReader
	sections     subjectSectionReader
	subjects     subjectReader
	meetings     meetingIndex
	constraints  constraintReader
	permissions  permissionChecker
	applications applicationStore
	capacity     sectionCapacity
	settings     programSettingsReader
	lists        listSubscriber
	cache        *CacheService
	metrics      *MetricsService
	logger       *zap.Logger
	now          func() time.Time
}

// RegistrationDeps groups the collaborators of RegistrationService.
type RegistrationDeps struct {
	DB            txProvider
	Registrations registrationStore
	Students      studentReader
	Programs      programReader
	Sections      subjectSectionReader
	Subjects      subjectReader
	Meetings      meetingIndex
	Constraints   constraintReader
	Permissions   permissionChecker
	Applications  applicationStore
	Capacity      sectionCapacity
	Settings      programSettingsReader
	Lists         listSubscriber
	Cache         *CacheService
	Metrics       *MetricsService
	Logger        *zap.Logger
}

// NewRegistrationService constructs a RegistrationService.
func NewRegistrationService(deps RegistrationDeps) *RegistrationService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RegistrationService{
		db:           deps.DB,
		registration: deps.Registrations,
		students:     deps.Students,
		programs:     deps.Programs,
		sections:     deps.Sections,
		subjects:     deps.Subjects,
		meetings:     deps.Meetings,
		constraints:  deps.Constraints,
		permissions:  deps.Permissions,
		applications: deps.Applications,
		capacity:     deps.Capacity,
		settings:     deps.Settings,
		lists:        deps.Lists,
		cache:        deps.Cache,
		metrics:      deps.Metrics,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func wrapInternal(err error, msg string) error {
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, msg)
}

func (s *RegistrationService) loadStudent(ctx context.Context, id string) (*models.Student, error) {
	student, err := s.students.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, wrapInternal(err, "failed to load student")
	}
	return student, nil
}

func (s *RegistrationService) loadSection(ctx context.Context, id string) (*models.Section, *models.Subject, error) {
	return loadSectionWithSubject(ctx, s.sections, s.subjects, id)
}

func (s *RegistrationService) loadSubject(ctx context.Context, id string) (*models.Subject, error) {
	subject, err := s.subjects.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "subject not found")
		}
		return nil, wrapInternal(err, "failed to load subject")
	}
	return subject, nil
}

// schedule returns the student's active registrations under verbs with
// their meeting blocks filled in.
func (s *RegistrationService) schedule(ctx context.Context, studentID, programID string, verbs []string, at time.Time) ([]models.SectionRegistration, error) {
	regs, err := s.registration.ListActiveByStudent(ctx, studentID, programID, verbs, at)
	if err != nil {
		return nil, wrapInternal(err, "failed to load student schedule")
	}
	if len(regs) == 0 {
		return regs, nil
	}
	ids := make([]string, 0, len(regs))
	for _, reg := range regs {
		ids = append(ids, reg.SectionID)
	}
	blocks, err := s.meetings.ListBySections(ctx, ids)
	if err != nil {
		return nil, wrapInternal(err, "failed to load meeting times")
	}
	for i := range regs {
		regs[i].TimeBlockIDs = models.BlockIDs(blocks[regs[i].SectionID])
	}
	return regs, nil
}

// CannotAddSection returns why the student may not add the section, or ""
// when they may.
func (s *RegistrationService) CannotAddSection(ctx context.Context, studentID, sectionID string) (string, error) {
	section, subject, err := s.loadSection(ctx, sectionID)
	if err != nil {
		return "", err
	}
	if _, err := s.loadStudent(ctx, studentID); err != nil {
		return "", err
	}
	return s.cannotAddSection(ctx, studentID, *section, *subject, s.now())
}

func (s *RegistrationService) cannotAddSection(ctx context.Context, studentID string, section models.Section, subject models.Subject, at time.Time) (string, error) {
	settings, err := s.settings.Get(ctx, section.ProgramID)
	if err != nil {
		return "", err
	}
	meetings, err := s.meetings.ListBySection(ctx, section.ID)
	if err != nil {
		return "", wrapInternal(err, "failed to load meeting times")
	}
	target := models.BlockIDs(meetings)

	constraints, err := s.constraints.ListByProgram(ctx, section.ProgramID)
	if err != nil {
		return "", wrapInternal(err, "failed to load schedule constraints")
	}
	if len(constraints) > 0 {
		enrolled, err := s.schedule(ctx, studentID, section.ProgramID, []string{models.RelationshipEnrolled}, at)
		if err != nil {
			return "", err
		}
		sm := models.NewScheduleMap(studentID, section.ProgramID)
		for _, reg := range enrolled {
			sm.AddSection(reg.SectionID, reg.SubjectID, reg.TimeBlockIDs)
		}
		sm.AddSection(section.ID, subject.ID, target)
		for _, c := range constraints {
			ok, err := c.Evaluate(sm)
			if err != nil {
				return "", appErrors.Wrap(err, appErrors.ErrConfiguration.Code, appErrors.ErrConfiguration.Status, "invalid schedule constraint")
			}
			if !ok {
				return fmt.Sprintf(msgConstraintViolated, subject.Title, c.Label), nil
			}
		}
	}

	current, err := s.schedule(ctx, studentID, section.ProgramID, settings.SignupVerbs(), at)
	if err != nil {
		return "", err
	}
	for _, reg := range current {
		if reg.SubjectID == subject.ID {
			return msgAlreadySignedUp, nil
		}
		for _, id := range reg.TimeBlockIDs {
			if models.ContainsBlock(meetings, id) {
				return msgSectionConflict, nil
			}
		}
	}

	if !section.IsRegOpen() {
		return msgRegistrationClosed, nil
	}

	if settings.UsePriority {
		priority, err := s.priorityAt(ctx, studentID, section.ProgramID, meetings, at)
		if err != nil {
			return "", err
		}
		if priority > settings.PriorityLimit {
			return fmt.Sprintf(msgPriorityLimit, settings.PriorityLimit), nil
		}
	}
	return "", nil
}

// priorityAt is the tier the student's next selection at blocks would take:
// one more than the priority selections already overlapping them.
func (s *RegistrationService) priorityAt(ctx context.Context, studentID, programID string, blocks []models.TimeBlock, at time.Time) (int, error) {
	regs, err := s.registration.ListActiveByStudent(ctx, studentID, programID, priorityVerbs(), at)
	if err != nil {
		return 0, wrapInternal(err, "failed to load priority selections")
	}
	if len(regs) == 0 {
		return 1, nil
	}
	ids := make([]string, 0, len(regs))
	for _, reg := range regs {
		ids = append(ids, reg.SectionID)
	}
	meetings, err := s.meetings.ListBySections(ctx, ids)
	if err != nil {
		return 0, wrapInternal(err, "failed to load meeting times")
	}
	priority := 1
	for _, reg := range regs {
		for _, b := range meetings[reg.SectionID] {
			if models.ContainsBlock(blocks, b.ID) {
				priority++
				break
			}
		}
	}
	return priority, nil
}

// priorityVerbs lists the tiers a program may use.
func priorityVerbs() []string {
	verbs := make([]string, 0, 10)
	for tier := 1; tier <= 10; tier++ {
		verbs = append(verbs, models.PriorityRelationship(tier))
	}
	return verbs
}

// CannotAddSubject returns why the student may not add any section of the
// subject, or "" when at least one section would accept them.
func (s *RegistrationService) CannotAddSubject(ctx context.Context, studentID, subjectID string) (string, error) {
	subject, err := s.loadSubject(ctx, subjectID)
	if err != nil {
		return "", err
	}
	student, err := s.loadStudent(ctx, studentID)
	if err != nil {
		return "", err
	}
	at := s.now()

	settings, err := s.settings.Get(ctx, subject.ProgramID)
	if err != nil {
		return "", err
	}
	openTypes := len(settings.AllowedStudentTypes) > 0

	if !student.IsStudent && !openTypes {
		return msgNotStudent, nil
	}
	if len(subject.BlockedStudentType) > 0 && !student.HasAnyType(subject.BlockedStudentType) {
		return msgBlockedType, nil
	}
	if !subject.IsAccepted() {
		return msgNotAccepted, nil
	}

	program, err := s.programs.FindByID(ctx, subject.ProgramID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", appErrors.Clone(appErrors.ErrConfiguration, fmt.Sprintf("subject %s has no program", subjectID))
		}
		return "", wrapInternal(err, "failed to load program")
	}
	full, err := s.programFull(ctx, *student, *program, settings, at)
	if err != nil {
		return "", err
	}
	if full {
		return msgProgramFull, nil
	}

	sections, err := s.sections.ListBySubject(ctx, subject.ID)
	if err != nil {
		return "", wrapInternal(err, "failed to load sections")
	}
	allFull, err := s.subjectFull(ctx, *subject, sections, at)
	if err != nil {
		return "", err
	}
	if allFull {
		return settings.TemporarilyFullText, nil
	}

	if !openTypes && (student.Grade < subject.GradeMin || student.Grade > subject.GradeMax) {
		override, err := s.permissions.HasPermission(ctx, student.ID, models.VerbGradeOverride, []string{subject.Anchor}, at)
		if err != nil {
			return "", wrapInternal(err, "failed to check grade override")
		}
		if !override {
			return msgGradeRange, nil
		}
	}

	signups, err := s.registration.ListActiveByStudent(ctx, student.ID, subject.ProgramID, []string{settings.SignupVerb}, at)
	if err != nil {
		return "", wrapInternal(err, "failed to load student schedule")
	}
	if len(signups) == 0 {
		return "", nil
	}

	enrolled, err := s.registration.ListActiveByStudent(ctx, student.ID, subject.ProgramID, []string{models.RelationshipEnrolled}, at)
	if err != nil {
		return "", wrapInternal(err, "failed to load student schedule")
	}
	for _, reg := range enrolled {
		if reg.SubjectID == subject.ID {
			return msgAlreadySignedUp, nil
		}
	}

	for _, section := range sections {
		reason, err := s.cannotAddSection(ctx, student.ID, section, *subject, at)
		if err != nil {
			return "", err
		}
		if reason == "" {
			return "", nil
		}
	}
	return msgSubjectConflict, nil
}

func (s *RegistrationService) programFull(ctx context.Context, student models.Student, program models.Program, settings models.ProgramSettings, at time.Time) (bool, error) {
	if settings.ProgramSizeMax <= 0 {
		return false, nil
	}
	count, err := s.registration.CountProgramStudents(ctx, program.ID, []string{models.RelationshipEnrolled}, at)
	if err != nil {
		return false, wrapInternal(err, "failed to count program students")
	}
	if count < settings.ProgramSizeMax {
		return false, nil
	}
	existing, err := s.registration.ListActiveByStudent(ctx, student.ID, program.ID, []string{models.RelationshipEnrolled}, at)
	if err != nil {
		return false, wrapInternal(err, "failed to load student schedule")
	}
	if len(existing) > 0 {
		return false, nil
	}
	allowed, err := s.permissions.HasPermission(ctx, student.ID, models.VerbFullProgram, []string{program.Anchor}, at)
	if err != nil {
		return false, wrapInternal(err, "failed to check full program permission")
	}
	return !allowed, nil
}

// subjectFull reports whether every scheduled section is full. A subject
// with no scheduled sections counts as full.
func (s *RegistrationService) subjectFull(ctx context.Context, subject models.Subject, sections []models.Section, at time.Time) (bool, error) {
	ids := make([]string, 0, len(sections))
	for _, sec := range sections {
		ids = append(ids, sec.ID)
	}
	meetings, err := s.meetings.ListBySections(ctx, ids)
	if err != nil {
		return false, wrapInternal(err, "failed to load meeting times")
	}
	for _, sec := range sections {
		if len(meetings[sec.ID]) == 0 {
			continue
		}
		full, err := s.sectionFull(ctx, sec, subject, at)
		if err != nil {
			return false, err
		}
		if !full {
			return false, nil
		}
	}
	return true, nil
}

func (s *RegistrationService) sectionFull(ctx context.Context, section models.Section, subject models.Subject, at time.Time) (bool, error) {
	return s.capacity.SectionIsFull(ctx, section, subject, at)
}

// HoldsSection reports whether the student already holds a signup
// relationship with the section.
func (s *RegistrationService) HoldsSection(ctx context.Context, studentID, sectionID string) (bool, error) {
	section, _, err := s.loadSection(ctx, sectionID)
	if err != nil {
		return false, err
	}
	if _, err := s.loadStudent(ctx, studentID); err != nil {
		return false, err
	}
	settings, err := s.settings.Get(ctx, section.ProgramID)
	if err != nil {
		return false, err
	}
	current, err := s.registration.ListActiveByStudent(ctx, studentID, section.ProgramID, settings.SignupVerbs(), s.now())
	if err != nil {
		return false, wrapInternal(err, "failed to load student schedule")
	}
	for _, reg := range current {
		if reg.SectionID == section.ID {
			return true, nil
		}
	}
	return false, nil
}

// PreregisterSection registers the student with the section. It returns
// false without writing anything when the section is full. Registering an
// already active relationship is a no-op that still reports true.
func (s *RegistrationService) PreregisterSection(ctx context.Context, studentID, sectionID string, opts PreregisterOptions) (bool, error) {
	section, subject, err := s.loadSection(ctx, sectionID)
	if err != nil {
		return false, err
	}
	student, err := s.loadStudent(ctx, studentID)
	if err != nil {
		return false, err
	}
	return s.preregister(ctx, *student, *section, *subject, opts, s.now())
}

func (s *RegistrationService) preregister(ctx context.Context, student models.Student, section models.Section, subject models.Subject, opts PreregisterOptions, at time.Time) (bool, error) {
	settings, err := s.settings.Get(ctx, section.ProgramID)
	if err != nil {
		return false, err
	}
	verb := opts.Relationship
	if verb == "" {
		verb = models.RelationshipEnrolled
		if settings.UsePriority {
			tier := opts.Priority
			if tier <= 0 {
				tier = 1
			}
			verb = models.PriorityRelationship(tier)
		}
	}

	if !opts.OverrideFull && !opts.FastForce {
		held, err := s.registration.ExistsActive(ctx, nil, student.ID, section.ID, verb, at)
		if err != nil {
			return false, wrapInternal(err, "failed to check registration")
		}
		if !held {
			full, err := s.sectionFull(ctx, section, subject, at)
			if err != nil {
				return false, err
			}
			if full {
				s.metrics.ObserveRegistration(RegistrationOutcomeFull)
				return false, nil
			}
		}
	}

	created, err := s.createRegistration(ctx, student.ID, section.ID, verb, opts.FastForce, at)
	if err != nil {
		return false, err
	}
	if created {
		s.metrics.ObserveRegistration(RegistrationOutcomeAdded)
		s.cache.Bump(ctx, ClassRegistrations)
	} else {
		s.metrics.ObserveRegistration(RegistrationOutcomeExisting)
	}
	if opts.FastForce {
		return true, nil
	}

	if err := s.applications.MarkIncomplete(ctx, student.ID, section.ProgramID); err != nil {
		applog.FromContext(s.logger, ctx).Warn("failed to reopen application",
			zap.String("student_id", student.ID),
			zap.String("program_id", section.ProgramID),
			zap.Error(err))
	}

	program, err := s.programs.FindByID(ctx, section.ProgramID)
	if err != nil {
		applog.FromContext(s.logger, ctx).Warn("failed to load program for mailing lists", zap.String("program_id", section.ProgramID), zap.Error(err))
		s.lists.Subscribe(student.Email, studentLists(section, subject)...)
		return true, nil
	}
	s.lists.Subscribe(student.Email, append(studentLists(section, subject), program.MailingListName())...)
	return true, nil
}

func (s *RegistrationService) createRegistration(ctx context.Context, studentID, sectionID, verb string, force bool, at time.Time) (created bool, err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, wrapInternal(err, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = s.registration.LockStudent(ctx, tx, studentID); err != nil {
		return false, wrapInternal(err, "failed to lock registrations")
	}
	if !force {
		var exists bool
		exists, err = s.registration.ExistsActive(ctx, tx, studentID, sectionID, verb, at)
		if err != nil {
			return false, wrapInternal(err, "failed to check registration")
		}
		if exists {
			err = tx.Commit()
			if err != nil {
				return false, wrapInternal(err, "failed to commit registration")
			}
			return false, nil
		}
	}
	reg := &models.Registration{StudentID: studentID, SectionID: sectionID, Relationship: verb, StartDate: at}
	if err = s.registration.Create(ctx, tx, reg); err != nil {
		return false, wrapInternal(err, "failed to create registration")
	}
	if err = tx.Commit(); err != nil {
		return false, wrapInternal(err, "failed to commit registration")
	}
	return true, nil
}

func studentLists(section models.Section, subject models.Subject) []string {
	return []string{section.EmailCode(subject) + "-students", subject.EmailCode() + "-students"}
}

// UnpreregisterSection ends the student's active registrations with the
// section, optionally only those under relationship. Rows are never deleted.
func (s *RegistrationService) UnpreregisterSection(ctx context.Context, studentID, sectionID, relationship string) (int64, error) {
	section, subject, err := s.loadSection(ctx, sectionID)
	if err != nil {
		return 0, err
	}
	student, err := s.loadStudent(ctx, studentID)
	if err != nil {
		return 0, err
	}
	return s.unpreregister(ctx, *student, *section, *subject, relationship, s.now())
}

func (s *RegistrationService) unpreregister(ctx context.Context, student models.Student, section models.Section, subject models.Subject, relationship string, at time.Time) (int64, error) {
	ended, err := s.registration.EndActive(ctx, nil, student.ID, section.ID, relationship, at)
	if err != nil {
		return 0, wrapInternal(err, "failed to end registrations")
	}
	if ended > 0 {
		s.metrics.ObserveRegistration(RegistrationOutcomeDropped)
		s.cache.Bump(ctx, ClassRegistrations)
	}

	if removed, err := s.applications.DeleteBlankResponses(ctx, student.ID, subject.ID); err != nil {
		applog.FromContext(s.logger, ctx).Warn("failed to clear blank application responses",
			zap.String("student_id", student.ID),
			zap.String("subject_id", subject.ID),
			zap.Error(err))
	} else if removed > 0 {
		applog.FromContext(s.logger, ctx).Debug("cleared blank application responses", zap.String("student_id", student.ID), zap.Int64("count", removed))
	}

	s.lists.Unsubscribe(student.Email, studentLists(section, subject)...)
	return ended, nil
}

// RegistrationHistory counts every registration the student ever held with
// the section, including ended ones.
func (s *RegistrationService) RegistrationHistory(ctx context.Context, studentID, sectionID string) (int, error) {
	if _, _, err := s.loadSection(ctx, sectionID); err != nil {
		return 0, err
	}
	if _, err := s.loadStudent(ctx, studentID); err != nil {
		return 0, err
	}
	n, err := s.registration.CountHistory(ctx, studentID, sectionID)
	if err != nil {
		return 0, wrapInternal(err, "failed to count registration history")
	}
	return n, nil
}

// PreregisterSubject registers the student with the least full section of
// the subject that fits their schedule. It returns the chosen section, or
// nil when none fits or the chosen one turned out full.
func (s *RegistrationService) PreregisterSubject(ctx context.Context, studentID, subjectID string, overrideFull bool) (*models.Section, error) {
	subject, err := s.loadSubject(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	student, err := s.loadStudent(ctx, studentID)
	if err != nil {
		return nil, err
	}
	at := s.now()

	sections, err := s.sections.ListBySubject(ctx, subject.ID)
	if err != nil {
		return nil, wrapInternal(err, "failed to load sections")
	}
	enrolled, err := s.schedule(ctx, student.ID, subject.ProgramID, []string{models.RelationshipEnrolled}, at)
	if err != nil {
		return nil, err
	}
	taken := make(map[string]struct{})
	for _, reg := range enrolled {
		for _, id := range reg.TimeBlockIDs {
			taken[id] = struct{}{}
		}
	}

	ids := make([]string, 0, len(sections))
	for _, sec := range sections {
		ids = append(ids, sec.ID)
	}
	meetings, err := s.meetings.ListBySections(ctx, ids)
	if err != nil {
		return nil, wrapInternal(err, "failed to load meeting times")
	}

	var best *models.Section
	minRatio := 1.0
	for i := range sections {
		sec := sections[i]
		available := true
		for _, b := range meetings[sec.ID] {
			if _, busy := taken[b.ID]; busy {
				available = false
				break
			}
		}
		if !available {
			continue
		}
		capacity, err := s.capacity.Capacity(ctx, sec, *subject, false)
		if err != nil {
			return nil, err
		}
		num, err := s.capacity.StudentCount(ctx, sec.ID, at)
		if err != nil {
			return nil, err
		}
		if ratio := float64(num) / float64(capacity+1); ratio < minRatio {
			minRatio = ratio
			best = &sections[i]
		}
	}
	if best == nil {
		s.metrics.ObserveRegistration(RegistrationOutcomeRejected)
		return nil, nil
	}

	ok, err := s.preregister(ctx, *student, *best, *subject, PreregisterOptions{OverrideFull: overrideFull}, at)
	if err != nil || !ok {
		return nil, err
	}
	return best, nil
}

// UnpreregisterSubject drops the student from every section of the subject.
func (s *RegistrationService) UnpreregisterSubject(ctx context.Context, studentID, subjectID string) (int64, error) {
	subject, err := s.loadSubject(ctx, subjectID)
	if err != nil {
		return 0, err
	}
	student, err := s.loadStudent(ctx, studentID)
	if err != nil {
		return 0, err
	}
	sections, err := s.sections.ListBySubject(ctx, subject.ID)
	if err != nil {
		return 0, wrapInternal(err, "failed to load sections")
	}
	at := s.now()
	var total int64
	for _, sec := range sections {
		n, err := s.unpreregister(ctx, *student, sec, *subject, "", at)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}
