package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/course-scheduling-api/internal/models"
	appErrors "github.com/noah-isme/course-scheduling-api/pkg/errors"
	applog "github.com/noah-isme/course-scheduling-api/pkg/logger"
	"github.com/noah-isme/course-scheduling-api/pkg/mail"
)

type lifecycleSectionStore interface {
	FindByID(ctx context.Context, id string) (*models.Section, error)
	ListBySubject(ctx context.Context, subjectID string) ([]models.Section, error)
	UpdateStatus(ctx context.Context, exec sqlx.ExtContext, id string, status models.ClassStatus) error
	UpdateStatusWhere(ctx context.Context, exec sqlx.ExtContext, subjectID string, from *models.ClassStatus, to models.ClassStatus) (int64, error)
	Delete(ctx context.Context, exec sqlx.ExtContext, id string) error
}

type lifecycleSubjectStore interface {
	FindByID(ctx context.Context, id string) (*models.Subject, error)
	UpdateStatus(ctx context.Context, exec sqlx.ExtContext, id string, status models.ClassStatus) error
	Delete(ctx context.Context, exec sqlx.ExtContext, id string) error
}

type rosterStore interface {
	ListRoster(ctx context.Context, sectionID string, verbs []string, at time.Time) ([]models.RosterEntry, error)
	EndActiveBySection(ctx context.Context, exec sqlx.ExtContext, sectionID string, at time.Time) (int64, error)
	CountActiveBySections(ctx context.Context, sectionIDs, verbs []string, at time.Time) (map[string]int, error)
}

type requestCleaner interface {
	DeleteRequests(ctx context.Context, exec sqlx.ExtContext, sectionID string) error
}

type permissionExpirer interface {
	ExpireUnder(ctx context.Context, exec sqlx.ExtContext, anchor string, at time.Time) (int64, error)
}

type mediaCleaner interface {
	DeleteByAnchor(ctx context.Context, exec sqlx.ExtContext, anchor string) error
}

type mailNotifier interface {
	Notify(msg mail.Message)
}

// LifecycleDeps groups the collaborators of LifecycleService.
type LifecycleDeps struct {
	DB          txProvider
	Sections    lifecycleSectionStore
	Subjects    lifecycleSubjectStore
	Programs    programReader
	Roster      rosterStore
	Requests    requestCleaner
	Assignments assignmentStore
	Permissions permissionExpirer
	Media       mediaCleaner
	Notifier    mailNotifier
	Cache       *CacheService
	Logger      *zap.Logger
	// AdminAddresses receive cancellation notices when a program has no director.
	AdminAddresses []string
}

// LifecycleService moves subjects and sections through review states and
// removes them.
type LifecycleService struct {
	deps   LifecycleDeps
	logger *zap.Logger
	now    func() time.Time
}

// NewLifecycleService constructs a LifecycleService.
func NewLifecycleService(deps LifecycleDeps) *LifecycleService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LifecycleService{deps: deps, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

func (s *LifecycleService) section(ctx context.Context, id string) (*models.Section, error) {
	section, err := s.deps.Sections.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "section not found")
		}
		return nil, wrapInternal(err, "failed to load section")
	}
	return section, nil
}

func (s *LifecycleService) subject(ctx context.Context, id string) (*models.Subject, error) {
	subject, err := s.deps.Subjects.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "subject not found")
		}
		return nil, wrapInternal(err, "failed to load subject")
	}
	return subject, nil
}

func terminal(status models.ClassStatus) bool {
	return status == models.StatusRejected || status == models.StatusCancelled
}

func (s *LifecycleService) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := s.deps.DB.BeginTxx(ctx, nil)
	if err != nil {
		return wrapInternal(err, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return wrapInternal(err, "failed to commit transaction")
	}
	return nil
}

// AcceptSubject accepts an unreviewed subject and every unreviewed section of
// it. It returns false when the subject was already accepted.
func (s *LifecycleService) AcceptSubject(ctx context.Context, subjectID string) (bool, error) {
	subject, err := s.subject(ctx, subjectID)
	if err != nil {
		return false, err
	}
	if subject.IsAccepted() {
		return false, nil
	}
	if terminal(subject.Status) {
		return false, appErrors.Clone(appErrors.ErrConflict, "class must be proposed again before it can be accepted")
	}
	unreviewed := models.StatusUnreviewed
	err = s.inTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.deps.Subjects.UpdateStatus(ctx, tx, subject.ID, models.StatusAccepted); err != nil {
			return wrapInternal(err, "failed to accept subject")
		}
		if _, err := s.deps.Sections.UpdateStatusWhere(ctx, tx, subject.ID, &unreviewed, models.StatusAccepted); err != nil {
			return wrapInternal(err, "failed to accept sections")
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	s.deps.Cache.Bump(ctx, ClassSubjects)
	return true, nil
}

// ProposeSubject resets a subject to unreviewed. Sections keep their status.
func (s *LifecycleService) ProposeSubject(ctx context.Context, subjectID string) error {
	subject, err := s.subject(ctx, subjectID)
	if err != nil {
		return err
	}
	if err := s.deps.Subjects.UpdateStatus(ctx, nil, subject.ID, models.StatusUnreviewed); err != nil {
		return wrapInternal(err, "failed to propose subject")
	}
	s.deps.Cache.Bump(ctx, ClassSubjects)
	return nil
}

// RejectSubject rejects the subject and all of its sections and ends every
// student registration with them.
func (s *LifecycleService) RejectSubject(ctx context.Context, subjectID string) error {
	subject, err := s.subject(ctx, subjectID)
	if err != nil {
		return err
	}
	if subject.Status == models.StatusCancelled {
		return appErrors.Clone(appErrors.ErrConflict, "cancelled class cannot be rejected")
	}
	sections, err := s.deps.Sections.ListBySubject(ctx, subject.ID)
	if err != nil {
		return wrapInternal(err, "failed to load sections")
	}
	at := s.now()
	err = s.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := s.deps.Sections.UpdateStatusWhere(ctx, tx, subject.ID, nil, models.StatusRejected); err != nil {
			return wrapInternal(err, "failed to reject sections")
		}
		for _, sec := range sections {
			if _, err := s.deps.Roster.EndActiveBySection(ctx, tx, sec.ID, at); err != nil {
				return wrapInternal(err, "failed to clear students")
			}
		}
		if err := s.deps.Subjects.UpdateStatus(ctx, tx, subject.ID, models.StatusRejected); err != nil {
			return wrapInternal(err, "failed to reject subject")
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.deps.Cache.Bump(ctx, ClassSubjects, ClassRegistrations)
	return nil
}

// CancelSubject cancels every section of the subject, then the subject.
func (s *LifecycleService) CancelSubject(ctx context.Context, subjectID, explanation string, emailStudents bool) error {
	subject, err := s.subject(ctx, subjectID)
	if err != nil {
		return err
	}
	sections, err := s.deps.Sections.ListBySubject(ctx, subject.ID)
	if err != nil {
		return wrapInternal(err, "failed to load sections")
	}
	for _, sec := range sections {
		if err := s.cancelSection(ctx, sec, *subject, explanation, emailStudents); err != nil {
			return err
		}
	}
	if err := s.deps.Subjects.UpdateStatus(ctx, nil, subject.ID, models.StatusCancelled); err != nil {
		return wrapInternal(err, "failed to cancel subject")
	}
	s.deps.Cache.Bump(ctx, ClassSubjects)
	return nil
}

// AcceptSection accepts an unreviewed section. It returns false when the
// section was already accepted.
func (s *LifecycleService) AcceptSection(ctx context.Context, sectionID string) (bool, error) {
	section, err := s.section(ctx, sectionID)
	if err != nil {
		return false, err
	}
	if section.IsAccepted() {
		return false, nil
	}
	if terminal(section.Status) {
		return false, appErrors.Clone(appErrors.ErrConflict, "section must be proposed again before it can be accepted")
	}
	if err := s.deps.Sections.UpdateStatus(ctx, nil, section.ID, models.StatusAccepted); err != nil {
		return false, wrapInternal(err, "failed to accept section")
	}
	s.deps.Cache.Bump(ctx, ClassSubjects)
	return true, nil
}

// ProposeSection resets a section to unreviewed.
func (s *LifecycleService) ProposeSection(ctx context.Context, sectionID string) error {
	section, err := s.section(ctx, sectionID)
	if err != nil {
		return err
	}
	if err := s.deps.Sections.UpdateStatus(ctx, nil, section.ID, models.StatusUnreviewed); err != nil {
		return wrapInternal(err, "failed to propose section")
	}
	s.deps.Cache.Bump(ctx, ClassSubjects)
	return nil
}

// RejectSection rejects a section and ends its student registrations.
func (s *LifecycleService) RejectSection(ctx context.Context, sectionID string) error {
	section, err := s.section(ctx, sectionID)
	if err != nil {
		return err
	}
	if section.Status == models.StatusCancelled {
		return appErrors.Clone(appErrors.ErrConflict, "cancelled section cannot be rejected")
	}
	at := s.now()
	err = s.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := s.deps.Roster.EndActiveBySection(ctx, tx, section.ID, at); err != nil {
			return wrapInternal(err, "failed to clear students")
		}
		if err := s.deps.Sections.UpdateStatus(ctx, tx, section.ID, models.StatusRejected); err != nil {
			return wrapInternal(err, "failed to reject section")
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.deps.Cache.Bump(ctx, ClassSubjects, ClassRegistrations)
	return nil
}

// CancelSection notifies the section's students and the program director,
// ends the registrations and marks the section cancelled.
func (s *LifecycleService) CancelSection(ctx context.Context, sectionID, explanation string, emailStudents bool) error {
	section, err := s.section(ctx, sectionID)
	if err != nil {
		return err
	}
	subject, err := s.subject(ctx, section.SubjectID)
	if err != nil {
		return err
	}
	return s.cancelSection(ctx, *section, *subject, explanation, emailStudents)
}

func (s *LifecycleService) cancelSection(ctx context.Context, section models.Section, subject models.Subject, explanation string, emailStudents bool) error {
	at := s.now()
	roster, err := s.deps.Roster.ListRoster(ctx, section.ID, []string{models.RelationshipEnrolled}, at)
	if err != nil {
		return wrapInternal(err, "failed to load roster")
	}
	program, err := s.deps.Programs.FindByID(ctx, section.ProgramID)
	if err != nil {
		return wrapInternal(err, "failed to load program")
	}

	title := fmt.Sprintf("Class Cancellation at %s - Section %s", program.Name, section.EmailCode(subject))
	body := fmt.Sprintf("%s (%s) has been cancelled.", subject.Title, section.EmailCode(subject))
	if explanation != "" {
		body += "\n\n" + explanation
	}
	if emailStudents {
		recipients := make([]string, 0, len(roster))
		for _, entry := range roster {
			if entry.Email != "" {
				recipients = append(recipients, entry.Email)
			}
		}
		s.deps.Notifier.Notify(mail.Message{Subject: title, Body: body, Recipients: recipients})
	}
	admins := s.deps.AdminAddresses
	if program.DirectorEmail != "" {
		admins = []string{program.DirectorEmail}
	}
	s.deps.Notifier.Notify(mail.Message{
		Subject:    title,
		Body:       fmt.Sprintf("%s\n\nStudents enrolled: %d", body, len(roster)),
		Recipients: admins,
	})

	err = s.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := s.deps.Roster.EndActiveBySection(ctx, tx, section.ID, at); err != nil {
			return wrapInternal(err, "failed to clear students")
		}
		if err := s.deps.Sections.UpdateStatus(ctx, tx, section.ID, models.StatusCancelled); err != nil {
			return wrapInternal(err, "failed to cancel section")
		}
		return nil
	})
	if err != nil {
		return err
	}
	applog.FromContext(s.logger, ctx).Info("section cancelled",
		zap.String("section_id", section.ID),
		zap.Int("students", len(roster)))
	s.deps.Cache.Bump(ctx, ClassSubjects, ClassRegistrations)
	return nil
}

func (s *LifecycleService) enrolledCount(ctx context.Context, sectionIDs []string, at time.Time) (int, error) {
	counts, err := s.deps.Roster.CountActiveBySections(ctx, sectionIDs, []string{models.RelationshipEnrolled}, at)
	if err != nil {
		return 0, wrapInternal(err, "failed to count students")
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	return total, nil
}

// DeleteSection removes a section along with its requests and assignments.
// Registrations are closed, not removed. A section with students is kept
// unless adminOverride is set, and false is returned.
func (s *LifecycleService) DeleteSection(ctx context.Context, sectionID string, adminOverride bool) (bool, error) {
	section, err := s.section(ctx, sectionID)
	if err != nil {
		return false, err
	}
	subject, err := s.subject(ctx, section.SubjectID)
	if err != nil {
		return false, err
	}
	if section.Anchor == "" || path.Dir(section.Anchor) != subject.Anchor {
		return false, appErrors.Clone(appErrors.ErrConfiguration, fmt.Sprintf("tried to delete section %s with corrupt anchor %q", section.ID, section.Anchor))
	}
	at := s.now()
	if !adminOverride {
		n, err := s.enrolledCount(ctx, []string{section.ID}, at)
		if err != nil {
			return false, err
		}
		if n > 0 {
			return false, nil
		}
	}
	err = s.inTx(ctx, func(tx *sqlx.Tx) error {
		return s.removeSection(ctx, tx, *section, at)
	})
	if err != nil {
		return false, err
	}
	s.deps.Cache.Bump(ctx, ClassSubjects, ClassMeetings, ClassAssignments, ClassResources, ClassRegistrations, ClassTeachers)
	return true, nil
}

func (s *LifecycleService) removeSection(ctx context.Context, tx sqlx.ExtContext, section models.Section, at time.Time) error {
	if _, err := s.deps.Roster.EndActiveBySection(ctx, tx, section.ID, at); err != nil {
		return wrapInternal(err, "failed to close registrations")
	}
	if err := s.deps.Requests.DeleteRequests(ctx, tx, section.ID); err != nil {
		return wrapInternal(err, "failed to delete resource requests")
	}
	if _, err := s.deps.Assignments.DeleteBySection(ctx, tx, section.ID, ""); err != nil {
		return wrapInternal(err, "failed to release resources")
	}
	if _, err := s.deps.Permissions.ExpireUnder(ctx, tx, section.Anchor, at); err != nil {
		return wrapInternal(err, "failed to expire permissions")
	}
	if err := s.deps.Sections.Delete(ctx, tx, section.ID); err != nil {
		return wrapInternal(err, "failed to delete section")
	}
	return nil
}

// DeleteSubject removes a subject with its sections, media and
// permissions. A subject with students is kept unless adminOverride is set.
func (s *LifecycleService) DeleteSubject(ctx context.Context, subjectID string, adminOverride bool) (bool, error) {
	subject, err := s.subject(ctx, subjectID)
	if err != nil {
		return false, err
	}
	program, err := s.deps.Programs.FindByID(ctx, subject.ProgramID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, appErrors.Clone(appErrors.ErrConfiguration, fmt.Sprintf("subject %s has no program", subject.ID))
		}
		return false, wrapInternal(err, "failed to load program")
	}
	if subject.Anchor == "" || !strings.HasPrefix(subject.Anchor, program.Anchor+"/") {
		return false, appErrors.Clone(appErrors.ErrConfiguration, fmt.Sprintf("tried to delete class %s with corrupt anchor %q", subject.ID, subject.Anchor))
	}

	sections, err := s.deps.Sections.ListBySubject(ctx, subject.ID)
	if err != nil {
		return false, wrapInternal(err, "failed to load sections")
	}
	ids := make([]string, 0, len(sections))
	for _, sec := range sections {
		ids = append(ids, sec.ID)
	}
	at := s.now()
	if !adminOverride {
		n, err := s.enrolledCount(ctx, ids, at)
		if err != nil {
			return false, err
		}
		if n > 0 {
			return false, nil
		}
	}

	err = s.inTx(ctx, func(tx *sqlx.Tx) error {
		for _, sec := range sections {
			if err := s.removeSection(ctx, tx, sec, at); err != nil {
				return err
			}
		}
		if _, err := s.deps.Permissions.ExpireUnder(ctx, tx, subject.Anchor, at); err != nil {
			return wrapInternal(err, "failed to expire permissions")
		}
		if err := s.deps.Media.DeleteByAnchor(ctx, tx, subject.Anchor); err != nil {
			return wrapInternal(err, "failed to delete media")
		}
		if err := s.deps.Subjects.Delete(ctx, tx, subject.ID); err != nil {
			return wrapInternal(err, "failed to delete subject")
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	s.deps.Cache.Bump(ctx, ClassSubjects, ClassMeetings, ClassAssignments, ClassResources, ClassRegistrations, ClassTeachers)
	return true, nil
}
