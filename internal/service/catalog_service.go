package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/course-scheduling-api/internal/models"
	"github.com/noah-isme/course-scheduling-api/pkg/export"
)

type catalogSubjectStore interface {
	ListCatalog(ctx context.Context, filter models.CatalogFilter) ([]models.Subject, error)
}

type catalogSectionStore interface {
	ListBySubjects(ctx context.Context, subjectIDs []string) ([]models.Section, error)
}

type teacherIndex interface {
	ListTeachersBySubjects(ctx context.Context, subjectIDs []string, at time.Time) ([]models.SubjectTeacher, error)
}

type catalogCounter interface {
	CountActiveBySections(ctx context.Context, sectionIDs, verbs []string, at time.Time) (map[string]int, error)
	CountActiveBySubjects(ctx context.Context, subjectIDs, verbs []string, at time.Time) ([]models.SubjectCount, error)
	ListRoster(ctx context.Context, sectionID string, verbs []string, at time.Time) ([]models.RosterEntry, error)
}

type mediaCounter interface {
	CountBySubjects(ctx context.Context, subjectIDs []string) ([]models.SubjectCount, error)
}

type csvRenderer interface {
	Render(rows interface{}) ([]byte, error)
}

type pdfRenderer interface {
	Render(doc export.Document) ([]byte, error)
}

// CatalogDeps groups the collaborators of CatalogService.
type CatalogDeps struct {
	Subjects    catalogSubjectStore
	Sections    catalogSectionStore
	Section     sectionReader
	Subject     subjectReader
	Meetings    meetingIndex
	Teachers    teacherIndex
	Counts      catalogCounter
	Media       mediaCounter
	Capacity    sectionCapacity
	Settings    programSettingsReader
	Cache       *CacheService
	CSV         csvRenderer
	PDF         pdfRenderer
	Logger      *zap.Logger
	DisplayTime time.Duration
}

// CatalogService builds the annotated class catalog and its exports.
type CatalogService struct {
	deps   CatalogDeps
	logger *zap.Logger
	now    func() time.Time
}

// NewCatalogService constructs a CatalogService.
func NewCatalogService(deps CatalogDeps) *CatalogService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.CSV == nil {
		deps.CSV = export.NewCSVExporter()
	}
	if deps.PDF == nil {
		deps.PDF = export.NewPDFExporter()
	}
	if deps.DisplayTime <= 0 {
		deps.DisplayTime = 15 * time.Minute
	}
	return &CatalogService{deps: deps, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

func catalogCacheID(filter models.CatalogFilter) string {
	id := filter.ProgramID + ":" + filter.TimeBlockID
	if filter.ForceAll {
		id += ":all"
	}
	return id
}

// Catalog returns the program's subjects annotated with sections, teachers,
// student and media counts, ordered by the program's sort fields.
func (s *CatalogService) Catalog(ctx context.Context, filter models.CatalogFilter) ([]models.CatalogEntry, error) {
	entries := []models.CatalogEntry{}
	err := s.deps.Cache.Remember(ctx, ComputeCatalog, catalogCacheID(filter), 0, &entries, func() error {
		built, err := s.build(ctx, filter)
		if err != nil {
			return err
		}
		entries = built
		return nil
	})
	return entries, err
}

func (s *CatalogService) build(ctx context.Context, filter models.CatalogFilter) ([]models.CatalogEntry, error) {
	at := s.now()
	settings, err := s.deps.Settings.Get(ctx, filter.ProgramID)
	if err != nil {
		return nil, err
	}
	subjects, err := s.deps.Subjects.ListCatalog(ctx, filter)
	if err != nil {
		return nil, wrapInternal(err, "failed to load catalog")
	}
	entries := make([]models.CatalogEntry, 0, len(subjects))
	if len(subjects) == 0 {
		return entries, nil
	}

	subjectIDs := make([]string, 0, len(subjects))
	for _, sub := range subjects {
		subjectIDs = append(subjectIDs, sub.ID)
	}
	sections, err := s.deps.Sections.ListBySubjects(ctx, subjectIDs)
	if err != nil {
		return nil, wrapInternal(err, "failed to load sections")
	}
	sectionIDs := make([]string, 0, len(sections))
	bySubject := make(map[string][]models.Section, len(subjects))
	for _, sec := range sections {
		if !filter.ForceAll && sec.Status < 0 {
			continue
		}
		sectionIDs = append(sectionIDs, sec.ID)
		bySubject[sec.SubjectID] = append(bySubject[sec.SubjectID], sec)
	}

	meetings, err := s.deps.Meetings.ListBySections(ctx, sectionIDs)
	if err != nil {
		return nil, wrapInternal(err, "failed to load meeting times")
	}
	enrolled, err := s.deps.Counts.CountActiveBySections(ctx, sectionIDs, []string{models.RelationshipEnrolled}, at)
	if err != nil {
		return nil, wrapInternal(err, "failed to count students")
	}
	subjectCounts, err := s.deps.Counts.CountActiveBySubjects(ctx, subjectIDs, []string{models.RelationshipEnrolled}, at)
	if err != nil {
		return nil, wrapInternal(err, "failed to count students")
	}
	teachers, err := s.deps.Teachers.ListTeachersBySubjects(ctx, subjectIDs, at)
	if err != nil {
		return nil, wrapInternal(err, "failed to load teachers")
	}
	media, err := s.deps.Media.CountBySubjects(ctx, subjectIDs)
	if err != nil {
		return nil, wrapInternal(err, "failed to count media")
	}

	students := countsBySubject(subjectCounts)
	mediaCounts := countsBySubject(media)
	teacherIDs := make(map[string][]string)
	for _, t := range teachers {
		teacherIDs[t.SubjectID] = append(teacherIDs[t.SubjectID], t.UserID)
	}

	for _, sub := range subjects {
		entry := models.CatalogEntry{
			Subject:     sub,
			Sections:    []models.CatalogSection{},
			TeacherIDs:  teacherIDs[sub.ID],
			NumStudents: students[sub.ID],
			MediaCount:  mediaCounts[sub.ID],
		}
		if entry.TeacherIDs == nil {
			entry.TeacherIDs = []string{}
		}
		for _, sec := range bySubject[sub.ID] {
			capacity, err := s.deps.Capacity.Capacity(ctx, sec, sub, false)
			if err != nil {
				return nil, err
			}
			blocks := models.SortBlocks(meetings[sec.ID])
			cs := models.CatalogSection{
				ID:                 sec.ID,
				Index:              sec.Index,
				Status:             sec.Status,
				RegistrationStatus: sec.RegistrationStatus,
				TimeBlockIDs:       models.BlockIDs(blocks),
				Capacity:           capacity,
				NumStudents:        enrolled[sec.ID],
				IsFull:             IsFull(enrolled[sec.ID], capacity),
			}
			if len(blocks) > 0 {
				start := blocks[0].Start
				cs.FirstStart = &start
			}
			if float64(cs.NumStudents) > settings.NearlyFullThreshold*float64(capacity) {
				entry.IsNearlyFull = true
			}
			entry.Sections = append(entry.Sections, cs)
		}
		entries = append(entries, entry)
	}

	sortCatalog(entries, settings.CatalogSortFields)
	return entries, nil
}

func countsBySubject(rows []models.SubjectCount) map[string]int {
	out := make(map[string]int, len(rows))
	for _, row := range rows {
		out[row.SubjectID] = row.Count
	}
	return out
}

type catalogLess func(a, b models.CatalogEntry) int

var catalogComparators = map[string]catalogLess{
	"category": func(a, b models.CatalogEntry) int {
		return strings.Compare(a.Subject.CategorySymbol, b.Subject.CategorySymbol)
	},
	"start": func(a, b models.CatalogEntry) int {
		sa, sb := a.FirstStart(), b.FirstStart()
		switch {
		case sa == nil && sb == nil:
			return 0
		case sa == nil:
			return 1
		case sb == nil:
			return -1
		case sa.Before(*sb):
			return -1
		case sb.Before(*sa):
			return 1
		}
		return 0
	},
	"num_students": func(a, b models.CatalogEntry) int {
		return a.NumStudents - b.NumStudents
	},
	"id": func(a, b models.CatalogEntry) int {
		return strings.Compare(a.Subject.ID, b.Subject.ID)
	},
	"title": func(a, b models.CatalogEntry) int {
		return strings.Compare(strings.ToLower(a.Subject.Title), strings.ToLower(b.Subject.Title))
	},
	"code": func(a, b models.CatalogEntry) int {
		return strings.Compare(a.Subject.EmailCode(), b.Subject.EmailCode())
	},
}

// sortCatalog orders entries by fields in priority order. Unknown fields are
// skipped.
func sortCatalog(entries []models.CatalogEntry, fields []string) {
	sort.SliceStable(entries, func(i, j int) bool {
		for _, field := range fields {
			cmp, ok := catalogComparators[field]
			if !ok {
				continue
			}
			if c := cmp(entries[i], entries[j]); c != 0 {
				return c < 0
			}
		}
		return false
	})
}

// ExportCSV renders the catalog as one CSV row per section.
func (s *CatalogService) ExportCSV(ctx context.Context, filter models.CatalogFilter) ([]byte, error) {
	entries, err := s.Catalog(ctx, filter)
	if err != nil {
		return nil, err
	}
	rows := make([]models.CatalogRow, 0, len(entries))
	for _, entry := range entries {
		for _, sec := range entry.Sections {
			row := models.CatalogRow{
				SubjectCode: entry.Subject.EmailCode(),
				Section:     fmt.Sprintf("%ss%d", entry.Subject.EmailCode(), sec.Index),
				Title:       entry.Subject.Title,
				Category:    entry.Subject.CategorySymbol,
				Grades:      fmt.Sprintf("%d-%d", entry.Subject.GradeMin, entry.Subject.GradeMax),
				Status:      int(sec.Status),
				Capacity:    sec.Capacity,
				Enrolled:    sec.NumStudents,
				Teachers:    len(entry.TeacherIDs),
			}
			if sec.FirstStart != nil {
				row.FirstStart = sec.FirstStart.Format("2006-01-02 15:04")
			}
			rows = append(rows, row)
		}
	}
	out, err := s.deps.CSV.Render(rows)
	if err != nil {
		return nil, wrapInternal(err, "failed to render catalog export")
	}
	return out, nil
}

// RosterPDF renders the enrolled students of a section. It returns the
// document and a suggested file name.
func (s *CatalogService) RosterPDF(ctx context.Context, sectionID string) ([]byte, string, error) {
	section, subject, err := loadSectionWithSubject(ctx, s.deps.Section, s.deps.Subject, sectionID)
	if err != nil {
		return nil, "", err
	}
	at := s.now()
	roster, err := s.deps.Counts.ListRoster(ctx, section.ID, []string{models.RelationshipEnrolled}, at)
	if err != nil {
		return nil, "", wrapInternal(err, "failed to load roster")
	}
	blocks, err := s.deps.Meetings.ListBySection(ctx, section.ID)
	if err != nil {
		return nil, "", wrapInternal(err, "failed to load meeting times")
	}

	code := section.EmailCode(*subject)
	subtitle := []string{subject.Title}
	for _, b := range models.Collapse(models.SortBlocks(blocks), s.deps.DisplayTime) {
		subtitle = append(subtitle, b.Label())
	}
	subtitle = append(subtitle, fmt.Sprintf("%d students", len(roster)))

	rows := make([]map[string]string, 0, len(roster))
	for i, entry := range roster {
		rows = append(rows, map[string]string{
			"#":     fmt.Sprintf("%d", i+1),
			"Name":  entry.Name,
			"Email": entry.Email,
			"Grade": fmt.Sprintf("%d", entry.Grade),
		})
	}
	out, err := s.deps.PDF.Render(export.Document{
		Title:    "Roster for " + code,
		Subtitle: subtitle,
		Data:     export.Dataset{Headers: []string{"#", "Name", "Email", "Grade"}, Rows: rows},
	})
	if err != nil {
		return nil, "", wrapInternal(err, "failed to render roster")
	}
	return out, "roster-" + code + ".pdf", nil
}
