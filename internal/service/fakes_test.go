package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/course-scheduling-api/internal/models"
	appErrors "github.com/noah-isme/course-scheduling-api/pkg/errors"
	"github.com/noah-isme/course-scheduling-api/pkg/mail"
)

var testDay = time.Date(2026, 11, 14, 9, 0, 0, 0, time.UTC)

func hourBlock(id string, hour int) models.TimeBlock {
	start := testDay.Add(time.Duration(hour) * time.Hour)
	return models.TimeBlock{ID: id, ProgramID: "prog", Start: start, End: start.Add(time.Hour)}
}

func intPtr(v int) *int { return &v }

type txProviderMock struct {
	db   *sqlx.DB
	mock sqlmock.Sqlmock
}

func newTxProviderMock(t *testing.T) (txProvider, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	sqlxdb := sqlx.NewDb(db, "sqlmock")
	t.Cleanup(func() { db.Close() })
	return &txProviderMock{db: sqlxdb, mock: mock}, mock
}

func (t *txProviderMock) BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error) {
	return t.db.BeginTxx(ctx, opts)
}

type stubCacheRepo struct {
	store   map[string][]byte
	revs    map[string]int64
	revErr  error
	getHits int
}

func (s *stubCacheRepo) Get(_ context.Context, key string, dest interface{}) error {
	payload, ok := s.store[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	s.getHits++
	return json.Unmarshal(payload, dest)
}

func (s *stubCacheRepo) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	if s.store == nil {
		s.store = make(map[string][]byte)
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	s.store[key] = payload
	return nil
}

func (s *stubCacheRepo) Incr(_ context.Context, key string) (int64, error) {
	if s.revs == nil {
		s.revs = make(map[string]int64)
	}
	s.revs[key]++
	return s.revs[key], nil
}

func (s *stubCacheRepo) GetInt(_ context.Context, key string) (int64, error) {
	if s.revErr != nil {
		return 0, s.revErr
	}
	return s.revs[key], nil
}

func (s *stubCacheRepo) Delete(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(s.store, k)
	}
	return nil
}

// world is an in-memory program shared by the store fakes below.
type world struct {
	programs    map[string]models.Program
	subjects    map[string]models.Subject
	sections    map[string]models.Section
	students    map[string]models.Student
	blocks      []models.TimeBlock
	meetings    map[string][]string
	sizeRanges  map[string][]models.ClassSizeRange
	resources   []models.Resource
	requests    map[string][]models.ResourceRequest
	assignments map[string]string
	regs        []models.Registration
	teachers    map[string][]models.Teacher
	available   map[string][]string
	constraints []models.ScheduleConstraint
	perms       map[string]bool
	media       map[string]int
	expired     []string
	locks       int
}

func newWorld() *world {
	return &world{
		programs:    map[string]models.Program{"prog": {ID: "prog", Anchor: "Q/Programs/Splash/2026", Name: "Splash 2026", DirectorEmail: "director@example.org"}},
		subjects:    map[string]models.Subject{},
		sections:    map[string]models.Section{},
		students:    map[string]models.Student{},
		meetings:    map[string][]string{},
		sizeRanges:  map[string][]models.ClassSizeRange{},
		requests:    map[string][]models.ResourceRequest{},
		assignments: map[string]string{},
		teachers:    map[string][]models.Teacher{},
		available:   map[string][]string{},
		perms:       map[string]bool{},
		media:       map[string]int{},
	}
}

func (w *world) block(id string) models.TimeBlock {
	for _, b := range w.blocks {
		if b.ID == id {
			return b
		}
	}
	return models.TimeBlock{ID: id}
}

func (w *world) sectionBlocks(sectionID string) []models.TimeBlock {
	var out []models.TimeBlock
	for _, id := range w.meetings[sectionID] {
		out = append(out, w.block(id))
	}
	return models.SortBlocks(out)
}

func (w *world) addSubject(sub models.Subject) {
	if sub.ProgramID == "" {
		sub.ProgramID = "prog"
	}
	if sub.Anchor == "" {
		sub.Anchor = w.programs[sub.ProgramID].Anchor + "/Classes/" + sub.ID
	}
	w.subjects[sub.ID] = sub
}

func (w *world) addSection(sec models.Section, blockIDs ...string) {
	if sec.ProgramID == "" {
		sec.ProgramID = "prog"
	}
	if sec.Anchor == "" {
		sec.Anchor = w.subjects[sec.SubjectID].Anchor + "/Section" + sec.ID
	}
	w.sections[sec.ID] = sec
	w.meetings[sec.ID] = blockIDs
}

func (w *world) addRoom(name string, capacity int, features []string, blockIDs ...string) {
	for _, b := range blockIDs {
		w.resources = append(w.resources, models.Resource{
			ID: name + "@" + b, ProgramID: "prog", Name: name, Kind: models.ResourceClassroom,
			TimeBlockID: b, Capacity: capacity, Features: features,
		})
	}
}

func (w *world) enroll(studentID, sectionID, verb string) {
	w.regs = append(w.regs, models.Registration{
		ID: studentID + "/" + sectionID + "/" + verb, StudentID: studentID, SectionID: sectionID,
		Relationship: verb, StartDate: testDay.Add(-48 * time.Hour), EndDate: models.OpenEnded,
	})
}

func (w *world) activeRegs(studentID, sectionID, verb string, at time.Time) int {
	n := 0
	for _, r := range w.regs {
		if r.StudentID == studentID && r.SectionID == sectionID && (verb == "" || r.Relationship == verb) && r.ActiveAt(at) {
			n++
		}
	}
	return n
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

type memSections struct{ *world }

func (m memSections) FindByID(_ context.Context, id string) (*models.Section, error) {
	sec, ok := m.sections[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &sec, nil
}

func (m memSections) ListBySubject(_ context.Context, subjectID string) ([]models.Section, error) {
	var out []models.Section
	for _, id := range sortedKeys(m.sections) {
		if m.sections[id].SubjectID == subjectID {
			out = append(out, m.sections[id])
		}
	}
	return out, nil
}

func (m memSections) ListBySubjects(ctx context.Context, subjectIDs []string) ([]models.Section, error) {
	var out []models.Section
	for _, id := range subjectIDs {
		secs, _ := m.ListBySubject(ctx, id)
		out = append(out, secs...)
	}
	return out, nil
}

func (m memSections) UpdateStatus(_ context.Context, _ sqlx.ExtContext, id string, status models.ClassStatus) error {
	sec := m.sections[id]
	sec.Status = status
	m.sections[id] = sec
	return nil
}

func (m memSections) UpdateStatusWhere(_ context.Context, _ sqlx.ExtContext, subjectID string, from *models.ClassStatus, to models.ClassStatus) (int64, error) {
	var n int64
	for id, sec := range m.sections {
		if sec.SubjectID != subjectID || (from != nil && sec.Status != *from) {
			continue
		}
		sec.Status = to
		m.sections[id] = sec
		n++
	}
	return n, nil
}

func (m memSections) Delete(_ context.Context, _ sqlx.ExtContext, id string) error {
	delete(m.sections, id)
	delete(m.meetings, id)
	return nil
}

type memSubjects struct{ *world }

func (m memSubjects) FindByID(_ context.Context, id string) (*models.Subject, error) {
	sub, ok := m.subjects[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &sub, nil
}

func (m memSubjects) ListCatalog(_ context.Context, filter models.CatalogFilter) ([]models.Subject, error) {
	var out []models.Subject
	for _, id := range sortedKeys(m.subjects) {
		sub := m.subjects[id]
		if sub.ProgramID != filter.ProgramID || (!filter.ForceAll && sub.Status <= 0) {
			continue
		}
		out = append(out, sub)
	}
	return out, nil
}

func (m memSubjects) ListSizeRanges(_ context.Context, subjectID string) ([]models.ClassSizeRange, error) {
	return m.sizeRanges[subjectID], nil
}

func (m memSubjects) UpdateStatus(_ context.Context, _ sqlx.ExtContext, id string, status models.ClassStatus) error {
	sub := m.subjects[id]
	sub.Status = status
	m.subjects[id] = sub
	return nil
}

func (m memSubjects) Delete(_ context.Context, _ sqlx.ExtContext, id string) error {
	delete(m.subjects, id)
	return nil
}

type memBlocks struct{ *world }

func (m memBlocks) ListByProgram(_ context.Context, programID string) ([]models.TimeBlock, error) {
	var out []models.TimeBlock
	for _, b := range m.blocks {
		if b.ProgramID == programID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m memBlocks) ListBySection(_ context.Context, sectionID string) ([]models.TimeBlock, error) {
	return m.sectionBlocks(sectionID), nil
}

func (m memBlocks) ListBySections(_ context.Context, sectionIDs []string) (map[string][]models.TimeBlock, error) {
	out := make(map[string][]models.TimeBlock, len(sectionIDs))
	for _, id := range sectionIDs {
		if blocks := m.sectionBlocks(id); len(blocks) > 0 {
			out[id] = blocks
		}
	}
	return out, nil
}

func (m memBlocks) ReplaceSectionMeetings(_ context.Context, _ sqlx.ExtContext, sectionID string, blockIDs []string) error {
	m.meetings[sectionID] = append([]string(nil), blockIDs...)
	return nil
}

type memResources struct{ *world }

func (m memResources) ListFreeInstances(_ context.Context, programID string, kind models.ResourceKind, blockIDs []string, sectionID string) ([]models.Resource, error) {
	var out []models.Resource
	for _, r := range m.resources {
		if r.ProgramID != programID || r.Kind != kind || !contains(blockIDs, r.TimeBlockID) {
			continue
		}
		if holder, taken := m.assignments[r.ID]; taken && holder != sectionID {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (m memResources) ListInstances(_ context.Context, programID, name string, kind models.ResourceKind, blockIDs []string) ([]models.Resource, error) {
	var out []models.Resource
	for _, r := range m.resources {
		if r.ProgramID == programID && r.Name == name && r.Kind == kind && contains(blockIDs, r.TimeBlockID) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m memResources) ListAssigned(_ context.Context, sectionID string, kind models.ResourceKind) ([]models.Resource, error) {
	var out []models.Resource
	for _, r := range m.resources {
		if m.assignments[r.ID] == sectionID && (kind == "" || r.Kind == kind) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m memResources) ListRequests(_ context.Context, sectionID string) ([]models.ResourceRequest, error) {
	return m.requests[sectionID], nil
}

func (m memResources) FindOccupant(_ context.Context, _ sqlx.ExtContext, resourceID string) (*models.Occupancy, error) {
	holder, ok := m.assignments[resourceID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	sec := m.sections[holder]
	var b models.TimeBlock
	for _, r := range m.resources {
		if r.ID == resourceID {
			b = m.block(r.TimeBlockID)
		}
	}
	return &models.Occupancy{
		ResourceID: resourceID, SectionID: holder, SubjectCode: m.subjects[sec.SubjectID].EmailCode(),
		Index: sec.Index, BlockStart: b.Start, BlockEnd: b.End,
	}, nil
}

func (m memResources) DeleteRequests(_ context.Context, _ sqlx.ExtContext, sectionID string) error {
	delete(m.requests, sectionID)
	return nil
}

type memAssignments struct{ *world }

func (m memAssignments) Claim(_ context.Context, _ sqlx.ExtContext, a *models.ResourceAssignment) (bool, error) {
	if _, taken := m.assignments[a.ResourceID]; taken {
		return false, nil
	}
	m.assignments[a.ResourceID] = a.SectionID
	return true, nil
}

func (m memAssignments) DeleteBySection(_ context.Context, _ sqlx.ExtContext, sectionID string, kind models.ResourceKind) (int64, error) {
	var n int64
	for _, r := range m.resources {
		if m.assignments[r.ID] == sectionID && (kind == "" || r.Kind == kind) {
			delete(m.assignments, r.ID)
			n++
		}
	}
	return n, nil
}

type memRegistrations struct{ *world }

func (m memRegistrations) Create(_ context.Context, _ sqlx.ExtContext, reg *models.Registration) error {
	if reg.EndDate.IsZero() {
		reg.EndDate = models.OpenEnded
	}
	m.regs = append(m.regs, *reg)
	return nil
}

func (m memRegistrations) ExistsActive(_ context.Context, _ sqlx.ExtContext, studentID, sectionID, relationship string, at time.Time) (bool, error) {
	return m.activeRegs(studentID, sectionID, relationship, at) > 0, nil
}

func (m memRegistrations) EndActive(_ context.Context, _ sqlx.ExtContext, studentID, sectionID, relationship string, at time.Time) (int64, error) {
	var n int64
	for i, r := range m.regs {
		if r.StudentID == studentID && r.SectionID == sectionID && (relationship == "" || r.Relationship == relationship) && !r.EndDate.Before(at) {
			m.regs[i].EndDate = at
			n++
		}
	}
	return n, nil
}

func (m memRegistrations) EndActiveBySection(_ context.Context, _ sqlx.ExtContext, sectionID string, at time.Time) (int64, error) {
	var n int64
	for i, r := range m.regs {
		if r.SectionID == sectionID && !r.EndDate.Before(at) {
			m.regs[i].EndDate = at
			n++
		}
	}
	return n, nil
}

func (m memRegistrations) CountHistory(_ context.Context, studentID, sectionID string) (int, error) {
	n := 0
	for _, r := range m.regs {
		if r.StudentID == studentID && r.SectionID == sectionID {
			n++
		}
	}
	return n, nil
}

func (m memRegistrations) LockStudent(_ context.Context, _ sqlx.ExtContext, _ string) error {
	m.locks++
	return nil
}

func (m memRegistrations) ListActiveByStudent(_ context.Context, studentID, programID string, verbs []string, at time.Time) ([]models.SectionRegistration, error) {
	var out []models.SectionRegistration
	for _, r := range m.regs {
		sec := m.sections[r.SectionID]
		if r.StudentID == studentID && sec.ProgramID == programID && contains(verbs, r.Relationship) && r.ActiveAt(at) {
			out = append(out, models.SectionRegistration{Registration: r, SubjectID: sec.SubjectID})
		}
	}
	return out, nil
}

func (m memRegistrations) CountProgramStudents(_ context.Context, programID string, verbs []string, at time.Time) (int, error) {
	seen := map[string]bool{}
	for _, r := range m.regs {
		if m.sections[r.SectionID].ProgramID == programID && contains(verbs, r.Relationship) && r.ActiveAt(at) {
			seen[r.StudentID] = true
		}
	}
	return len(seen), nil
}

func (m memRegistrations) CountActiveBySections(_ context.Context, sectionIDs, verbs []string, at time.Time) (map[string]int, error) {
	out := map[string]int{}
	seen := map[string]bool{}
	for _, r := range m.regs {
		key := r.SectionID + "|" + r.StudentID
		if contains(sectionIDs, r.SectionID) && contains(verbs, r.Relationship) && r.ActiveAt(at) && !seen[key] {
			seen[key] = true
			out[r.SectionID]++
		}
	}
	return out, nil
}

func (m memRegistrations) CountActiveBySubjects(_ context.Context, subjectIDs, verbs []string, at time.Time) ([]models.SubjectCount, error) {
	per := map[string]map[string]bool{}
	for _, r := range m.regs {
		sub := m.sections[r.SectionID].SubjectID
		if contains(subjectIDs, sub) && contains(verbs, r.Relationship) && r.ActiveAt(at) {
			if per[sub] == nil {
				per[sub] = map[string]bool{}
			}
			per[sub][r.StudentID] = true
		}
	}
	var out []models.SubjectCount
	for sub, students := range per {
		out = append(out, models.SubjectCount{SubjectID: sub, Count: len(students)})
	}
	return out, nil
}

func (m memRegistrations) ListRoster(_ context.Context, sectionID string, verbs []string, at time.Time) ([]models.RosterEntry, error) {
	var out []models.RosterEntry
	for _, r := range m.regs {
		if r.SectionID == sectionID && contains(verbs, r.Relationship) && r.ActiveAt(at) {
			st := m.students[r.StudentID]
			out = append(out, models.RosterEntry{StudentID: st.ID, Name: st.Name, Email: st.Email, Grade: st.Grade, Relationship: r.Relationship})
		}
	}
	return out, nil
}

type memStudents struct{ *world }

func (m memStudents) FindByID(_ context.Context, id string) (*models.Student, error) {
	st, ok := m.students[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &st, nil
}

type memPrograms struct{ *world }

func (m memPrograms) FindByID(_ context.Context, id string) (*models.Program, error) {
	p, ok := m.programs[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &p, nil
}

type memPermissions struct{ *world }

func (m memPermissions) ListUsers(_ context.Context, anchor, verb string, _ time.Time) ([]models.Teacher, error) {
	if verb != models.VerbTeacher {
		return nil, nil
	}
	return m.teachers[anchor], nil
}

func (m memPermissions) HasPermission(_ context.Context, userID, verb string, anchors []string, _ time.Time) (bool, error) {
	for _, a := range anchors {
		if m.perms[userID+"|"+verb+"|"+a] {
			return true, nil
		}
	}
	return false, nil
}

func (m memPermissions) ListTeachersBySubjects(_ context.Context, subjectIDs []string, _ time.Time) ([]models.SubjectTeacher, error) {
	var out []models.SubjectTeacher
	for _, id := range subjectIDs {
		for _, t := range m.teachers[m.subjects[id].Anchor] {
			out = append(out, models.SubjectTeacher{SubjectID: id, UserID: t.ID})
		}
	}
	return out, nil
}

func (m memPermissions) ExpireUnder(_ context.Context, _ sqlx.ExtContext, anchor string, _ time.Time) (int64, error) {
	m.world.expired = append(m.world.expired, anchor)
	return 1, nil
}

func (m memPermissions) ListUserIDs(_ context.Context, anchor, verb string, _ time.Time) ([]string, error) {
	if verb != models.VerbTeacher {
		return nil, nil
	}
	var ids []string
	for _, t := range m.teachers[anchor] {
		ids = append(ids, t.ID)
	}
	return ids, nil
}

func (m memPermissions) Grant(_ context.Context, _ sqlx.ExtContext, perm *models.Permission) error {
	if perm.Verb == models.VerbTeacher {
		m.teachers[perm.Anchor] = append(m.teachers[perm.Anchor], models.Teacher{ID: perm.UserID})
		return nil
	}
	m.perms[perm.UserID+"|"+perm.Verb+"|"+perm.Anchor] = true
	return nil
}

func (m memPermissions) Revoke(_ context.Context, _ sqlx.ExtContext, userID, anchor, verb string, _ time.Time) (int64, error) {
	if verb != models.VerbTeacher {
		return 0, nil
	}
	var n int64
	kept := m.teachers[anchor][:0]
	for _, t := range m.teachers[anchor] {
		if t.ID == userID {
			n++
			continue
		}
		kept = append(kept, t)
	}
	m.teachers[anchor] = kept
	return n, nil
}

type memAvailability struct{ *world }

func (m memAvailability) ListAvailableBlocks(_ context.Context, userID, _ string) ([]models.TimeBlock, error) {
	var out []models.TimeBlock
	for _, id := range m.available[userID] {
		out = append(out, m.block(id))
	}
	return out, nil
}

func (m memAvailability) ReplaceBlocks(_ context.Context, _ sqlx.ExtContext, userID, _ string, blockIDs []string) error {
	m.available[userID] = append([]string(nil), blockIDs...)
	return nil
}

func (m memAvailability) ListTeachingSlots(_ context.Context, userID, _ string, blockIDs []string, _ time.Time) ([]models.TeachingSlot, error) {
	var out []models.TeachingSlot
	for _, secID := range sortedKeys(m.sections) {
		sec := m.sections[secID]
		if sec.Status < 0 {
			continue
		}
		sub := m.subjects[sec.SubjectID]
		teaches := false
		for _, t := range m.teachers[sub.Anchor] {
			if t.ID == userID {
				teaches = true
			}
		}
		if !teaches {
			continue
		}
		for _, b := range m.sectionBlocks(secID) {
			if blockIDs != nil && !contains(blockIDs, b.ID) {
				continue
			}
			out = append(out, models.TeachingSlot{
				SectionID: secID, SubjectCode: sub.EmailCode(), Index: sec.Index,
				TimeBlockID: b.ID, BlockStart: b.Start, BlockEnd: b.End,
			})
		}
	}
	return out, nil
}

type memConstraints struct{ *world }

func (m memConstraints) ListByProgram(_ context.Context, programID string) ([]models.ScheduleConstraint, error) {
	var out []models.ScheduleConstraint
	for _, c := range m.constraints {
		if c.ProgramID == programID {
			out = append(out, c)
		}
	}
	return out, nil
}

type memMedia struct{ *world }

func (m memMedia) CountBySubjects(_ context.Context, subjectIDs []string) ([]models.SubjectCount, error) {
	var out []models.SubjectCount
	for _, id := range subjectIDs {
		if n := m.media[id]; n > 0 {
			out = append(out, models.SubjectCount{SubjectID: id, Count: n})
		}
	}
	return out, nil
}

func (m memMedia) DeleteByAnchor(_ context.Context, _ sqlx.ExtContext, anchor string) error {
	for id, sub := range m.subjects {
		if sub.Anchor == anchor {
			delete(m.media, id)
		}
	}
	return nil
}

type applicationsStub struct {
	reopened int
	cleared  int
}

func (a *applicationsStub) MarkIncomplete(context.Context, string, string) error {
	a.reopened++
	return nil
}

func (a *applicationsStub) DeleteBlankResponses(context.Context, string, string) (int64, error) {
	a.cleared++
	return 0, nil
}

type fixedSettings struct{ settings models.ProgramSettings }

func (f fixedSettings) Get(_ context.Context, programID string) (models.ProgramSettings, error) {
	s := f.settings
	s.ProgramID = programID
	return s, nil
}

type listRecorder struct {
	added   map[string][]string
	removed map[string][]string
}

func (l *listRecorder) Subscribe(address string, lists ...string) {
	if l.added == nil {
		l.added = map[string][]string{}
	}
	l.added[address] = append(l.added[address], lists...)
}

func (l *listRecorder) Unsubscribe(address string, lists ...string) {
	if l.removed == nil {
		l.removed = map[string][]string{}
	}
	l.removed[address] = append(l.removed[address], lists...)
}

type mailRecorder struct{ sent []mail.Message }

func (m *mailRecorder) Notify(msg mail.Message) {
	if len(msg.Recipients) > 0 {
		m.sent = append(m.sent, msg)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j] < keys[j-1]; j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
	return keys
}
