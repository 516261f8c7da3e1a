package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/course-scheduling-api/internal/models"
)

func TestTimeBlockRepositoryListBySections(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewTimeBlockRepository(db)

	start := time.Date(2026, 3, 7, 9, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"section_id", "id", "program_id", "start_at", "end_at", "description"}).
		AddRow("sec-1", "b1", "prog", start, start.Add(time.Hour), "").
		AddRow("sec-1", "b2", "prog", start.Add(time.Hour), start.Add(2*time.Hour), "").
		AddRow("sec-2", "b1", "prog", start, start.Add(time.Hour), "")
	mock.ExpectQuery(regexp.QuoteMeta("SELECT m.section_id, tb.id")).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(rows)

	byID, err := repo.ListBySections(context.Background(), []string{"sec-1", "sec-2"})
	require.NoError(t, err)
	require.Len(t, byID["sec-1"], 2)
	assert.Equal(t, "b2", byID["sec-1"][1].ID)
	assert.Len(t, byID["sec-2"], 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTimeBlockRepositoryReplaceSectionMeetings(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewTimeBlockRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM section_meetings WHERE section_id = $1")).
		WithArgs("sec-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO section_meetings (section_id, time_block_id) SELECT $1, unnest($2::text[])")).
		WithArgs("sec-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM section_meetings WHERE section_id = $1")).
		WithArgs("sec-1").
		WillReturnResult(sqlmock.NewResult(0, 2))

	require.NoError(t, repo.ReplaceSectionMeetings(context.Background(), nil, "sec-1", []string{"b3", "b4"}))
	require.NoError(t, repo.ReplaceSectionMeetings(context.Background(), nil, "sec-1", nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSectionRepositoryFindByIDScansDuration(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewSectionRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "subject_id", "program_id", "anchor", "section_index", "status", "registration_status", "duration", "max_capacity", "created_at", "updated_at"}).
		AddRow("sec-1", "sub-1", "prog", "Q/Programs/Splash/2026/Classes/M101/Section1", 1, 10, 0, "1.50", nil, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT s.id, s.subject_id")).
		WithArgs("sec-1").
		WillReturnRows(rows)

	section, err := repo.FindByID(context.Background(), "sec-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusAccepted, section.Status)
	assert.Equal(t, "1.5", section.DurationHours().String())
	assert.Nil(t, section.MaxCapacity)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSectionRepositoryUpdateStatusWhere(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewSectionRepository(db)

	from := models.StatusUnreviewed
	mock.ExpectExec(regexp.QuoteMeta("UPDATE sections SET status = $1, updated_at = $2 WHERE subject_id = $3 AND status = $4")).
		WithArgs(models.StatusAccepted, sqlmock.AnyArg(), "sub-1", models.StatusUnreviewed).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := repo.UpdateStatusWhere(context.Background(), nil, "sub-1", &from, models.StatusAccepted)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubjectRepositoryListCatalogFilters(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewSubjectRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "program_id", "anchor", "code", "title", "category_id", "category_symbol", "grade_min", "grade_max", "class_size_min", "class_size_optimal", "class_size_max", "allow_lateness", "status", "blocked_student_types", "created_at", "updated_at"}).
		AddRow("sub-1", "prog", "Q/Programs/Splash/2026/Classes/M101", "M101", "Knots", "cat-m", "M", 7, 12, nil, 15, 20, false, 10, "{}", now, now)
	mock.ExpectQuery(`sub\.status > 0 AND EXISTS \(SELECT 1 FROM sections s JOIN section_meetings m .* m\.time_block_id = \$2\) ORDER BY sub\.id ASC`).
		WithArgs("prog", "b1").
		WillReturnRows(rows)

	subjects, err := repo.ListCatalog(context.Background(), models.CatalogFilter{ProgramID: "prog", TimeBlockID: "b1"})
	require.NoError(t, err)
	require.Len(t, subjects, 1)
	assert.Equal(t, "M", subjects[0].CategorySymbol)
	require.NotNil(t, subjects[0].ClassSizeMax)
	assert.Equal(t, 20, *subjects[0].ClassSizeMax)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResourceRepositoryListFreeInstances(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewResourceRepository(db)

	rows := sqlmock.NewRows([]string{"id", "program_id", "name", "kind", "time_block_id", "capacity", "features"}).
		AddRow("r1", "prog", "Room 101", "Classroom", "b1", 30, "{Projector}")
	mock.ExpectQuery(regexp.QuoteMeta("(ra.id IS NULL OR ra.section_id = $4)")).
		WithArgs("prog", models.ResourceClassroom, sqlmock.AnyArg(), "sec-1").
		WillReturnRows(rows)

	free, err := repo.ListFreeInstances(context.Background(), "prog", models.ResourceClassroom, []string{"b1"}, "sec-1")
	require.NoError(t, err)
	require.Len(t, free, 1)
	assert.True(t, free[0].HasFeature("Projector"))

	none, err := repo.ListFreeInstances(context.Background(), "prog", models.ResourceClassroom, nil, "sec-1")
	require.NoError(t, err)
	assert.Nil(t, none)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResourceRepositoryListInstancesFiltersKind(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewResourceRepository(db)

	rows := sqlmock.NewRows([]string{"id", "program_id", "name", "kind", "time_block_id", "capacity", "features"}).
		AddRow("r1", "prog", "Room 101", "Classroom", "b1", 30, "{}")
	mock.ExpectQuery(regexp.QuoteMeta("WHERE r.program_id = $1 AND r.name = $2 AND r.kind = $3 AND r.time_block_id = ANY($4)")).
		WithArgs("prog", "Room 101", models.ResourceClassroom, sqlmock.AnyArg()).
		WillReturnRows(rows)

	rooms, err := repo.ListInstances(context.Background(), "prog", "Room 101", models.ResourceClassroom, []string{"b1"})
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, "r1", rooms[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
