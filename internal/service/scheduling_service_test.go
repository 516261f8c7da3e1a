package service

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/course-scheduling-api/internal/models"
	appErrors "github.com/noah-isme/course-scheduling-api/pkg/errors"
)

// newSchedulingWorld builds a program with blocks at 9, 10, 11, 13 and 14
// o'clock and one accepted subject M1 taught by t1.
func newSchedulingWorld() *world {
	w := newWorld()
	w.blocks = []models.TimeBlock{
		hourBlock("b1", 0), hourBlock("b2", 1), hourBlock("b3", 2), hourBlock("b4", 4), hourBlock("b5", 5),
	}
	w.addSubject(models.Subject{ID: "m1", Code: "M1", Title: "Knots", Status: models.StatusAccepted, ClassSizeMax: intPtr(20)})
	w.teachers[w.subjects["m1"].Anchor] = []models.Teacher{{ID: "t1", Name: "Ada"}}
	return w
}

func newSchedulingService(t *testing.T, w *world) (*SchedulingService, sqlmock.Sqlmock) {
	db, mock := newTxProviderMock(t)
	availability := NewAvailabilityService(memPermissions{w}, memAvailability{w}, nil)
	svc := NewSchedulingService(db, memSections{w}, memSubjects{w}, memBlocks{w}, memResources{w}, memAssignments{w}, availability, nil, nil, nil, SchedulingServiceConfig{})
	svc.now = func() time.Time { return testDay }
	return svc, mock
}

func TestExtendTimeBlockSkipsGaps(t *testing.T) {
	w := newSchedulingWorld()
	svc, _ := newSchedulingService(t, w)
	section := models.Section{ID: "s1", ProgramID: "prog", Duration: decimal.NewNullDecimal(decimal.NewFromInt(2))}

	blocks, err := svc.ExtendTimeBlock(context.Background(), section, "b3", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"b3", "b4"}, models.BlockIDs(blocks))

	merged, err := svc.ExtendTimeBlock(context.Background(), section, "b1", true)
	require.NoError(t, err)
	require.Len(t, merged, 1)
	assert.Equal(t, w.block("b1").Start, merged[0].Start)
	assert.Equal(t, w.block("b2").End, merged[0].End)
}

func TestExtendTimeBlockExhaustedIsConfigurationError(t *testing.T) {
	w := newSchedulingWorld()
	svc, _ := newSchedulingService(t, w)
	section := models.Section{ID: "s1", ProgramID: "prog", Duration: decimal.NewNullDecimal(decimal.NewFromInt(2))}

	_, err := svc.ExtendTimeBlock(context.Background(), section, "b5", false)
	require.Error(t, err)
	assert.True(t, appErrors.IsCode(err, appErrors.ErrConfiguration.Code))

	_, err = svc.ExtendTimeBlock(context.Background(), section, "missing", false)
	require.Error(t, err)
	assert.True(t, appErrors.IsCode(err, appErrors.ErrValidation.Code))
}

func TestViableTimesIntersectsTeachers(t *testing.T) {
	w := newSchedulingWorld()
	anchor := w.subjects["m1"].Anchor
	w.teachers[anchor] = append(w.teachers[anchor], models.Teacher{ID: "t2", Name: "Grace"})
	w.available["t1"] = []string{"b1", "b2", "b4", "b5"}
	w.available["t2"] = []string{"b1", "b2", "b4"}
	w.addSection(models.Section{ID: "s1", SubjectID: "m1", Index: 1, Duration: decimal.NewNullDecimal(decimal.NewFromInt(2))})
	svc, _ := newSchedulingService(t, w)

	viable, err := svc.ViableTimes(context.Background(), "s1", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"b1"}, models.BlockIDs(viable))
}

func TestViableTimesHonoursTeachingLoad(t *testing.T) {
	w := newSchedulingWorld()
	w.available["t1"] = []string{"b1", "b2", "b3"}
	w.addSubject(models.Subject{ID: "m2", Code: "M2", Status: models.StatusAccepted})
	w.teachers[w.subjects["m2"].Anchor] = []models.Teacher{{ID: "t1", Name: "Ada"}}
	w.addSection(models.Section{ID: "other", SubjectID: "m2", Index: 1}, "b2")
	w.addSection(models.Section{ID: "s1", SubjectID: "m1", Index: 1})
	svc, _ := newSchedulingService(t, w)

	viable, err := svc.ViableTimes(context.Background(), "s1", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"b1", "b3"}, models.BlockIDs(viable))

	all, err := svc.ViableTimes(context.Background(), "s1", true)
	require.NoError(t, err)
	assert.Equal(t, []string{"b1", "b2", "b3"}, models.BlockIDs(all))
}

func TestViableTimesWithoutTeachersKeepsOwnBlocks(t *testing.T) {
	w := newSchedulingWorld()
	w.teachers = map[string][]models.Teacher{}
	w.addSection(models.Section{ID: "s1", SubjectID: "m1", Index: 1}, "b4")
	svc, _ := newSchedulingService(t, w)

	viable, err := svc.ViableTimes(context.Background(), "s1", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"b4"}, models.BlockIDs(viable))
}

func TestViableRoomsRequiresEveryMeeting(t *testing.T) {
	w := newSchedulingWorld()
	w.addSection(models.Section{ID: "s1", SubjectID: "m1", Index: 1, Duration: decimal.NewNullDecimal(decimal.NewFromInt(2))}, "b1", "b2")
	w.addRoom("R101", 30, nil, "b1", "b2")
	w.addRoom("R102", 30, nil, "b1")
	w.addRoom("R103", 30, nil, "b1", "b2")
	w.addSubject(models.Subject{ID: "m2", Code: "M2"})
	w.addSection(models.Section{ID: "other", SubjectID: "m2", Index: 1}, "b2")
	w.assignments["R103@b2"] = "other"
	svc, _ := newSchedulingService(t, w)

	rooms, err := svc.ViableRooms(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, "R101", rooms[0].Name)
	assert.Equal(t, "b1", rooms[0].TimeBlockID)
}

func TestViableRoomsEmptyWhenTooShort(t *testing.T) {
	w := newSchedulingWorld()
	w.addSection(models.Section{ID: "s1", SubjectID: "m1", Index: 1, Duration: decimal.NewNullDecimal(decimal.NewFromInt(3))}, "b1")
	w.addRoom("R101", 30, nil, "b1")
	svc, _ := newSchedulingService(t, w)

	rooms, err := svc.ViableRooms(context.Background(), "s1")
	require.NoError(t, err)
	assert.Empty(t, rooms)
}

func TestAssignRoomClaimsEveryInstance(t *testing.T) {
	w := newSchedulingWorld()
	w.addSection(models.Section{ID: "s1", SubjectID: "m1", Index: 1}, "b1", "b2")
	w.addRoom("R101", 30, nil, "b1", "b2")
	svc, mock := newSchedulingService(t, w)
	metrics := NewMetricsService()
	svc.metrics = metrics

	mock.ExpectBegin()
	mock.ExpectCommit()

	result, err := svc.AssignRoom(context.Background(), "s1", AssignRoomRequest{RoomName: "R101"})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Empty(t, result.Messages)
	assert.Equal(t, "s1", w.assignments["R101@b1"])
	assert.Equal(t, "s1", w.assignments["R101@b2"])
	assert.Equal(t, uint64(2), metrics.Snapshot().RoomClaims)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAssignRoomRejectsOccupiedInstance(t *testing.T) {
	w := newSchedulingWorld()
	w.addSection(models.Section{ID: "a", SubjectID: "m1", Index: 1}, "b1")
	w.addSection(models.Section{ID: "b", SubjectID: "m1", Index: 2}, "b1")
	w.addRoom("R101", 30, nil, "b1")
	w.assignments["R101@b1"] = "a"
	svc, mock := newSchedulingService(t, w)

	mock.ExpectBegin()
	mock.ExpectRollback()

	result, err := svc.AssignRoom(context.Background(), "b", AssignRoomRequest{RoomName: "R101", Compromise: true})
	require.NoError(t, err)
	assert.False(t, result.Success)
	require.Len(t, result.Messages, 1)
	assert.Contains(t, result.Messages[0], "Room R101 is occupied by M1s1 during")
	assert.Equal(t, "a", w.assignments["R101@b1"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAssignRoomSameRoomDisjointBlocks(t *testing.T) {
	w := newSchedulingWorld()
	w.addSection(models.Section{ID: "a", SubjectID: "m1", Index: 1}, "b1")
	w.addSection(models.Section{ID: "b", SubjectID: "m1", Index: 2}, "b2")
	w.addRoom("R101", 30, nil, "b1", "b2")
	svc, mock := newSchedulingService(t, w)

	mock.ExpectBegin()
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectCommit()

	first, err := svc.AssignRoom(context.Background(), "a", AssignRoomRequest{RoomName: "R101", Compromise: true})
	require.NoError(t, err)
	second, err := svc.AssignRoom(context.Background(), "b", AssignRoomRequest{RoomName: "R101", Compromise: true})
	require.NoError(t, err)

	assert.True(t, first.Success)
	assert.True(t, second.Success)
	assert.Equal(t, "a", w.assignments["R101@b1"])
	assert.Equal(t, "b", w.assignments["R101@b2"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAssignRoomAlreadyHeldIsSuccess(t *testing.T) {
	w := newSchedulingWorld()
	w.addSection(models.Section{ID: "s1", SubjectID: "m1", Index: 1}, "b1")
	w.addRoom("R101", 30, nil, "b1")
	w.assignments["R101@b1"] = "s1"
	svc, mock := newSchedulingService(t, w)

	mock.ExpectBegin()
	mock.ExpectCommit()

	result, err := svc.AssignRoom(context.Background(), "s1", AssignRoomRequest{RoomName: "R101", Compromise: true})
	require.NoError(t, err)
	assert.True(t, result.Success)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAssignRoomWithoutCompromise(t *testing.T) {
	w := newSchedulingWorld()
	w.addSection(models.Section{ID: "s1", SubjectID: "m1", Index: 1}, "b1")
	w.addRoom("R101", 30, []string{"Whiteboard"}, "b1")
	w.requests["s1"] = []models.ResourceRequest{{ID: "rq", SectionID: "s1", ResourceType: "Projector"}}
	svc, mock := newSchedulingService(t, w)

	result, err := svc.AssignRoom(context.Background(), "s1", AssignRoomRequest{RoomName: "R101"})
	require.NoError(t, err)
	assert.False(t, result.Success)
	require.Len(t, result.Messages, 1)
	assert.Equal(t, "Room R101 lacks some resources that M1s1 needs (or is too small), and you opted not to compromise.", result.Messages[0])
	assert.Empty(t, w.assignments)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAssignRoomMissingAtSomeTimes(t *testing.T) {
	w := newSchedulingWorld()
	w.addSection(models.Section{ID: "s1", SubjectID: "m1", Index: 1}, "b1", "b2")
	w.addRoom("R101", 30, nil, "b1")
	svc, _ := newSchedulingService(t, w)

	result, err := svc.AssignRoom(context.Background(), "s1", AssignRoomRequest{RoomName: "R101", Compromise: true})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, []string{"Room R101 does not exist at the times requested by M1s1."}, result.Messages)
}

func TestAssignRoomIgnoresFloatingResources(t *testing.T) {
	w := newSchedulingWorld()
	w.addSection(models.Section{ID: "s1", SubjectID: "m1", Index: 1}, "b1")
	w.resources = append(w.resources, models.Resource{
		ID: "cart@b1", ProgramID: "prog", Name: "Cart", Kind: models.ResourceFloating, TimeBlockID: "b1",
	})
	svc, _ := newSchedulingService(t, w)

	result, err := svc.AssignRoom(context.Background(), "s1", AssignRoomRequest{RoomName: "Cart", Compromise: true})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, []string{"Room Cart does not exist at the times requested by M1s1."}, result.Messages)
	assert.Empty(t, w.assignments)
}

func TestAssignRoomWithoutMeetings(t *testing.T) {
	w := newSchedulingWorld()
	w.addSection(models.Section{ID: "s1", SubjectID: "m1", Index: 1})
	svc, _ := newSchedulingService(t, w)

	_, err := svc.AssignRoom(context.Background(), "s1", AssignRoomRequest{RoomName: "R101"})
	require.Error(t, err)
	assert.True(t, appErrors.IsCode(err, appErrors.ErrValidation.Code))
}

func TestAssignStartTimeKeepsFreeRooms(t *testing.T) {
	w := newSchedulingWorld()
	w.addSection(models.Section{ID: "s1", SubjectID: "m1", Index: 1}, "b1")
	w.addRoom("R101", 30, nil, "b1", "b2")
	w.assignments["R101@b1"] = "s1"
	svc, mock := newSchedulingService(t, w)

	mock.ExpectBegin()
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectCommit()

	result, err := svc.AssignStartTime(context.Background(), "s1", "b2", true)
	require.NoError(t, err)
	assert.Empty(t, result.Reason)
	assert.Equal(t, []string{"R101"}, result.RoomsKept)
	assert.Equal(t, []string{"b2"}, w.meetings["s1"])
	assert.Equal(t, "s1", w.assignments["R101@b2"])
	_, stillHeld := w.assignments["R101@b1"]
	assert.False(t, stillHeld)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAssignStartTimeTeacherUnavailable(t *testing.T) {
	w := newSchedulingWorld()
	w.available["t1"] = []string{"b1"}
	w.addSection(models.Section{ID: "s1", SubjectID: "m1", Index: 1}, "b1")
	svc, mock := newSchedulingService(t, w)

	result, err := svc.AssignStartTime(context.Background(), "s1", "b2", false)
	require.NoError(t, err)
	assert.Contains(t, result.Reason, "The teacher Ada has not indicated availability during")
	assert.Equal(t, []string{"b1"}, w.meetings["s1"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSchedulingStatusStages(t *testing.T) {
	w := newSchedulingWorld()
	w.addSection(models.Section{ID: "s1", SubjectID: "m1", Index: 1})
	svc, _ := newSchedulingService(t, w)
	ctx := context.Background()

	status, err := svc.SchedulingStatus(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, models.SchedulingNeedsTime, status)

	w.meetings["s1"] = []string{"b1"}
	status, err = svc.SchedulingStatus(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, models.SchedulingNeedsRoom, status)

	w.addRoom("R101", 30, nil, "b1")
	w.assignments["R101@b1"] = "s1"
	w.requests["s1"] = []models.ResourceRequest{{ID: "rq", SectionID: "s1", ResourceType: "Projector"}}
	status, err = svc.SchedulingStatus(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, models.SchedulingNeedsResources, status)

	w.resources = append(w.resources, models.Resource{ID: "P1@b1", ProgramID: "prog", Name: "Projector", Kind: models.ResourceFloating, TimeBlockID: "b1"})
	w.assignments["P1@b1"] = "s1"
	status, err = svc.SchedulingStatus(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, models.SchedulingHappy, status)
}

func TestClearRoomsReleasesOnlyRooms(t *testing.T) {
	w := newSchedulingWorld()
	w.addSection(models.Section{ID: "s1", SubjectID: "m1", Index: 1}, "b1")
	w.addRoom("R101", 30, nil, "b1")
	w.resources = append(w.resources, models.Resource{ID: "P1@b1", ProgramID: "prog", Name: "Projector", Kind: models.ResourceFloating, TimeBlockID: "b1"})
	w.assignments["R101@b1"] = "s1"
	w.assignments["P1@b1"] = "s1"
	svc, _ := newSchedulingService(t, w)

	n, err := svc.ClearRooms(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, "s1", w.assignments["P1@b1"])

	_, err = svc.ClearRooms(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, appErrors.IsCode(err, appErrors.ErrNotFound.Code))
}

func TestSectionTimesCollapseIsStable(t *testing.T) {
	w := newSchedulingWorld()
	w.addSection(models.Section{ID: "s1", SubjectID: "m1", Index: 1}, "b5", "b1", "b2", "b4", "b3")
	svc, _ := newSchedulingService(t, w)
	svc.cache = NewCacheService(&stubCacheRepo{}, nil, 0, "test", nil, true)
	svc.cfg.DisplayTolerance = 15 * time.Minute

	times, err := svc.SectionTimes(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, times, 2)
	assert.Equal(t, w.block("b1").Start, times[0].Start)
	assert.Equal(t, w.block("b3").End, times[0].End)
	assert.Equal(t, w.block("b4").Start, times[1].Start)
	assert.Equal(t, w.block("b5").End, times[1].End)
	assert.Equal(t, times, models.Collapse(times, svc.cfg.DisplayTolerance))

	again, err := svc.SectionTimes(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, times, again)
}
