package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/course-scheduling-api/internal/models"
	"github.com/noah-isme/course-scheduling-api/internal/service"
	appErrors "github.com/noah-isme/course-scheduling-api/pkg/errors"
)

type schedulingServiceMock struct {
	assignReq    service.AssignRoomRequest
	assignResult *service.AssignRoomResult
	startResult  *service.StartTimeResult
	startForce   bool
	ignored      bool
	status       models.SchedulingStatus
	err          error
}

func (m *schedulingServiceMock) SectionTimes(ctx context.Context, sectionID string) ([]models.TimeBlock, error) {
	return []models.TimeBlock{{ID: "b1"}}, m.err
}

func (m *schedulingServiceMock) ViableTimes(ctx context.Context, sectionID string, ignoreClasses bool) ([]models.TimeBlock, error) {
	m.ignored = ignoreClasses
	return nil, m.err
}

func (m *schedulingServiceMock) ViableRooms(ctx context.Context, sectionID string) ([]models.Resource, error) {
	return nil, m.err
}

func (m *schedulingServiceMock) AssignRoom(ctx context.Context, sectionID string, req service.AssignRoomRequest) (*service.AssignRoomResult, error) {
	m.assignReq = req
	return m.assignResult, m.err
}

func (m *schedulingServiceMock) AssignStartTime(ctx context.Context, sectionID, firstBlockID string, force bool) (*service.StartTimeResult, error) {
	m.startForce = force
	return m.startResult, m.err
}

func (m *schedulingServiceMock) SchedulingStatus(ctx context.Context, sectionID string) (models.SchedulingStatus, error) {
	return m.status, m.err
}

func (m *schedulingServiceMock) ClearRooms(ctx context.Context, sectionID string) (int64, error) {
	return 2, m.err
}

func (m *schedulingServiceMock) ClearFloatingResources(ctx context.Context, sectionID string) (int64, error) {
	return 0, m.err
}

func newJSONContext(method, target string, payload interface{}) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	var body []byte
	switch p := payload.(type) {
	case nil:
	case string:
		body = []byte(p)
	default:
		body, _ = json.Marshal(p)
	}
	req, _ := http.NewRequest(method, target, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	return c, w
}

func TestSchedulingHandlerAssignRoomConflict(t *testing.T) {
	mock := &schedulingServiceMock{assignResult: &service.AssignRoomResult{Messages: []string{"Room R101 is occupied"}}}
	handler := NewSchedulingHandler(mock)
	c, w := newJSONContext(http.MethodPost, "/sections/s1/rooms", map[string]interface{}{"roomName": "R101", "compromise": true})
	c.Params = gin.Params{{Key: "id", Value: "s1"}}

	handler.AssignRoom(c)
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "occupied")
	assert.Equal(t, "R101", mock.assignReq.RoomName)
	assert.True(t, mock.assignReq.Compromise)
}

func TestSchedulingHandlerAssignRoomRequiresName(t *testing.T) {
	handler := NewSchedulingHandler(&schedulingServiceMock{})
	c, w := newJSONContext(http.MethodPost, "/sections/s1/rooms", `{"compromise":true}`)
	c.Params = gin.Params{{Key: "id", Value: "s1"}}

	handler.AssignRoom(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSchedulingHandlerStartTimeReason(t *testing.T) {
	mock := &schedulingServiceMock{startResult: &service.StartTimeResult{Reason: "The teacher Ada is unavailable"}}
	handler := NewSchedulingHandler(mock)
	c, w := newJSONContext(http.MethodPost, "/sections/s1/start-time", map[string]interface{}{"timeBlockId": "b2", "force": true})
	c.Params = gin.Params{{Key: "id", Value: "s1"}}

	handler.AssignStartTime(c)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.True(t, mock.startForce)
}

func TestSchedulingHandlerViableTimesPassesFlag(t *testing.T) {
	mock := &schedulingServiceMock{}
	handler := NewSchedulingHandler(mock)
	c, w := newJSONContext(http.MethodGet, "/sections/s1/viable-times?ignoreClasses=true", nil)

	handler.ViableTimes(c)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, mock.ignored)
}

func TestSchedulingHandlerStatusError(t *testing.T) {
	handler := NewSchedulingHandler(&schedulingServiceMock{err: appErrors.Clone(appErrors.ErrNotFound, "section not found")})
	c, w := newJSONContext(http.MethodGet, "/sections/nope/scheduling-status", nil)

	handler.Status(c)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "section not found")
}
