package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/course-scheduling-api/pkg/errors"
)

type lifecycleServiceMock struct {
	calls       []string
	accepted    bool
	deleted     bool
	override    bool
	explanation string
	email       bool
	err         error
}

func (m *lifecycleServiceMock) record(call string) { m.calls = append(m.calls, call) }

func (m *lifecycleServiceMock) AcceptSubject(ctx context.Context, id string) (bool, error) {
	m.record("accept subject")
	return m.accepted, m.err
}

func (m *lifecycleServiceMock) ProposeSubject(ctx context.Context, id string) error {
	m.record("propose subject")
	return m.err
}

func (m *lifecycleServiceMock) RejectSubject(ctx context.Context, id string) error {
	m.record("reject subject")
	return m.err
}

func (m *lifecycleServiceMock) CancelSubject(ctx context.Context, id, explanation string, emailStudents bool) error {
	m.record("cancel subject")
	m.explanation, m.email = explanation, emailStudents
	return m.err
}

func (m *lifecycleServiceMock) AcceptSection(ctx context.Context, id string) (bool, error) {
	m.record("accept section")
	return m.accepted, m.err
}

func (m *lifecycleServiceMock) ProposeSection(ctx context.Context, id string) error {
	m.record("propose section")
	return m.err
}

func (m *lifecycleServiceMock) RejectSection(ctx context.Context, id string) error {
	m.record("reject section")
	return m.err
}

func (m *lifecycleServiceMock) CancelSection(ctx context.Context, id, explanation string, emailStudents bool) error {
	m.record("cancel section")
	m.explanation, m.email = explanation, emailStudents
	return m.err
}

func (m *lifecycleServiceMock) DeleteSection(ctx context.Context, id string, adminOverride bool) (bool, error) {
	m.record("delete section")
	m.override = adminOverride
	return m.deleted, m.err
}

func (m *lifecycleServiceMock) DeleteSubject(ctx context.Context, id string, adminOverride bool) (bool, error) {
	m.record("delete subject")
	m.override = adminOverride
	return m.deleted, m.err
}

func TestLifecycleHandlerDispatchesActions(t *testing.T) {
	mock := &lifecycleServiceMock{accepted: true}
	handler := NewLifecycleHandler(mock)

	for _, action := range []string{ActionAccept, ActionPropose, ActionReject} {
		c, w := newJSONContext(http.MethodPost, "/sections/s1/status/"+action, nil)
		c.Params = gin.Params{{Key: "id", Value: "s1"}, {Key: "action", Value: action}}
		handler.SectionStatus(c)
		require.Equal(t, http.StatusOK, w.Code, action)
	}
	assert.Equal(t, []string{"accept section", "propose section", "reject section"}, mock.calls)
}

func TestLifecycleHandlerAcceptUnchanged(t *testing.T) {
	handler := NewLifecycleHandler(&lifecycleServiceMock{})
	c, w := newJSONContext(http.MethodPost, "/subjects/m1/status/accept", nil)
	c.Params = gin.Params{{Key: "id", Value: "m1"}, {Key: "action", Value: ActionAccept}}

	handler.SubjectStatus(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"changed":false`)
}

func TestLifecycleHandlerCancelReadsBody(t *testing.T) {
	mock := &lifecycleServiceMock{}
	handler := NewLifecycleHandler(mock)
	c, w := newJSONContext(http.MethodPost, "/subjects/m1/status/cancel", map[string]interface{}{"explanation": "Teacher is ill", "emailStudents": true})
	c.Params = gin.Params{{Key: "id", Value: "m1"}, {Key: "action", Value: ActionCancel}}

	handler.SubjectStatus(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Teacher is ill", mock.explanation)
	assert.True(t, mock.email)
}

func TestLifecycleHandlerCancelWithoutBody(t *testing.T) {
	mock := &lifecycleServiceMock{}
	handler := NewLifecycleHandler(mock)
	c, w := newJSONContext(http.MethodPost, "/sections/s1/status/cancel", nil)
	c.Params = gin.Params{{Key: "id", Value: "s1"}, {Key: "action", Value: ActionCancel}}

	handler.SectionStatus(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"cancel section"}, mock.calls)
}

func TestLifecycleHandlerUnknownAction(t *testing.T) {
	mock := &lifecycleServiceMock{}
	handler := NewLifecycleHandler(mock)
	c, w := newJSONContext(http.MethodPost, "/sections/s1/status/archive", nil)
	c.Params = gin.Params{{Key: "id", Value: "s1"}, {Key: "action", Value: "archive"}}

	handler.SectionStatus(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, mock.calls)
}

func TestLifecycleHandlerTerminalStateConflict(t *testing.T) {
	handler := NewLifecycleHandler(&lifecycleServiceMock{err: appErrors.Clone(appErrors.ErrConflict, "cancelled sections cannot be rejected")})
	c, w := newJSONContext(http.MethodPost, "/sections/s1/status/reject", nil)
	c.Params = gin.Params{{Key: "id", Value: "s1"}, {Key: "action", Value: ActionReject}}

	handler.SectionStatus(c)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestLifecycleHandlerDeleteBlockedByStudents(t *testing.T) {
	mock := &lifecycleServiceMock{}
	handler := NewLifecycleHandler(mock)
	c, w := newJSONContext(http.MethodDelete, "/sections/s1", nil)
	c.Params = gin.Params{{Key: "id", Value: "s1"}}

	handler.DeleteSection(c)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.False(t, mock.override)

	mock.deleted = true
	c, w = newJSONContext(http.MethodDelete, "/subjects/m1?adminOverride=true", nil)
	c.Params = gin.Params{{Key: "id", Value: "m1"}}
	handler.DeleteSubject(c)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, mock.override)
}
