package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/course-scheduling-api/pkg/jobs"
	"github.com/noah-isme/course-scheduling-api/pkg/mail"
)

type queueStub struct {
	jobs []jobs.Job
	err  error
}

func (q *queueStub) TryEnqueue(job jobs.Job) error {
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

type senderStub struct{ sent []mail.Message }

func (s *senderStub) Send(_ context.Context, msg mail.Message) error {
	s.sent = append(s.sent, msg)
	return nil
}

type listStoreStub struct {
	members map[string][]string
	fail    string
}

func (l *listStoreStub) AddMember(_ context.Context, list, address string) error {
	if list == l.fail {
		return errors.New("list server unavailable")
	}
	if l.members == nil {
		l.members = map[string][]string{}
	}
	l.members[list] = append(l.members[list], address)
	return nil
}

func (l *listStoreStub) RemoveMember(_ context.Context, list, address string) error {
	kept := l.members[list][:0]
	for _, m := range l.members[list] {
		if m != address {
			kept = append(kept, m)
		}
	}
	l.members[list] = kept
	return nil
}

func TestNotificationQueuesAndHandlesJobs(t *testing.T) {
	sender := &senderStub{}
	lists := &listStoreStub{}
	queue := &queueStub{}
	svc := NewNotificationService(sender, lists, nil)
	svc.SetQueue(queue)

	svc.Notify(mail.Message{Subject: "hi", Recipients: []string{"a@example.org"}})
	svc.Notify(mail.Message{Subject: "nobody"})
	svc.Subscribe("a@example.org", "M1s1-students", "M1-students")
	svc.Unsubscribe("a@example.org", "M1s1-students")
	require.Len(t, queue.jobs, 3)
	assert.Equal(t, JobSendMail, queue.jobs[0].Type)
	assert.NotEmpty(t, queue.jobs[0].ID)

	for _, job := range queue.jobs {
		require.NoError(t, svc.Handle(context.Background(), job))
	}
	require.Len(t, sender.sent, 1)
	assert.Empty(t, lists.members["M1s1-students"])
	assert.Equal(t, []string{"a@example.org"}, lists.members["M1-students"])
}

func TestNotificationHandleJoinsListErrors(t *testing.T) {
	lists := &listStoreStub{fail: "bad"}
	svc := NewNotificationService(&senderStub{}, lists, nil)

	err := svc.Handle(context.Background(), jobs.Job{ID: "1", Type: JobListAddMember, Payload: ListMembership{Lists: []string{"bad", "good"}, Address: "a@example.org"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list bad")
	assert.Equal(t, []string{"a@example.org"}, lists.members["good"])

	require.Error(t, svc.Handle(context.Background(), jobs.Job{ID: "2", Type: "other"}))
	require.Error(t, svc.Handle(context.Background(), jobs.Job{ID: "3", Type: JobSendMail, Payload: "text"}))
}

func TestNotificationWithoutQueueDrops(t *testing.T) {
	var nilSvc *NotificationService
	nilSvc.Notify(mail.Message{Subject: "x", Recipients: []string{"a@example.org"}})
	nilSvc.Subscribe("a@example.org", "list")

	full := &queueStub{err: jobs.ErrQueueFull}
	svc := NewNotificationService(&senderStub{}, &listStoreStub{}, nil)
	svc.Subscribe("a@example.org", "list")
	svc.SetQueue(full)
	svc.Subscribe("a@example.org", "list")
	assert.Empty(t, full.jobs)
}
