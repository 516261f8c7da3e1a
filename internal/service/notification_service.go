package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/course-scheduling-api/pkg/jobs"
	"github.com/noah-isme/course-scheduling-api/pkg/mail"
)

// Job types handled by NotificationService.
const (
	JobSendMail         = "mail.send"
	JobListAddMember    = "list.add"
	JobListRemoveMember = "list.remove"
)

type jobQueue interface {
	TryEnqueue(job jobs.Job) error
}

type mailingListStore interface {
	AddMember(ctx context.Context, list, address string) error
	RemoveMember(ctx context.Context, list, address string) error
}

// ListMembership is the payload of the mailing-list jobs.
type ListMembership struct {
	Lists   []string
	Address string
}

// NotificationService queues best-effort mail and mailing-list updates and
// processes them on the job queue.
type NotificationService struct {
	queue  jobQueue
	sender mail.Sender
	lists  mailingListStore
	logger *zap.Logger
}

// NewNotificationService constructs a NotificationService. The queue may be
// attached later with SetQueue since the queue needs Handle first.
func NewNotificationService(sender mail.Sender, lists mailingListStore, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{sender: sender, lists: lists, logger: logger}
}

// SetQueue attaches the queue jobs are pushed to.
func (s *NotificationService) SetQueue(queue jobQueue) {
	if s == nil {
		return
	}
	s.queue = queue
}

// Notify queues an e-mail.
func (s *NotificationService) Notify(msg mail.Message) {
	if s == nil || len(msg.Recipients) == 0 {
		return
	}
	s.enqueue(JobSendMail, msg)
}

// Subscribe queues adding address to every list.
func (s *NotificationService) Subscribe(address string, lists ...string) {
	if s == nil || address == "" || len(lists) == 0 {
		return
	}
	s.enqueue(JobListAddMember, ListMembership{Lists: lists, Address: address})
}

// Unsubscribe queues removing address from every list.
func (s *NotificationService) Unsubscribe(address string, lists ...string) {
	if s == nil || address == "" || len(lists) == 0 {
		return
	}
	s.enqueue(JobListRemoveMember, ListMembership{Lists: lists, Address: address})
}

func (s *NotificationService) enqueue(typ string, payload interface{}) {
	if s.queue == nil {
		s.logger.Warn("notification dropped, no queue", zap.String("type", typ))
		return
	}
	job := jobs.Job{ID: uuid.NewString(), Type: typ, Payload: payload}
	if err := s.queue.TryEnqueue(job); err != nil {
		s.logger.Warn("notification dropped", zap.String("type", typ), zap.Error(err))
	}
}

// Handle executes one queued job.
func (s *NotificationService) Handle(ctx context.Context, job jobs.Job) error {
	switch job.Type {
	case JobSendMail:
		msg, ok := job.Payload.(mail.Message)
		if !ok {
			return fmt.Errorf("job %s: unexpected payload %T", job.ID, job.Payload)
		}
		return s.sender.Send(ctx, msg)
	case JobListAddMember, JobListRemoveMember:
		m, ok := job.Payload.(ListMembership)
		if !ok {
			return fmt.Errorf("job %s: unexpected payload %T", job.ID, job.Payload)
		}
		var errs []error
		for _, list := range m.Lists {
			var err error
			if job.Type == JobListAddMember {
				err = s.lists.AddMember(ctx, list, m.Address)
			} else {
				err = s.lists.RemoveMember(ctx, list, m.Address)
			}
			if err != nil {
				errs = append(errs, fmt.Errorf("list %s: %w", list, err))
			}
		}
		return errors.Join(errs...)
	default:
		return fmt.Errorf("unknown job type %q", job.Type)
	}
}
