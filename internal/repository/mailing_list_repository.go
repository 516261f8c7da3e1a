package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// MailingListRepository maintains list memberships.
type MailingListRepository struct {
	db *sqlx.DB
}

// NewMailingListRepository constructs a MailingListRepository.
func NewMailingListRepository(db *sqlx.DB) *MailingListRepository {
	return &MailingListRepository{db: db}
}

// AddMember subscribes address to list. Existing members are left alone.
func (r *MailingListRepository) AddMember(ctx context.Context, list, address string) error {
	const query = "INSERT INTO mailing_list_members (list_name, address, created_at) VALUES ($1, $2, $3) ON CONFLICT (list_name, address) DO NOTHING"
	if _, err := r.db.ExecContext(ctx, query, list, address, time.Now().UTC()); err != nil {
		return fmt.Errorf("add mailing list member: %w", err)
	}
	return nil
}

// RemoveMember unsubscribes address from list.
func (r *MailingListRepository) RemoveMember(ctx context.Context, list, address string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM mailing_list_members WHERE list_name = $1 AND address = $2", list, address); err != nil {
		return fmt.Errorf("remove mailing list member: %w", err)
	}
	return nil
}
