package repository

import (
	"context"

	"telegram-agent-runner/internal/domain/model"
)

type SessionRepository interface {
	Save(ctx context.Context, qx Tx, session *model.Session) error
	FindByID(ctx context.Context, qx Tx, id string) (*model.Session, error)
	// FindByName matches case-insensitively within the chat scope.
	FindByName(ctx context.Context, qx Tx, chatID int64, name string) (*model.Session, error)
	// ListByChat returns sessions ordered by last_used_at descending.
	ListByChat(ctx context.Context, qx Tx, chatID int64) ([]*model.Session, error)
	UpdateStatus(ctx context.Context, qx Tx, id string, status model.SessionStatus) error
	Touch(ctx context.Context, qx Tx, id string) error

	// Active-session mapping, one entry per chat. Setting an empty session id
	// clears the mapping.
	GetActiveSession(ctx context.Context, qx Tx, chatID int64) (string, error)
	SetActiveSession(ctx context.Context, qx Tx, chatID int64, sessionID string) error
}
