// File: internal/usecase/session_uc.go
package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"telegram-agent-runner/internal/domain"
	"telegram-agent-runner/internal/domain/model"
	"telegram-agent-runner/internal/domain/ports/repository"
	red "telegram-agent-runner/internal/infra/redis"
)

// Compile-time check
var _ SessionUseCase = (*sessionUC)(nil)

type SessionUseCase interface {
	Create(ctx context.Context, chatID int64, name string) (*model.Session, error)
	// Activate makes the session the chat's active one, by id or name.
	// A stopped session is brought back to active.
	Activate(ctx context.Context, chatID int64, ref string) (*model.Session, error)
	// Fork creates a new session derived from sourceRef, or from the chat's
	// active session when sourceRef is empty. The fork becomes active.
	Fork(ctx context.Context, chatID int64, sourceRef, name string) (*model.Session, error)
	Stop(ctx context.Context, chatID int64, ref string) (*model.Session, error)
	List(ctx context.Context, chatID int64) ([]*model.Session, error)
	Active(ctx context.Context, chatID int64) (*model.Session, error)
	Resolve(ctx context.Context, chatID int64, ref string) (*model.Session, error)
	Touch(ctx context.Context, sessionID string) error
}

const sessionLockTTL = 10 * time.Second

type sessionUC struct {
	sessions repository.SessionRepository
	locker   red.Locker
}

func NewSessionUseCase(sessions repository.SessionRepository, locker red.Locker) *sessionUC {
	return &sessionUC{sessions: sessions, locker: locker}
}

func (u *sessionUC) Create(ctx context.Context, chatID int64, name string) (*model.Session, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		// Anonymous sessions get a generated name; uniqueness comes from
		// the uuid prefix.
		name = "session-" + uuid.NewString()[:8]
	}

	token, err := u.locker.TryLock(ctx, red.ChatSessionKey(chatID), sessionLockTTL)
	if err != nil {
		return nil, err
	}
	defer u.locker.Unlock(ctx, red.ChatSessionKey(chatID), token)

	if existing, err := u.sessions.FindByName(ctx, nil, chatID, name); err == nil && existing.Status != model.SessionStopped {
		return nil, fmt.Errorf("session %q: %w", name, domain.ErrDuplicateName)
	}

	s := model.NewSession(chatID, name, "")
	if err := u.sessions.Save(ctx, nil, s); err != nil {
		return nil, err
	}
	return s, nil
}

func (u *sessionUC) Activate(ctx context.Context, chatID int64, ref string) (*model.Session, error) {
	token, err := u.locker.TryLock(ctx, red.ChatSessionKey(chatID), sessionLockTTL)
	if err != nil {
		return nil, err
	}
	defer u.locker.Unlock(ctx, red.ChatSessionKey(chatID), token)

	s, err := u.Resolve(ctx, chatID, ref)
	if err != nil {
		return nil, err
	}
	if s.Status == model.SessionStopped {
		if err := u.sessions.UpdateStatus(ctx, nil, s.ID, model.SessionActive); err != nil {
			return nil, err
		}
		s.Status = model.SessionActive
	}
	if err := u.sessions.SetActiveSession(ctx, nil, chatID, s.ID); err != nil {
		return nil, err
	}
	if err := u.sessions.Touch(ctx, nil, s.ID); err != nil {
		return nil, err
	}
	s.LastUsedAt = time.Now()
	return s, nil
}

func (u *sessionUC) Fork(ctx context.Context, chatID int64, sourceRef, name string) (*model.Session, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("fork name: %w", domain.ErrInvalidArgument)
	}

	token, err := u.locker.TryLock(ctx, red.ChatSessionKey(chatID), sessionLockTTL)
	if err != nil {
		return nil, err
	}
	defer u.locker.Unlock(ctx, red.ChatSessionKey(chatID), token)

	var source *model.Session
	if sourceRef == "" {
		source, err = u.Active(ctx, chatID)
		if err != nil {
			return nil, err
		}
	} else {
		source, err = u.Resolve(ctx, chatID, sourceRef)
		if err != nil {
			return nil, err
		}
	}

	if existing, err := u.sessions.FindByName(ctx, nil, chatID, name); err == nil && existing.Status != model.SessionStopped {
		return nil, fmt.Errorf("session %q: %w", name, domain.ErrDuplicateName)
	}

	fork := model.NewSession(chatID, name, source.ID)
	if err := u.sessions.Save(ctx, nil, fork); err != nil {
		return nil, err
	}
	if err := u.sessions.SetActiveSession(ctx, nil, chatID, fork.ID); err != nil {
		return nil, err
	}
	return fork, nil
}

func (u *sessionUC) Stop(ctx context.Context, chatID int64, ref string) (*model.Session, error) {
	token, err := u.locker.TryLock(ctx, red.ChatSessionKey(chatID), sessionLockTTL)
	if err != nil {
		return nil, err
	}
	defer u.locker.Unlock(ctx, red.ChatSessionKey(chatID), token)

	var s *model.Session
	if ref == "" {
		s, err = u.Active(ctx, chatID)
	} else {
		s, err = u.Resolve(ctx, chatID, ref)
	}
	if err != nil {
		return nil, err
	}

	// Stopping twice is a no-op.
	if s.Status != model.SessionStopped {
		if err := u.sessions.UpdateStatus(ctx, nil, s.ID, model.SessionStopped); err != nil {
			return nil, err
		}
		s.Status = model.SessionStopped
	}

	if activeID, err := u.sessions.GetActiveSession(ctx, nil, chatID); err == nil && activeID == s.ID {
		if err := u.sessions.SetActiveSession(ctx, nil, chatID, ""); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (u *sessionUC) List(ctx context.Context, chatID int64) ([]*model.Session, error) {
	return u.sessions.ListByChat(ctx, nil, chatID)
}

func (u *sessionUC) Active(ctx context.Context, chatID int64) (*model.Session, error) {
	id, err := u.sessions.GetActiveSession(ctx, nil, chatID)
	if err != nil {
		return nil, err
	}
	if id == "" {
		return nil, domain.ErrNoActiveSession
	}
	s, err := u.sessions.FindByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	// A stopped session never counts as active.
	if s.Status == model.SessionStopped {
		return nil, domain.ErrNoActiveSession
	}
	return s, nil
}

// Resolve looks ref up as a session id first, then as a name within the chat.
func (u *sessionUC) Resolve(ctx context.Context, chatID int64, ref string) (*model.Session, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, fmt.Errorf("session reference: %w", domain.ErrInvalidArgument)
	}
	if s, err := u.sessions.FindByID(ctx, nil, ref); err == nil && s.ChatID == chatID {
		return s, nil
	}
	return u.sessions.FindByName(ctx, nil, chatID, ref)
}

func (u *sessionUC) Touch(ctx context.Context, sessionID string) error {
	return u.sessions.Touch(ctx, nil, sessionID)
}
