package model

import (
	"time"

	"github.com/google/uuid"
)

type SessionStatus string

const (
	SessionActive  SessionStatus = "active"
	SessionStopped SessionStatus = "stopped"
)

// Session is a named, resumable execution context. Which session is
// "active" for a chat is tracked as a separate chat->session mapping, not
// a field here, since a session may be referenced from more than one place.
type Session struct {
	ID          string
	ChatID      int64
	Name        string
	Status      SessionStatus
	DerivedFrom string // parent session id for forks; lookup relation only
	CreatedAt   time.Time
	LastUsedAt  time.Time
}

func NewSession(chatID int64, name, derivedFrom string) *Session {
	now := time.Now()
	return &Session{
		ID:          uuid.NewString(),
		ChatID:      chatID,
		Name:        name,
		Status:      SessionActive,
		DerivedFrom: derivedFrom,
		CreatedAt:   now,
		LastUsedAt:  now,
	}
}
