// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"strings"
)

const (
	MaxUserIDLen      = 128
	MaxDisplayNameLen = 64
	MaxAvatarRefLen   = 1024
)

var (
	ErrUserIDEmpty        = errors.New("user id empty")
	ErrUserIDTooLong      = errors.New("user id too long")
	ErrUserIDSeparator    = errors.New("user id contains the session separator")
	ErrDisplayNameTooLong = errors.New("display name too long")
	ErrAvatarRefTooLong   = errors.New("avatar ref too long")
)

// UserID is the stable identity issued by the external identity provider.
type UserID string

// ConnectionID is assigned by the transport to one live connection.
type ConnectionID string

type User struct {
	ID          UserID `json:"userId"`
	DisplayName string `json:"displayName"`
	AvatarRef   string `json:"avatarRef,omitempty"`
}

// NewUser validates identity fields coming from a register message.
// An empty display name falls back to the user id.
func NewUser(id, displayName, avatarRef string) (*User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrUserIDEmpty
	}
	if len(id) > MaxUserIDLen {
		return nil, ErrUserIDTooLong
	}
	// session ids join two user ids with the separator
	if strings.Contains(id, SessionSeparator) {
		return nil, ErrUserIDSeparator
	}
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		displayName = id
	}
	if len(displayName) > MaxDisplayNameLen {
		return nil, ErrDisplayNameTooLong
	}
	if len(avatarRef) > MaxAvatarRefLen {
		return nil, ErrAvatarRefTooLong
	}
	return &User{ID: UserID(id), DisplayName: displayName, AvatarRef: avatarRef}, nil
}
