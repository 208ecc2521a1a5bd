// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"strings"
)

const (
	MaxUserIDLen   = 64
	MaxUsernameLen = 64
)

var (
	ErrUserIDEmpty   = errors.New("user id empty")
	ErrUserIDTooLong = errors.New("user id too long")
)

type UserID string

// UserStatus is the account state reported by the user directory.
type UserStatus string

const (
	UserActive UserStatus = "active"
	UserBanned UserStatus = "banned"
)

type User struct {
	ID       UserID     `json:"id"`
	Username string     `json:"username"`
	Avatar   string     `json:"avatar,omitempty"`
	Status   UserStatus `json:"status"`
}

// Banned reports whether the user may not open connections.
func (u *User) Banned() bool {
	return u.Status == UserBanned
}

// Public is the identity other room members are allowed to see.
func (u *User) Public() PublicUser {
	return PublicUser{ID: u.ID, Username: u.Username, Avatar: u.Avatar}
}

type PublicUser struct {
	ID       UserID `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
}

// Identity is what the identity validator extracts from a bearer credential.
type Identity struct {
	UserID   UserID
	Username string
}

func ParseUserID(raw string) (UserID, error) {
	raw = strings.TrimSpace(raw)
	if len(raw) == 0 {
		return "", ErrUserIDEmpty
	}
	if len(raw) > MaxUserIDLen {
		return "", ErrUserIDTooLong
	}
	return UserID(raw), nil
}
