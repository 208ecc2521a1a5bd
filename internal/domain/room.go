package domain

import (
	"fmt"
	"strings"
)

type RoomKind string

const (
	KindUser         RoomKind = "user"
	KindConversation RoomKind = "conversation"
	KindStream       RoomKind = "stream"
)

const maxRoomRefLen = 128

func (k RoomKind) Valid() bool {
	switch k {
	case KindUser, KindConversation, KindStream:
		return true
	}
	return false
}

// Shared rooms announce joins and leaves to their other members.
func (k RoomKind) Shared() bool {
	return k == KindConversation || k == KindStream
}

// RoomID is kind-qualified: "stream:42", "conversation:abc", "user:u1".
type RoomID string

func NewRoomID(kind RoomKind, ref string) RoomID {
	return RoomID(string(kind) + ":" + ref)
}

// UserRoom is the notification channel of a single user.
func UserRoom(uid UserID) RoomID {
	return NewRoomID(KindUser, string(uid))
}

// ParseRoomID splits a qualified room id into its kind and reference.
func ParseRoomID(raw string) (RoomKind, string, error) {
	kind, ref, ok := strings.Cut(raw, ":")
	if !ok {
		return "", "", fmt.Errorf("room id %q is not kind-qualified: %w", raw, ErrBadRequest)
	}
	return checkRoomRef(RoomKind(kind), ref)
}

// ResolveRoomID accepts either a qualified id or a bare reference plus kind,
// as sent by room.join.
func ResolveRoomID(kind RoomKind, raw string) (RoomID, error) {
	if k, ref, ok := strings.Cut(raw, ":"); ok && RoomKind(k).Valid() {
		if kind != "" && RoomKind(k) != kind {
			return "", fmt.Errorf("room id %q does not match kind %q: %w", raw, kind, ErrBadRequest)
		}
		kind, raw = RoomKind(k), ref
	}
	kind, ref, err := checkRoomRef(kind, raw)
	if err != nil {
		return "", err
	}
	return NewRoomID(kind, ref), nil
}

func checkRoomRef(kind RoomKind, ref string) (RoomKind, string, error) {
	if !kind.Valid() {
		return "", "", fmt.Errorf("unknown room kind %q: %w", kind, ErrBadRequest)
	}
	if ref == "" || len(ref) > maxRoomRefLen {
		return "", "", fmt.Errorf("invalid room reference %q: %w", ref, ErrBadRequest)
	}
	return kind, ref, nil
}

func (id RoomID) Kind() RoomKind {
	kind, _, _ := strings.Cut(string(id), ":")
	return RoomKind(kind)
}

// Ref is the id of the underlying conversation, stream or user.
func (id RoomID) Ref() string {
	_, ref, _ := strings.Cut(string(id), ":")
	return ref
}
