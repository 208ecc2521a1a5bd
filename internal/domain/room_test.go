package domain

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveRoomID(t *testing.T) {
	id, err := ResolveRoomID(KindStream, "42")
	require.NoError(t, err)
	assert.Equal(t, RoomID("stream:42"), id)
	assert.Equal(t, KindStream, id.Kind())
	assert.Equal(t, "42", id.Ref())

	id, err = ResolveRoomID("", "conversation:abc")
	require.NoError(t, err)
	assert.Equal(t, RoomID("conversation:abc"), id)

	id, err = ResolveRoomID(KindConversation, "conversation:abc")
	require.NoError(t, err)
	assert.Equal(t, RoomID("conversation:abc"), id)

	_, err = ResolveRoomID(KindStream, "conversation:abc")
	assert.ErrorIs(t, err, ErrBadRequest)

	_, err = ResolveRoomID("lobby", "x")
	assert.ErrorIs(t, err, ErrBadRequest)

	_, err = ResolveRoomID(KindStream, "")
	assert.ErrorIs(t, err, ErrBadRequest)
}

func TestParseRoomID(t *testing.T) {
	kind, ref, err := ParseRoomID("user:u1")
	require.NoError(t, err)
	assert.Equal(t, KindUser, kind)
	assert.Equal(t, "u1", ref)

	_, _, err = ParseRoomID("u1")
	assert.ErrorIs(t, err, ErrBadRequest)
}

func TestSharedKinds(t *testing.T) {
	assert.True(t, KindStream.Shared())
	assert.True(t, KindConversation.Shared())
	assert.False(t, KindUser.Shared())
}

func TestCode(t *testing.T) {
	assert.Equal(t, "forbidden", Code(fmt.Errorf("join: %w", ErrForbidden)))
	assert.Equal(t, "not_found", Code(ErrNotFound))
	assert.Equal(t, "internal", Code(fmt.Errorf("boom")))
	assert.Equal(t, "", Code(nil))
}
