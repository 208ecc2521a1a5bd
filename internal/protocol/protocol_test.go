package protocol

import (
	"encoding/json"
	"testing"

	"github.com/dkeye/Pulse/internal/core"
	"github.com/dkeye/Pulse/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeKnownEvents(t *testing.T) {
	cases := []struct {
		in   string
		want Inbound
	}{
		{`{"type":"ping"}`, Ping{}},
		{`{"type":"room.join","roomKind":"stream","roomId":"42"}`, RoomJoin{RoomKind: domain.KindStream, RoomID: "42"}},
		{`{"type":"room.leave","roomId":"stream:42"}`, RoomLeave{RoomID: "stream:42"}},
		{`{"type":"chat.send","roomId":"conversation:c","content":"hi","messageType":"text"}`,
			ChatSend{RoomID: "conversation:c", Content: "hi", MessageType: domain.MessageText}},
		{`{"type":"presence.typing-start","roomId":"conversation:c"}`, TypingStart{RoomID: "conversation:c"}},
		{`{"type":"presence.typing-stop","roomId":"conversation:c"}`, TypingStop{RoomID: "conversation:c"}},
		{`{"type":"stream.chat","roomId":"stream:1","content":"yo"}`, StreamChat{RoomID: "stream:1", Content: "yo"}},
		{`{"type":"stream.reaction","roomId":"stream:1","reaction":"heart"}`, StreamReaction{RoomID: "stream:1", Reaction: "heart"}},
	}
	for _, tc := range cases {
		ev, op, err := Decode([]byte(tc.in))
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, ev)
		assert.Equal(t, tc.want.Op(), op)
	}
}

func TestDecodeSignalKeepsPayloadOpaque(t *testing.T) {
	raw := `{"type":"signal.answer","targetConnectionId":"c2","payload":{"sdp":"v=0\r\n","type":"answer","x":[1,2]}}`
	ev, _, err := Decode([]byte(raw))
	require.NoError(t, err)
	ans, ok := ev.(SignalAnswer)
	require.True(t, ok)
	assert.Equal(t, core.ConnID("c2"), ans.Target)
	assert.JSONEq(t, `{"sdp":"v=0\r\n","type":"answer","x":[1,2]}`, string(ans.Payload))

	ev, _, err = Decode([]byte(`{"type":"signal.ice","roomId":"stream:1","payload":"candidate:1"}`))
	require.NoError(t, err)
	ice := ev.(SignalICE)
	assert.Equal(t, "stream:1", ice.RoomID)
	assert.Empty(t, ice.Target)
	assert.Equal(t, `"candidate:1"`, string(ice.Payload))
}

func TestDecodeRejectsUnknownAndMalformed(t *testing.T) {
	_, op, err := Decode([]byte(`{"type":"room.explode"}`))
	assert.ErrorIs(t, err, domain.ErrBadRequest)
	assert.Equal(t, "room.explode", op)

	_, _, err = Decode([]byte(`not json`))
	assert.ErrorIs(t, err, domain.ErrBadRequest)

	_, op, err = Decode([]byte(`{"type":"room.join","roomId":7}`))
	assert.ErrorIs(t, err, domain.ErrBadRequest)
	assert.Equal(t, OpRoomJoin, op)
}

func TestEncodeSignalPassesPayloadThrough(t *testing.T) {
	payload := json.RawMessage(`{"sdp":"opaque"}`)
	f, err := Encode(Signal{Type: EvSignalOffer, RoomID: "stream:1", From: "c1", Payload: payload})
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(f, &got))
	assert.Equal(t, EvSignalOffer, got["type"])
	assert.Equal(t, "c1", got["from"])
	assert.Equal(t, map[string]any{"sdp": "opaque"}, got["payload"])
}

func TestEncodeConnectedCarriesICEServers(t *testing.T) {
	f, err := Encode(Connected{
		Type:         EvConnected,
		ConnectionID: "c1",
		UserID:       "u1",
		ICEServers:   []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}},
	})
	require.NoError(t, err)
	assert.Contains(t, string(f), `"urls":["stun:stun.l.google.com:19302"]`)
}

func TestErrorFor(t *testing.T) {
	ev := ErrorFor(OpRoomJoin, domain.ErrForbidden)
	assert.Equal(t, EvError, ev.Type)
	assert.Equal(t, "forbidden", ev.Code)
	assert.Equal(t, OpRoomJoin, ev.Op)
}
