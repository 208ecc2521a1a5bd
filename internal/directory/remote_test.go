package directory

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dkeye/Pulse/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRemoteDirectory(t *testing.T) {
	var saved domain.Message
	var count int
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/users/u1", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"u1","username":"alice","status":"banned"}`))
	})
	mux.HandleFunc("/v1/conversations/c1/participants", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"participants":["b","d"]}`))
	})
	mux.HandleFunc("/v1/conversations/c1/messages", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&saved))
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("/v1/streams/live", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"live","owner_id":"s","status":"live","access_type":"paid"}`))
	})
	mux.HandleFunc("/v1/streams/live/access", func(w http.ResponseWriter, r *http.Request) {
		allowed := r.URL.Query().Get("user_id") == "buyer"
		_ = json.NewEncoder(w).Encode(map[string]bool{"allowed": allowed})
	})
	mux.HandleFunc("/v1/streams/live/viewer-count", func(w http.ResponseWriter, r *http.Request) {
		var body struct{ Count int }
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		count = body.Count
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/v1/streams/broken", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	d := NewRemote(srv.URL, srv.Client())
	ctx := context.Background()

	u, err := d.User(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, u.Banned())
	_, err = d.User(ctx, "u2")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	p, err := d.ConversationParticipants(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, []domain.UserID{"b", "d"}, p)

	st, err := d.Stream(ctx, "live")
	require.NoError(t, err)
	assert.Equal(t, domain.AccessPaid, st.Access)
	ok, err := d.HasStreamAccess(ctx, st, "buyer")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = d.HasStreamAccess(ctx, st, "someone")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = d.Stream(ctx, "broken")
	assert.ErrorIs(t, err, domain.ErrTransient)

	msg := domain.Message{ID: "m1", ConversationID: "c1", SenderID: "b", Content: "hi", Type: domain.MessageText, CreatedAt: time.Now().UTC()}
	require.NoError(t, d.SaveMessage(ctx, msg))
	assert.Equal(t, "m1", saved.ID)

	require.NoError(t, d.UpdateViewerCount(ctx, "live", 3))
	assert.Equal(t, 3, count)
}

func TestRemoteDirectoryUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	_, err := NewRemote(addr, nil).User(context.Background(), "u1")
	assert.ErrorIs(t, err, domain.ErrTransient)
}
