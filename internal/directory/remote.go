package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dkeye/Pulse/internal/domain"
)

// Remote talks to the platform's REST service that owns users,
// conversations and streams.
type Remote struct {
	base   string
	client *http.Client
}

func NewRemote(address string, client *http.Client) *Remote {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Remote{base: strings.TrimRight(address, "/"), client: client}
}

type userDoc struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
	Status   string `json:"status"`
}

type streamDoc struct {
	ID         string `json:"id"`
	OwnerID    string `json:"owner_id"`
	Title      string `json:"title"`
	Status     string `json:"status"`
	AccessType string `json:"access_type"`
}

func (r *Remote) User(ctx context.Context, id domain.UserID) (*domain.User, error) {
	var doc userDoc
	if err := r.do(ctx, http.MethodGet, "/v1/users/"+url.PathEscape(string(id)), nil, &doc); err != nil {
		return nil, fmt.Errorf("user %s: %w", id, err)
	}
	return &domain.User{
		ID:       id,
		Username: doc.Username,
		Avatar:   doc.Avatar,
		Status:   domain.UserStatus(doc.Status),
	}, nil
}

func (r *Remote) ConversationParticipants(ctx context.Context, conversationID string) ([]domain.UserID, error) {
	var doc struct {
		Participants []string `json:"participants"`
	}
	path := "/v1/conversations/" + url.PathEscape(conversationID) + "/participants"
	if err := r.do(ctx, http.MethodGet, path, nil, &doc); err != nil {
		return nil, fmt.Errorf("conversation %s: %w", conversationID, err)
	}
	out := make([]domain.UserID, 0, len(doc.Participants))
	for _, p := range doc.Participants {
		out = append(out, domain.UserID(p))
	}
	return out, nil
}

func (r *Remote) Stream(ctx context.Context, streamID string) (*domain.Stream, error) {
	var doc streamDoc
	if err := r.do(ctx, http.MethodGet, "/v1/streams/"+url.PathEscape(streamID), nil, &doc); err != nil {
		return nil, fmt.Errorf("stream %s: %w", streamID, err)
	}
	return &domain.Stream{
		ID:      streamID,
		OwnerID: domain.UserID(doc.OwnerID),
		Title:   doc.Title,
		Status:  domain.StreamStatus(doc.Status),
		Access:  domain.AccessType(doc.AccessType),
	}, nil
}

func (r *Remote) HasStreamAccess(ctx context.Context, st *domain.Stream, uid domain.UserID) (bool, error) {
	if st.OwnerID == uid || st.Access == domain.AccessFree {
		return true, nil
	}
	var doc struct {
		Allowed bool `json:"allowed"`
	}
	path := "/v1/streams/" + url.PathEscape(st.ID) + "/access?user_id=" + url.QueryEscape(string(uid))
	if err := r.do(ctx, http.MethodGet, path, nil, &doc); err != nil {
		return false, fmt.Errorf("stream access %s: %w", st.ID, err)
	}
	return doc.Allowed, nil
}

func (r *Remote) SaveMessage(ctx context.Context, msg domain.Message) error {
	path := "/v1/conversations/" + url.PathEscape(msg.ConversationID) + "/messages"
	if err := r.do(ctx, http.MethodPost, path, msg, nil); err != nil {
		return fmt.Errorf("save message %s: %w", msg.ID, err)
	}
	return nil
}

func (r *Remote) UpdateViewerCount(ctx context.Context, streamID string, count int) error {
	body := struct {
		Count int `json:"count"`
	}{count}
	path := "/v1/streams/" + url.PathEscape(streamID) + "/viewer-count"
	if err := r.do(ctx, http.MethodPut, path, body, nil); err != nil {
		return fmt.Errorf("viewer count %s: %w", streamID, err)
	}
	return nil
}

func (r *Remote) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrTransient, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return domain.ErrNotFound
	case resp.StatusCode == http.StatusForbidden:
		return domain.ErrForbidden
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return fmt.Errorf("status %d: %w", resp.StatusCode, domain.ErrTransient)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode: %w: %w", domain.ErrTransient, err)
	}
	return nil
}
