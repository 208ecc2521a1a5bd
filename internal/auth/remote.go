package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/dkeye/Pulse/internal/domain"
)

// RemoteValidator asks an external identity service about a credential:
// GET <address>/v1/identity with the credential as bearer token.
type RemoteValidator struct {
	address string
	client  *http.Client
}

func NewRemoteValidator(address string, client *http.Client) *RemoteValidator {
	if client == nil {
		client = http.DefaultClient
	}
	return &RemoteValidator{address: strings.TrimRight(address, "/"), client: client}
}

type identityResponse struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

func (v *RemoteValidator) Validate(ctx context.Context, credential string) (domain.Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.address+"/v1/identity", nil)
	if err != nil {
		return domain.Identity{}, err
	}
	req.Header.Set("Authorization", "Bearer "+credential)

	resp, err := v.client.Do(req)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("identity service: %w: %w", domain.ErrTransient, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusBadRequest:
		return domain.Identity{}, fmt.Errorf("identity service rejected credential: %w", domain.ErrUnauthenticated)
	case resp.StatusCode == http.StatusForbidden:
		return domain.Identity{}, fmt.Errorf("identity service: %w", domain.ErrForbidden)
	case resp.StatusCode != http.StatusOK:
		return domain.Identity{}, fmt.Errorf("identity service status %d: %w", resp.StatusCode, domain.ErrTransient)
	}

	var body identityResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return domain.Identity{}, fmt.Errorf("identity response: %w: %w", domain.ErrTransient, err)
	}
	uid, err := domain.ParseUserID(body.UserID)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("identity response: %w: %w", domain.ErrUnauthenticated, err)
	}
	return domain.Identity{UserID: uid, Username: body.Username}, nil
}
