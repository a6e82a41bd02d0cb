package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"breakout-platform/pkg/protocol"
)

// Client consumes the token endpoint over HTTP and implements the TokenIssuer
// port for breakout clients.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewTokenClient(baseURL string) *Client {
	return &Client{baseURL: baseURL, http: http.DefaultClient}
}

func (c *Client) RequestToken(ctx context.Context, roomName string, participantID protocol.ParticipantID, isOwner, recordSession bool) (string, error) {
	body, err := json.Marshal(TokenRequest{
		RoomName:      roomName,
		ParticipantID: participantID,
		IsOwner:       isOwner,
		RecordSession: recordSession,
	})
	if err != nil {
		return "", err
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/token", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := c.http.Do(request)
	if err != nil {
		return "", fmt.Errorf("request token: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("token endpoint returned %s", response.Status)
	}

	var decoded TokenResponse
	if err := json.NewDecoder(response.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	return decoded.Token, nil
}

var _ protocol.TokenIssuer = (*Client)(nil)
