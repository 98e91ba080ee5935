// Package api is the HTTP client of the matching backend.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dkeye/Roulette/internal/core"
	"github.com/dkeye/Roulette/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var ErrUnauthorized = errors.New("api: unauthorized")

// StatusError is a non-2xx answer from the backend.
type StatusError struct {
	Path    string
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api: %s returned %d: %s", e.Path, e.Code, e.Message)
}

func (e *StatusError) Unwrap() error {
	if e.Code == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	return nil
}

type Client struct {
	baseURL  string
	token    string
	deviceID string
	http     *http.Client
}

var _ core.BackendAPI = (*Client)(nil)

func New(baseURL, token, deviceID string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		token:    token,
		deviceID: deviceID,
		http:     &http.Client{Timeout: timeout},
	}
}

type searchResponse struct {
	Peer   *domain.Peer  `json:"peer"`
	RoomID domain.RoomID `json:"room_id"`
}

type pairRequest struct {
	PeerID domain.UserID `json:"peer_id"`
	RoomID domain.RoomID `json:"room_id"`
}

type voteRequest struct {
	PeerID   domain.UserID `json:"peer_id"`
	RoomID   domain.RoomID `json:"room_id"`
	Continue bool          `json:"continue"`
}

type successResponse struct {
	Success bool `json:"success"`
}

type credentialResponse struct {
	Token string `json:"token"`
}

func (c *Client) StartSearch(ctx context.Context, filter domain.Filter) (core.SearchResult, error) {
	var out searchResponse
	if err := c.post(ctx, "/match/search", filter, &out); err != nil {
		return core.SearchResult{}, err
	}
	return core.SearchResult{Peer: out.Peer, RoomID: out.RoomID}, nil
}

func (c *Client) CancelSearch(ctx context.Context) (bool, error) {
	var out successResponse
	err := c.post(ctx, "/match/cancel", struct{}{}, &out)
	return out.Success, err
}

func (c *Client) Accept(ctx context.Context, peerID domain.UserID, roomID domain.RoomID) (bool, error) {
	var out successResponse
	err := c.post(ctx, "/match/accept", pairRequest{PeerID: peerID, RoomID: roomID}, &out)
	return out.Success, err
}

func (c *Client) Reject(ctx context.Context, peerID domain.UserID, roomID domain.RoomID) (bool, error) {
	var out successResponse
	err := c.post(ctx, "/match/reject", pairRequest{PeerID: peerID, RoomID: roomID}, &out)
	return out.Success, err
}

func (c *Client) FetchMediaCredential(ctx context.Context) (string, error) {
	var out credentialResponse
	if err := c.post(ctx, "/media/credential", struct{}{}, &out); err != nil {
		return "", err
	}
	return out.Token, nil
}

func (c *Client) SendContinuationVote(ctx context.Context, peerID domain.UserID, roomID domain.RoomID, wantsContinue bool) (bool, error) {
	var out successResponse
	err := c.post(ctx, "/call/continue", voteRequest{PeerID: peerID, RoomID: roomID, Continue: wantsContinue}, &out)
	return out.Success, err
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("api: marshal %s: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("api: build %s: %w", path, err)
	}
	reqID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", reqID)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.deviceID != "" {
		req.Header.Set("X-Device-ID", c.deviceID)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		log.Warn().Err(err).Str("module", "api").Str("path", path).Str("request_id", reqID).Msg("request failed")
		return fmt.Errorf("api: %s: %w", path, err)
	}
	defer resp.Body.Close()
	log.Debug().Str("module", "api").Str("path", path).Int("status", resp.StatusCode).
		Dur("took", time.Since(start)).Str("request_id", reqID).Msg("request done")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Path: path, Code: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("api: decode %s: %w", path, err)
	}
	return nil
}
