// Package rest is the thin client for the room/membership REST
// collaborators. It is consumed by the session controller; failures
// here are treated as non-membership until a later successful check.
package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/kritsw/chat-session/pkg/auth"
	"github.com/kritsw/chat-session/pkg/model"
)

type Client struct {
	base   string
	http   *http.Client
	tokens auth.TokenSource
}

func New(base string, tokens auth.TokenSource) *Client {
	return &Client{
		base:   base,
		http:   &http.Client{Timeout: 10 * time.Second},
		tokens: tokens,
	}
}

type RoomInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	IsMember bool   `json:"isMember"`
}

type JoinResult struct {
	Success bool      `json:"success"`
	Room    *RoomInfo `json:"room,omitempty"`
}

// Room fetches room metadata including the caller's membership flag.
func (c *Client) Room(ctx context.Context, roomID string) (*RoomInfo, error) {
	var out struct {
		Data RoomInfo `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/rooms/"+url.PathEscape(roomID), &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

// Join asks the server to add the caller to the room. Callers must
// re-check membership afterwards rather than trusting the flag
// locally.
func (c *Client) Join(ctx context.Context, roomID string) (*JoinResult, error) {
	var out JoinResult
	if err := c.do(ctx, http.MethodPost, "/api/rooms/"+url.PathEscape(roomID)+"/join", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Members fetches one page of the room member list.
func (c *Client) Members(ctx context.Context, roomID string, page, limit int) (*model.MembersPage, error) {
	path := "/api/rooms/" + url.PathEscape(roomID) + "/members?page=" +
		strconv.Itoa(page) + "&limit=" + strconv.Itoa(limit)
	var out model.MembersPage
	if err := c.do(ctx, http.MethodGet, path, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, nil)
	if err != nil {
		return err
	}
	if tok, ok := c.tokens.Token(auth.TokenKindAccess); ok {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, body)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
