// Package admin is the REST client for the admin service: bans, abuse
// reports, member and tag directories, and world room listings. Every call
// runs behind a circuit breaker; callers decide how to degrade when the
// service is down.
package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/gridlands/pusher/internal/v1/logging"
	"github.com/gridlands/pusher/internal/v1/messages"
	"github.com/gridlands/pusher/internal/v1/metrics"
	"github.com/gridlands/pusher/internal/v1/types"
)

// ErrDisabled is returned by every call when no admin service is configured.
var ErrDisabled = errors.New("admin: no admin service configured")

// Client talks to the admin REST service with a bearer token.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	cb      *gobreaker.CircuitBreaker
}

var _ types.AdminAPI = (*Client)(nil)

// NewClient builds the REST client. An empty baseURL yields a disabled
// client whose calls all return ErrDisabled, which keeps the call sites free
// of nil checks.
func NewClient(baseURL, token string) *Client {
	st := gobreaker.Settings{
		Name:        "admin-api",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			var stateVal float64
			switch to {
			case gobreaker.StateClosed:
				stateVal = 0
			case gobreaker.StateOpen:
				stateVal = 1
			case gobreaker.StateHalfOpen:
				stateVal = 2
			}
			metrics.CircuitBreakerState.WithLabelValues("admin-api").Set(stateVal)
		},
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
		cb:      gobreaker.NewCircuitBreaker(st),
	}
}

// ReportPlayer files an abuse report.
func (c *Client) ReportPlayer(ctx context.Context, reportedUserUUID, comment, reporterUUID, roomURL string) error {
	body := map[string]string{
		"reportedUserUuid": reportedUserUUID,
		"reportComment":    comment,
		"reporterUserUuid": reporterUUID,
		"roomUrl":          roomURL,
	}
	return c.post(ctx, "report", "/api/report", body, nil)
}

// BanUserByUUID records a ban. The ejection itself goes through the back; a
// failure here means the ban is not persisted across reconnects.
func (c *Client) BanUserByUUID(ctx context.Context, uuidToBan, playURI, name, message, byUserEmail string) error {
	body := map[string]string{
		"uuidToBan":   uuidToBan,
		"playUri":     playURI,
		"name":        name,
		"message":     message,
		"byUserEmail": byUserEmail,
	}
	return c.post(ctx, "ban", "/api/ban", body, nil)
}

// GetTagsList fetches the access tags of a room.
func (c *Client) GetTagsList(ctx context.Context, roomURL string) ([]string, error) {
	var tags []string
	err := c.get(ctx, "room_tags", "/api/room/tags", url.Values{"roomUrl": {roomURL}}, &tags)
	return tags, err
}

// GetUrlRoomsFromSameWorld lists the sibling rooms of a room's world.
func (c *Client) GetUrlRoomsFromSameWorld(ctx context.Context, roomURL string) ([]messages.ShortMapDescription, error) {
	var rooms []messages.ShortMapDescription
	err := c.get(ctx, "same_world", "/api/room/sameWorld", url.Values{"roomUrl": {roomURL}}, &rooms)
	return rooms, err
}

// SearchMembers looks up world members by display name.
func (c *Client) SearchMembers(ctx context.Context, playURI, searchText string) ([]messages.Member, error) {
	var members []messages.Member
	err := c.get(ctx, "search_members", "/api/members/search", url.Values{
		"playUri":    {playURI},
		"searchText": {searchText},
	}, &members)
	return members, err
}

// SearchTags looks up member tags by prefix.
func (c *Client) SearchTags(ctx context.Context, playURI, searchText string) ([]string, error) {
	var tags []string
	err := c.get(ctx, "search_tags", "/api/tags/search", url.Values{
		"playUri":    {playURI},
		"searchText": {searchText},
	}, &tags)
	return tags, err
}

// GetMember fetches one member by UUID.
func (c *Client) GetMember(ctx context.Context, uuid string) (*messages.Member, error) {
	var member messages.Member
	err := c.get(ctx, "get_member", "/api/members/"+url.PathEscape(uuid), nil, &member)
	if err != nil {
		return nil, err
	}
	return &member, nil
}

// GetWorldChatMembers pages through the chat member directory of a world.
func (c *Client) GetWorldChatMembers(ctx context.Context, playURI, searchText string, page int32) ([]messages.ChatMember, int32, error) {
	var result struct {
		Members []messages.ChatMember `json:"members"`
		Total   int32                 `json:"total"`
	}
	err := c.get(ctx, "chat_members", "/api/world/chatMembers", url.Values{
		"playUri":    {playURI},
		"searchText": {searchText},
		"page":       {strconv.Itoa(int(page))},
	}, &result)
	return result.Members, result.Total, err
}

// UpdateChatID stores a member's chat identity.
func (c *Client) UpdateChatID(ctx context.Context, uuid, chatID string) error {
	body := map[string]string{"uuid": uuid, "chatId": chatID}
	return c.post(ctx, "update_chat_id", "/api/members/chatId", body, nil)
}

// RefreshOauthToken exchanges a refresh token for a fresh access token.
func (c *Client) RefreshOauthToken(ctx context.Context, token string) (string, error) {
	var result struct {
		Token string `json:"token"`
	}
	body := map[string]string{"token": token}
	if err := c.post(ctx, "oauth_refresh", "/api/oauth/refresh", body, &result); err != nil {
		return "", err
	}
	return result.Token, nil
}

func (c *Client) get(ctx context.Context, operation, path string, query url.Values, out any) error {
	return c.call(ctx, operation, http.MethodGet, path, query, nil, out)
}

func (c *Client) post(ctx context.Context, operation, path string, body, out any) error {
	return c.call(ctx, operation, http.MethodPost, path, nil, body, out)
}

func (c *Client) call(ctx context.Context, operation, method, path string, query url.Values, body, out any) error {
	if c.baseURL == "" {
		metrics.AdminAPIRequests.WithLabelValues(operation, "disabled").Inc()
		return ErrDisabled
	}

	_, err := c.cb.Execute(func() (interface{}, error) {
		return nil, c.roundTrip(ctx, method, path, query, body, out)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.AdminAPIRequests.WithLabelValues(operation, "breaker_open").Inc()
			metrics.CircuitBreakerFailures.WithLabelValues("admin-api").Inc()
			logging.Warn(ctx, "Admin API circuit breaker open", zap.String("operation", operation))
			return err
		}
		metrics.AdminAPIRequests.WithLabelValues(operation, "error").Inc()
		return err
	}
	metrics.AdminAPIRequests.WithLabelValues(operation, "ok").Inc()
	return nil
}

func (c *Client) roundTrip(ctx context.Context, method, path string, query url.Values, body, out any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		blob, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("admin: marshal request: %w", err)
		}
		reader = bytes.NewReader(blob)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("admin: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("admin: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Read a little of the body so the log says why, without trusting the
		// service to keep it short.
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("admin: %s %s: status %d: %s", method, path, resp.StatusCode, snippet)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("admin: decode %s response: %w", path, err)
	}
	return nil
}
