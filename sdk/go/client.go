// Package agentdesksdk is a small HTTP client for the agentdesk API, meant
// for agent runtimes that report dialogue turns and for admin tooling.
package agentdesksdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client talks to one agentdesk server. BaseURL includes the base path, e.g.
// "http://127.0.0.1:8080/v1".
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	AdminToken  string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

func New(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Timeout: 10 * time.Second,
	}
}

type Capability struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type Instruction struct {
	Background         string       `json:"background"`
	Goal               string       `json:"goal"`
	Steps              []string     `json:"steps"`
	ResponseRules      []string     `json:"response_rules"`
	CommunicationStyle string       `json:"communication_style"`
	FileRules          []string     `json:"file_rules"`
	AllowedFunctions   []Capability `json:"allowed_functions"`
	ProactivityLevel   string       `json:"proactivity_level"`
	AgentAccountID     string       `json:"telegram_account_id,omitempty"`
}

type Diff struct {
	ID        string    `json:"id,omitempty"`
	Field     string    `json:"field"`
	Previous  string    `json:"previous"`
	Proposed  string    `json:"proposed"`
	Origin    string    `json:"origin,omitempty"`
	Status    string    `json:"status,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

type Conversation struct {
	ID             string  `json:"id"`
	AgentAccountID string  `json:"telegram_account_id"`
	Status         string  `json:"status"`
	Result         *string `json:"result,omitempty"`
}

type Dialogue struct {
	ConversationID string         `json:"conversation_id"`
	Timestamp      time.Time      `json:"timestamp"`
	Status         string         `json:"status"`
	Notes          *string        `json:"notes,omitempty"`
	Metrics        map[string]int `json:"metrics"`
}

type Summary struct {
	ConversionRate float64  `json:"conversion_rate"`
	Comments       string   `json:"comments"`
	Challenges     string   `json:"challenges"`
	FunFacts       []string `json:"fun_facts"`
}

// Task is the API task model.
type Task struct {
	ID                 string         `json:"id"`
	OwnerID            string         `json:"user_id"`
	Title              string         `json:"title"`
	Description        string         `json:"description"`
	InstructionHistory []Instruction  `json:"instruction_history"`
	CurrentInstruction Instruction    `json:"current_instruction"`
	Diffs              []Diff         `json:"diffs"`
	Conversations      []Conversation `json:"conversations"`
	Dialogues          []Dialogue     `json:"dialogues"`
	Summary            *Summary       `json:"summary,omitempty"`
}

type ConversationView struct {
	TaskID        string         `json:"task_id"`
	Status        string         `json:"status"`
	Conversations []Conversation `json:"conversations"`
}

// Turn is one dialogue update reported by an agent.
type Turn struct {
	Status  string         `json:"status"`
	Result  *string        `json:"result,omitempty"`
	Notes   *string        `json:"notes,omitempty"`
	Metrics map[string]int `json:"metrics,omitempty"`
}

type Session struct {
	KeyID               string     `json:"key_id"`
	UserID              string     `json:"user_id"`
	AllowModelSelection bool       `json:"allow_model_selection"`
	DefaultModel        string     `json:"default_model"`
	Token               string     `json:"token,omitempty"`
	ExpiresAt           *time.Time `json:"expires_at,omitempty"`
}

type CreatedKey struct {
	Key struct {
		ID     string `json:"id"`
		UserID string `json:"user_id"`
		Status string `json:"status"`
	} `json:"key"`
	KeyValue string `json:"key_value"`
}

type Event struct {
	ID         int64          `json:"id"`
	TS         time.Time      `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type EventsPage struct {
	Items      []Event `json:"items"`
	NextCursor int64   `json:"next_cursor"`
}

// APIError is returned for non-2xx responses. Code and Message come from the
// error envelope when the body carries one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// IsStatus reports whether err is an APIError with the given status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == status
}

// Login exchanges the client's API key for a session. When the server
// issues a token it is kept and used for later calls.
func (c *Client) Login(ctx context.Context) (Session, error) {
	var resp Session
	if err := c.do(ctx, http.MethodPost, "auth/login", map[string]string{"key_value": c.APIKey}, &resp, false); err != nil {
		return resp, err
	}
	if resp.Token != "" {
		c.BearerToken = resp.Token
	}
	return resp, nil
}

func (c *Client) CreateTask(ctx context.Context, title, description string, instruction Instruction) (Task, error) {
	body := map[string]any{
		"title":       title,
		"description": description,
		"instruction": normalize(instruction),
	}
	var resp Task
	err := c.do(ctx, http.MethodPost, "tasks", body, &resp, false)
	return resp, err
}

func (c *Client) ListTasks(ctx context.Context) ([]Task, error) {
	var resp []Task
	err := c.do(ctx, http.MethodGet, "tasks", nil, &resp, false)
	return resp, err
}

func (c *Client) GetTask(ctx context.Context, taskID string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodGet, taskPath(taskID, ""), nil, &resp, false)
	return resp, err
}

func (c *Client) ReviseInstruction(ctx context.Context, taskID string, instruction Instruction) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, taskPath(taskID, "instruction"), map[string]any{"instruction": normalize(instruction)}, &resp, false)
	return resp, err
}

// ResolveDiff sends action ("accept", "reject" or "propose") for diff.
func (c *Client) ResolveDiff(ctx context.Context, taskID string, diff Diff, action string) (Task, error) {
	body := map[string]any{
		"diff": map[string]any{
			"id":       diff.ID,
			"field":    diff.Field,
			"previous": diff.Previous,
			"proposed": diff.Proposed,
		},
		"action": action,
	}
	var resp Task
	err := c.do(ctx, http.MethodPost, taskPath(taskID, "diffs"), body, &resp, false)
	return resp, err
}

func (c *Client) StartConversations(ctx context.Context, taskID string, accountIDs []string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, taskPath(taskID, "conversations"), map[string]any{"telegram_account_ids": accountIDs}, &resp, false)
	return resp, err
}

func (c *Client) RecordTurn(ctx context.Context, taskID, conversationID string, turn Turn) (Task, error) {
	var resp Task
	endpoint := taskPath(taskID, "conversations/"+url.PathEscape(conversationID))
	err := c.do(ctx, http.MethodPatch, endpoint, turn, &resp, false)
	return resp, err
}

// Conversations returns the selected conversations (all when ids is empty)
// and their aggregate status.
func (c *Client) Conversations(ctx context.Context, taskID string, ids ...string) (ConversationView, error) {
	endpoint := taskPath(taskID, "conversations")
	if len(ids) > 0 {
		endpoint += "?ids=" + url.QueryEscape(strings.Join(ids, ","))
	}
	var resp ConversationView
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp, false)
	return resp, err
}

func (c *Client) SetSummary(ctx context.Context, taskID string, summary Summary) (Task, error) {
	if summary.FunFacts == nil {
		summary.FunFacts = []string{}
	}
	var resp Task
	err := c.do(ctx, http.MethodPost, taskPath(taskID, "summary"), summary, &resp, false)
	return resp, err
}

// CreateKey is an admin call and requires AdminToken.
func (c *Client) CreateKey(ctx context.Context, email, organization string) (CreatedKey, error) {
	var resp CreatedKey
	err := c.do(ctx, http.MethodPost, "admin/keys", map[string]string{"email": email, "organization": organization}, &resp, true)
	return resp, err
}

// Events pages through the audit log; pass the previous NextCursor as after.
func (c *Client) Events(ctx context.Context, after int64, limit int) (EventsPage, error) {
	q := url.Values{}
	if after > 0 {
		q.Set("after", fmt.Sprint(after))
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	endpoint := "admin/events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp EventsPage
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp, true)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any, admin bool) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case admin:
		req.Header.Set("X-Admin-Token", c.AdminToken)
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-API-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return decodeError(resp.StatusCode, b)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func decodeError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status, Body: string(body)}
	var env struct {
		Error struct {
			Code    string         `json:"code"`
			Message string         `json:"message"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &env) == nil {
		apiErr.Code = env.Error.Code
		apiErr.Message = env.Error.Message
		apiErr.Details = env.Error.Details
	}
	return apiErr
}

// normalize replaces nil lists with empty ones; the server rejects nulls.
func normalize(in Instruction) Instruction {
	if in.Steps == nil {
		in.Steps = []string{}
	}
	if in.ResponseRules == nil {
		in.ResponseRules = []string{}
	}
	if in.FileRules == nil {
		in.FileRules = []string{}
	}
	if in.AllowedFunctions == nil {
		in.AllowedFunctions = []Capability{}
	}
	return in
}

func taskPath(taskID, rest string) string {
	p := "tasks/" + url.PathEscape(taskID)
	if rest != "" {
		p += "/" + rest
	}
	return p
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
