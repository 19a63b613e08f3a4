package server

import (
	"time"

	"agentdesk/internal/domain"
	"agentdesk/internal/engine/auth"
)

// Request payloads

type LoginRequest struct {
	KeyValue string `json:"key_value" minLength:"1"`
}

type CreateKeyRequest struct {
	Email        string `json:"email" format:"email"`
	Organization string `json:"organization"`
	Status       string `json:"status,omitempty" enum:"active,inactive"`
}

type ModelSelectionRequest struct {
	Scope     string `json:"scope" enum:"global,task"`
	ModelName string `json:"model_name" minLength:"1"`
	TaskID    string `json:"task_id,omitempty"`
}

type CreateAccountRequest struct {
	Label       string `json:"label"`
	Credentials string `json:"credentials"`
	Status      string `json:"status,omitempty" enum:"ready,banned"`
}

type UpdateAccountRequest struct {
	AccountID string `json:"telegram_account_id,omitempty" doc:"Must match the path id when given"`
	KeyID     string `json:"key_id,omitempty"`
	Status    string `json:"status,omitempty" enum:"ready,banned"`
}

type CreateTaskRequest struct {
	Title       string                `json:"title"`
	Description string                `json:"description"`
	Attachments []domain.Attachment   `json:"attachments,omitempty"`
	Instruction domain.InstructionSet `json:"instruction"`
}

type UpdateInstructionRequest struct {
	Instruction domain.InstructionSet `json:"instruction"`
}

type DiffRequest struct {
	ID       string `json:"id,omitempty"`
	Field    string `json:"field"`
	Previous string `json:"previous"`
	Proposed string `json:"proposed"`
}

type DiffActionRequest struct {
	Diff   DiffRequest `json:"diff"`
	Action string      `json:"action" doc:"accept, reject, or anything else to propose"`
}

type CreateConversationsRequest struct {
	AgentAccountIDs []string `json:"telegram_account_ids"`
}

type UpdateConversationRequest struct {
	Status  string         `json:"status" enum:"in_progress,completed,failed"`
	Result  *string        `json:"result,omitempty"`
	Notes   *string        `json:"notes,omitempty"`
	Metrics map[string]int `json:"metrics,omitempty"`
}

type SummaryRequest struct {
	ConversionRate float64  `json:"conversion_rate" minimum:"0"`
	Comments       string   `json:"comments"`
	Challenges     string   `json:"challenges"`
	FunFacts       []string `json:"fun_facts"`
}

// Responses

type LoginResponse struct {
	KeyID               string     `json:"key_id"`
	UserID              string     `json:"user_id"`
	AllowModelSelection bool       `json:"allow_model_selection"`
	DefaultModel        string     `json:"default_model"`
	Token               string     `json:"token,omitempty"`
	ExpiresAt           *time.Time `json:"expires_at,omitempty" format:"date-time"`
}

type KeyResponse struct {
	ID                  string            `json:"id"`
	Status              string            `json:"status" enum:"active,inactive"`
	UserID              string            `json:"user_id,omitempty"`
	AgentAccountIDs     []string          `json:"telegram_account_ids"`
	AllowModelSelection bool              `json:"allow_model_selection"`
	TaskModelOverrides  map[string]string `json:"task_model_overrides"`
	DefaultModel        string            `json:"default_model"`
	CreatedAt           time.Time         `json:"created_at" format:"date-time"`
}

type CreateKeyResponse struct {
	Key      KeyResponse `json:"key"`
	User     domain.User `json:"user"`
	KeyValue string      `json:"key_value" doc:"Returned once; only its hash is stored"`
}

type AccountResponse struct {
	ID             string `json:"id"`
	Label          string `json:"label"`
	Status         string `json:"status" enum:"ready,banned"`
	KeyID          string `json:"key_id,omitempty"`
	HasCredentials bool   `json:"has_credentials"`
}

type OverviewResponse struct {
	WeeklyConversion map[string]int `json:"weekly_conversion"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         time.Time      `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor int64           `json:"next_cursor,omitempty"`
}

func keyResponse(k domain.Key) KeyResponse {
	ids := k.AgentAccountIDs
	if ids == nil {
		ids = []string{}
	}
	overrides := k.TaskModelOverrides
	if overrides == nil {
		overrides = map[string]string{}
	}
	return KeyResponse{
		ID:                  k.ID,
		Status:              string(k.Status),
		UserID:              k.UserID,
		AgentAccountIDs:     ids,
		AllowModelSelection: k.AllowModelSelection,
		TaskModelOverrides:  overrides,
		DefaultModel:        k.DefaultModel,
		CreatedAt:           k.CreatedAt,
	}
}

func mapKeys(items []domain.Key) []KeyResponse {
	out := make([]KeyResponse, 0, len(items))
	for _, k := range items {
		out = append(out, keyResponse(k))
	}
	return out
}

func accountResponse(a domain.AgentAccount) AccountResponse {
	return AccountResponse{
		ID:             a.ID,
		Label:          a.Label,
		Status:         string(a.Status),
		KeyID:          a.KeyID,
		HasCredentials: a.Credentials != "",
	}
}

func mapAccounts(items []domain.AgentAccount) []AccountResponse {
	out := make([]AccountResponse, 0, len(items))
	for _, a := range items {
		out = append(out, accountResponse(a))
	}
	return out
}

func loginResponse(res auth.LoginResult) LoginResponse {
	out := LoginResponse{
		KeyID:               res.KeyID,
		UserID:              res.UserID,
		AllowModelSelection: res.AllowModelSelection,
		DefaultModel:        res.DefaultModel,
		Token:               res.Token,
	}
	if res.Token != "" {
		exp := res.ExpiresAt
		out.ExpiresAt = &exp
	}
	return out
}

func mapTasks(items []domain.Task) []domain.Task {
	if items == nil {
		return []domain.Task{}
	}
	return items
}

func metricsFromRequest(in map[string]int) map[domain.Metric]int {
	if in == nil {
		return nil
	}
	out := make(map[domain.Metric]int, len(in))
	for k, v := range in {
		out[domain.Metric(k)] = v
	}
	return out
}

func metricAverages(in map[domain.Metric]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[string(k)] = v
	}
	return out
}
