package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"agentdesk/internal/domain"
	"agentdesk/internal/events"
	"agentdesk/internal/store"
)

// Service is the key directory: users, API keys, agent accounts and session
// tokens.
type Service struct {
	Store         store.Store
	Events        events.Writer
	Logger        *slog.Logger
	Now           func() time.Time
	NewID         func() string
	JWTSecret     string
	TokenTTL      time.Duration
	DefaultModel  string
	AllowedModels []string

	// serializes read-modify-write of keys and accounts
	mu sync.Mutex
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Service) newID() string {
	if s.NewID != nil {
		return s.NewID()
	}
	return uuid.NewString()
}

func (s *Service) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *Service) defaultModel() string {
	if s.DefaultModel != "" {
		return s.DefaultModel
	}
	return domain.DefaultModel
}

func (s *Service) record(ctx context.Context, evt domain.Event) {
	if err := s.Store.AppendEvents(ctx, evt); err != nil {
		s.logger().Warn("append event failed", "type", evt.Type, "err", err)
	}
}

type KeyCreateOptions struct {
	Email        string
	Organization string
	Status       domain.KeyStatus
	ActorID      string
}

// KeyCreated carries the raw key value, which is never stored.
type KeyCreated struct {
	Key    domain.Key
	User   domain.User
	RawKey string
}

func (s *Service) CreateKey(ctx context.Context, opts KeyCreateOptions) (KeyCreated, error) {
	email := strings.TrimSpace(opts.Email)
	if _, err := mail.ParseAddress(email); err != nil {
		return KeyCreated{}, domain.InvalidArgumentError{Field: "email", Reason: "must be a valid address"}
	}
	if strings.TrimSpace(opts.Organization) == "" {
		return KeyCreated{}, domain.InvalidArgumentError{Field: "organization", Reason: "required"}
	}
	status := opts.Status
	if status == "" {
		status = domain.KeyActive
	}
	if status != domain.KeyActive && status != domain.KeyInactive {
		return KeyCreated{}, domain.InvalidArgumentError{Field: "status", Reason: "must be active or inactive"}
	}
	raw := uuid.NewString()
	key := domain.Key{
		ID:                 s.newID(),
		KeyHash:            HashAPIKey(raw),
		Status:             status,
		AgentAccountIDs:    []string{},
		TaskModelOverrides: map[string]string{},
		DefaultModel:       s.defaultModel(),
		CreatedAt:          s.now(),
	}
	user := domain.User{ID: s.newID(), Email: email, Organization: opts.Organization, KeyID: key.ID}
	key.UserID = user.ID
	if err := s.Store.CreateKey(ctx, key, user); err != nil {
		return KeyCreated{}, err
	}
	s.record(ctx, s.Events.Build(events.KeyCreate, "key", key.ID, opts.ActorID, events.Payload{"user_id": user.ID, "status": string(status)}))
	return KeyCreated{Key: key, User: user, RawKey: raw}, nil
}

func (s *Service) ListKeys(ctx context.Context) ([]domain.Key, error) {
	return s.Store.ListKeys(ctx)
}

func (s *Service) GetUser(ctx context.Context, id string) (domain.User, error) {
	return s.Store.GetUser(ctx, id)
}

type KeyUpdateOptions struct {
	ID                  string
	AllowModelSelection *bool
	Status              *domain.KeyStatus
	ActorID             string
}

// UpdateKey applies the non-nil fields of opts.
func (s *Service) UpdateKey(ctx context.Context, opts KeyUpdateOptions) (domain.Key, error) {
	if opts.Status != nil && *opts.Status != domain.KeyActive && *opts.Status != domain.KeyInactive {
		return domain.Key{}, domain.InvalidArgumentError{Field: "status", Reason: "must be active or inactive"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key, err := s.Store.GetKey(ctx, opts.ID)
	if err != nil {
		return domain.Key{}, err
	}
	payload := events.Payload{}
	if opts.AllowModelSelection != nil {
		key.AllowModelSelection = *opts.AllowModelSelection
		payload["allow_model_selection"] = key.AllowModelSelection
	}
	if opts.Status != nil {
		key.Status = *opts.Status
		payload["status"] = string(key.Status)
	}
	if err := s.Store.SaveKey(ctx, key); err != nil {
		return domain.Key{}, err
	}
	s.record(ctx, s.Events.Build(events.KeyUpdate, "key", key.ID, opts.ActorID, payload))
	return key, nil
}

// Authenticate resolves a raw key value. Missing and unknown keys are
// ErrUnauthorized; inactive keys are ForbiddenError.
func (s *Service) Authenticate(ctx context.Context, raw string) (Principal, error) {
	if strings.TrimSpace(raw) == "" {
		return Principal{}, unauthorized("missing api key")
	}
	key, err := s.Store.GetKeyByHash(ctx, HashAPIKey(raw))
	if errors.Is(err, store.ErrNotFound) {
		return Principal{}, unauthorized("invalid api key")
	}
	if err != nil {
		return Principal{}, err
	}
	if key.Status != domain.KeyActive {
		return Principal{}, ForbiddenError{Reason: "key inactive"}
	}
	if key.UserID == "" {
		return Principal{}, unauthorized("api key has no user")
	}
	return Principal{KeyID: key.ID, UserID: key.UserID, Source: "api_key"}, nil
}

// AuthenticateToken verifies a session token and re-checks that its key is
// still active.
func (s *Service) AuthenticateToken(ctx context.Context, token string) (Principal, error) {
	p, err := parseToken(s.JWTSecret, token, s.now())
	if err != nil {
		return Principal{}, unauthorized(err.Error())
	}
	key, err := s.Store.GetKey(ctx, p.KeyID)
	if errors.Is(err, store.ErrNotFound) {
		return Principal{}, unauthorized("token key revoked")
	}
	if err != nil {
		return Principal{}, err
	}
	if key.Status != domain.KeyActive {
		return Principal{}, ForbiddenError{Reason: "key inactive"}
	}
	return p, nil
}

type LoginResult struct {
	KeyID               string
	UserID              string
	AllowModelSelection bool
	DefaultModel        string
	Token               string
	ExpiresAt           time.Time
}

// Login exchanges a raw key value for its profile and, when a JWT secret is
// configured, a session token.
func (s *Service) Login(ctx context.Context, raw string) (LoginResult, error) {
	p, err := s.Authenticate(ctx, raw)
	if err != nil {
		return LoginResult{}, err
	}
	key, err := s.Store.GetKey(ctx, p.KeyID)
	if err != nil {
		return LoginResult{}, err
	}
	res := LoginResult{
		KeyID:               key.ID,
		UserID:              key.UserID,
		AllowModelSelection: key.AllowModelSelection,
		DefaultModel:        key.DefaultModel,
	}
	if s.JWTSecret != "" {
		ttl := s.TokenTTL
		if ttl <= 0 {
			ttl = 24 * time.Hour
		}
		res.Token, res.ExpiresAt, err = signToken(s.JWTSecret, p, s.now(), ttl)
		if err != nil {
			return LoginResult{}, err
		}
	}
	return res, nil
}

type ModelScope string

const (
	ScopeGlobal ModelScope = "global"
	ScopeTask   ModelScope = "task"
)

type ModelSelection struct {
	KeyID     string
	Scope     ModelScope
	ModelName string
	TaskID    string
	ActorID   string
}

// SetModelSelection changes a key's default model or adds a per-task
// override.
func (s *Service) SetModelSelection(ctx context.Context, sel ModelSelection) (domain.Key, error) {
	if strings.TrimSpace(sel.ModelName) == "" {
		return domain.Key{}, domain.InvalidArgumentError{Field: "model_name", Reason: "required"}
	}
	if len(s.AllowedModels) > 0 && !slices.Contains(s.AllowedModels, sel.ModelName) {
		return domain.Key{}, domain.InvalidArgumentError{Field: "model_name", Reason: fmt.Sprintf("%q is not an allowed model", sel.ModelName)}
	}
	switch sel.Scope {
	case ScopeGlobal:
	case ScopeTask:
		if sel.TaskID == "" {
			return domain.Key{}, domain.InvalidArgumentError{Field: "task_id", Reason: "required for task scope"}
		}
	default:
		return domain.Key{}, domain.InvalidArgumentError{Field: "scope", Reason: "must be global or task"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key, err := s.Store.GetKey(ctx, sel.KeyID)
	if err != nil {
		return domain.Key{}, err
	}
	if sel.Scope == ScopeGlobal {
		key.DefaultModel = sel.ModelName
	} else {
		if key.TaskModelOverrides == nil {
			key.TaskModelOverrides = map[string]string{}
		}
		key.TaskModelOverrides[sel.TaskID] = sel.ModelName
	}
	if err := s.Store.SaveKey(ctx, key); err != nil {
		return domain.Key{}, err
	}
	s.record(ctx, s.Events.Build(events.ModelSelect, "key", key.ID, sel.ActorID, events.Payload{
		"scope": string(sel.Scope), "model_name": sel.ModelName, "task_id": sel.TaskID,
	}))
	return key, nil
}

// ModelFor returns the model a key uses for a task.
func ModelFor(key domain.Key, taskID string) string {
	if m, ok := key.TaskModelOverrides[taskID]; ok {
		return m
	}
	if key.DefaultModel != "" {
		return key.DefaultModel
	}
	return domain.DefaultModel
}

type AccountCreateOptions struct {
	Label       string
	Credentials string
	Status      domain.AccountStatus
	ActorID     string
}

func (s *Service) CreateAccount(ctx context.Context, opts AccountCreateOptions) (domain.AgentAccount, error) {
	if strings.TrimSpace(opts.Label) == "" {
		return domain.AgentAccount{}, domain.InvalidArgumentError{Field: "label", Reason: "required"}
	}
	status := opts.Status
	if status == "" {
		status = domain.AccountReady
	}
	if status != domain.AccountReady && status != domain.AccountBanned {
		return domain.AgentAccount{}, domain.InvalidArgumentError{Field: "status", Reason: "must be ready or banned"}
	}
	acc := domain.AgentAccount{ID: s.newID(), Label: opts.Label, Credentials: opts.Credentials, Status: status}
	if err := s.Store.SaveAccount(ctx, acc); err != nil {
		return domain.AgentAccount{}, err
	}
	s.record(ctx, s.Events.Build(events.AccountCreate, "agent_account", acc.ID, opts.ActorID, events.Payload{"label": acc.Label, "status": string(status)}))
	return acc, nil
}

func (s *Service) ListAccounts(ctx context.Context) ([]domain.AgentAccount, error) {
	return s.Store.ListAccounts(ctx)
}

// AssignAccount binds an account to a key. Re-binding an account already on
// the key's list does not duplicate it.
func (s *Service) AssignAccount(ctx context.Context, accountID, keyID, actorID string) (domain.AgentAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, err := s.Store.GetAccount(ctx, accountID)
	if err != nil {
		return domain.AgentAccount{}, err
	}
	key, err := s.Store.GetKey(ctx, keyID)
	if err != nil {
		return domain.AgentAccount{}, err
	}
	acc.KeyID = key.ID
	if !slices.Contains(key.AgentAccountIDs, acc.ID) {
		key.AgentAccountIDs = append(key.AgentAccountIDs, acc.ID)
		if err := s.Store.SaveKey(ctx, key); err != nil {
			return domain.AgentAccount{}, err
		}
	}
	if err := s.Store.SaveAccount(ctx, acc); err != nil {
		return domain.AgentAccount{}, err
	}
	s.record(ctx, s.Events.Build(events.AccountAssign, "agent_account", acc.ID, actorID, events.Payload{"key_id": key.ID}))
	return acc, nil
}

// UpdateAccountStatus marks an account ready or banned.
func (s *Service) UpdateAccountStatus(ctx context.Context, accountID string, status domain.AccountStatus, actorID string) (domain.AgentAccount, error) {
	if status != domain.AccountReady && status != domain.AccountBanned {
		return domain.AgentAccount{}, domain.InvalidArgumentError{Field: "status", Reason: "must be ready or banned"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, err := s.Store.GetAccount(ctx, accountID)
	if err != nil {
		return domain.AgentAccount{}, err
	}
	acc.Status = status
	if err := s.Store.SaveAccount(ctx, acc); err != nil {
		return domain.AgentAccount{}, err
	}
	s.record(ctx, s.Events.Build(events.AccountUpdate, "agent_account", acc.ID, actorID, events.Payload{"status": string(status)}))
	return acc, nil
}
