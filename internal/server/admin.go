package server

import (
	"context"
	"net/http"
	"strconv"

	"github.com/danielgtaylor/huma/v2"

	"agentdesk/internal/domain"
	"agentdesk/internal/engine"
	"agentdesk/internal/engine/auth"
	"agentdesk/internal/events"
)

func registerLogin(api huma.API, dir *auth.Service) {
	huma.Register(api, huma.Operation{
		OperationID: "login",
		Method:      http.MethodPost,
		Path:        "/auth/login",
		Summary:     "Exchange a key value for a session token",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body LoginRequest `json:"body"`
	}) (*struct {
		Body LoginResponse `json:"body"`
	}, error) {
		res, err := dir.Login(ctx, input.Body.KeyValue)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body LoginResponse `json:"body"`
		}{Body: loginResponse(res)}, nil
	})
}

func registerAdmin(api huma.API, dir *auth.Service, eng *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-key",
		Method:        http.MethodPost,
		Path:          "/admin/keys",
		Summary:       "Create a user and its API key",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body CreateKeyRequest `json:"body"`
	}) (*struct {
		Body CreateKeyResponse `json:"body"`
	}, error) {
		created, err := dir.CreateKey(ctx, auth.KeyCreateOptions{
			Email:        input.Body.Email,
			Organization: input.Body.Organization,
			Status:       domain.KeyStatus(input.Body.Status),
			ActorID:      actorFromContext(ctx),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CreateKeyResponse `json:"body"`
		}{Body: CreateKeyResponse{Key: keyResponse(created.Key), User: created.User, KeyValue: created.RawKey}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-keys",
		Method:      http.MethodGet,
		Path:        "/admin/keys",
		Summary:     "List API keys",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []KeyResponse `json:"body"`
	}, error) {
		items, err := dir.ListKeys(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []KeyResponse `json:"body"`
		}{Body: mapKeys(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-key",
		Method:      http.MethodPatch,
		Path:        "/admin/keys/{key_id}",
		Summary:     "Toggle key status or model selection",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		KeyID               string `path:"key_id"`
		AllowModelSelection string `query:"allow_model_selection" doc:"true or false"`
		StatusValue         string `query:"status_value" doc:"true activates, false deactivates"`
	}) (*struct {
		Body KeyResponse `json:"body"`
	}, error) {
		opts := auth.KeyUpdateOptions{ID: input.KeyID, ActorID: actorFromContext(ctx)}
		if input.AllowModelSelection != "" {
			v, err := strconv.ParseBool(input.AllowModelSelection)
			if err != nil {
				return nil, handleError(domain.InvalidArgumentError{Field: "allow_model_selection", Reason: "must be true or false"})
			}
			opts.AllowModelSelection = &v
		}
		if input.StatusValue != "" {
			v, err := strconv.ParseBool(input.StatusValue)
			if err != nil {
				return nil, handleError(domain.InvalidArgumentError{Field: "status_value", Reason: "must be true or false"})
			}
			status := domain.KeyInactive
			if v {
				status = domain.KeyActive
			}
			opts.Status = &status
		}
		key, err := dir.UpdateKey(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body KeyResponse `json:"body"`
		}{Body: keyResponse(key)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "select-model",
		Method:      http.MethodPost,
		Path:        "/admin/model-selection/{key_id}",
		Summary:     "Set a key's default model or a per-task override",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		KeyID string `path:"key_id"`
		Body  ModelSelectionRequest
	}) (*struct {
		Body KeyResponse `json:"body"`
	}, error) {
		key, err := dir.SetModelSelection(ctx, auth.ModelSelection{
			KeyID:     input.KeyID,
			Scope:     auth.ModelScope(input.Body.Scope),
			ModelName: input.Body.ModelName,
			TaskID:    input.Body.TaskID,
			ActorID:   actorFromContext(ctx),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body KeyResponse `json:"body"`
		}{Body: keyResponse(key)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-account",
		Method:        http.MethodPost,
		Path:          "/admin/telegram-accounts",
		Summary:       "Register an agent messaging account",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body CreateAccountRequest `json:"body"`
	}) (*struct {
		Body AccountResponse `json:"body"`
	}, error) {
		acc, err := dir.CreateAccount(ctx, auth.AccountCreateOptions{
			Label:       input.Body.Label,
			Credentials: input.Body.Credentials,
			Status:      domain.AccountStatus(input.Body.Status),
			ActorID:     actorFromContext(ctx),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AccountResponse `json:"body"`
		}{Body: accountResponse(acc)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-accounts",
		Method:      http.MethodGet,
		Path:        "/admin/telegram-accounts",
		Summary:     "List agent messaging accounts",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []AccountResponse `json:"body"`
	}, error) {
		items, err := dir.ListAccounts(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []AccountResponse `json:"body"`
		}{Body: mapAccounts(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-account",
		Method:      http.MethodPatch,
		Path:        "/admin/telegram-accounts/{account_id}",
		Summary:     "Bind an account to a key or change its status",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		AccountID string `path:"account_id"`
		Body      UpdateAccountRequest
	}) (*struct {
		Body AccountResponse `json:"body"`
	}, error) {
		if input.Body.AccountID != "" && input.Body.AccountID != input.AccountID {
			return nil, handleError(domain.InvalidArgumentError{Field: "telegram_account_id", Reason: "does not match path"})
		}
		if input.Body.KeyID == "" && input.Body.Status == "" {
			return nil, handleError(domain.InvalidArgumentError{Field: "body", Reason: "key_id or status required"})
		}
		actor := actorFromContext(ctx)
		var (
			acc domain.AgentAccount
			err error
		)
		if input.Body.KeyID != "" {
			// AssignAccount loads both the account and the key before writing.
			if acc, err = dir.AssignAccount(ctx, input.AccountID, input.Body.KeyID, actor); err != nil {
				return nil, handleError(err)
			}
		}
		if input.Body.Status != "" {
			if acc, err = dir.UpdateAccountStatus(ctx, input.AccountID, domain.AccountStatus(input.Body.Status), actor); err != nil {
				return nil, handleError(err)
			}
		}
		return &struct {
			Body AccountResponse `json:"body"`
		}{Body: accountResponse(acc)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/admin/events",
		Summary:     "Read the audit log",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		After int64 `query:"after" minimum:"0"`
		Limit int   `query:"limit" minimum:"0" maximum:"500"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		items, err := eng.Store.EventsAfter(ctx, input.After, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		out := paginatedEvents{Items: make([]EventResponse, 0, len(items))}
		for _, e := range items {
			out.Items = append(out.Items, eventResponse(e))
		}
		if n := len(items); n > 0 {
			out.NextCursor = items[n-1].ID
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: out}, nil
	})
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    events.Decode(e),
	}
}
