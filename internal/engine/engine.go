package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"agentdesk/internal/config"
	"agentdesk/internal/domain"
	"agentdesk/internal/engine/auth"
	"agentdesk/internal/events"
	"agentdesk/internal/lifecycle"
	"agentdesk/internal/store"
)

// Engine runs the task lifecycle operations against a Store. Every mutation
// loads the task, checks ownership, applies the change to a clone under the
// task's lock and saves the clone together with its audit events.
type Engine struct {
	Store    store.Store
	Events   events.Writer
	Logger   *slog.Logger
	Now      func() time.Time
	NewID    func() string
	DiffMode lifecycle.DiffMode
	Recorder lifecycle.Recorder

	locks *keyedLocks
}

func New(st store.Store, cfg *config.Config, logger *slog.Logger) *Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		Store:    st,
		Logger:   logger,
		Now:      time.Now,
		NewID:    uuid.NewString,
		DiffMode: lifecycle.DiffMode(cfg.Lifecycle.DiffMode),
		locks:    newKeyedLocks(),
	}
	e.Events = events.Writer{Now: e.now}
	e.Recorder = lifecycle.Recorder{
		AutoDiffEvery: cfg.Lifecycle.AutoDiffEvery,
		ReminderStep:  cfg.Lifecycle.ReminderStep,
		NewID:         e.newID,
	}
	if !e.DiffMode.Valid() {
		e.DiffMode = lifecycle.DiffModeTracked
	}
	return e
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func (e *Engine) newID() string {
	if e.NewID != nil {
		return e.NewID()
	}
	return uuid.NewString()
}

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	OwnerID     string
	Title       string
	Description string
	Attachments []domain.Attachment
	Instruction domain.InstructionSet
}

func (e *Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	if opts.OwnerID == "" {
		return domain.Task{}, auth.ForbiddenError{Reason: "owner required"}
	}
	if strings.TrimSpace(opts.Title) == "" {
		return domain.Task{}, domain.InvalidArgumentError{Field: "title", Reason: "required"}
	}
	if err := opts.Instruction.Validate(); err != nil {
		return domain.Task{}, err
	}
	for i, a := range opts.Attachments {
		if strings.TrimSpace(a.Filename) == "" {
			return domain.Task{}, domain.InvalidArgumentError{Field: "attachments", Reason: fmt.Sprintf("filename required at index %d", i)}
		}
	}
	now := e.now()
	t := domain.Task{
		ID:            e.newID(),
		OwnerID:       opts.OwnerID,
		Title:         opts.Title,
		Description:   opts.Description,
		Attachments:   append([]domain.Attachment{}, opts.Attachments...),
		Diffs:         []domain.InstructionDiff{},
		Conversations: []domain.ConversationAssignment{},
		Dialogues:     []domain.DialogueRecord{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	lifecycle.AppendRevision(&t, opts.Instruction)
	evt := e.Events.Build(events.TaskCreate, "task", t.ID, opts.OwnerID, events.Payload{"title": t.Title})
	if err := e.Store.SaveTask(ctx, t, evt); err != nil {
		return domain.Task{}, err
	}
	e.Logger.Info("task created", "task_id", t.ID, "owner_id", t.OwnerID)
	return t, nil
}

// GetTask returns the task if caller owns it.
func (e *Engine) GetTask(ctx context.Context, caller, taskID string) (domain.Task, error) {
	t, err := e.Store.GetTask(ctx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if err := auth.RequireOwner(t.OwnerID, caller); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// ListTasks returns the caller's tasks in creation order.
func (e *Engine) ListTasks(ctx context.Context, caller string) ([]domain.Task, error) {
	if caller == "" {
		return nil, auth.ForbiddenError{Reason: "owner required"}
	}
	return e.Store.ListTasks(ctx, caller)
}

// mutate serializes fn against other mutations of the same task and
// publishes the result atomically. NotFound is checked before ownership, and
// both before fn validates its input.
func (e *Engine) mutate(ctx context.Context, caller, taskID string, fn func(t *domain.Task) ([]domain.Event, error)) (domain.Task, error) {
	unlock := e.locks.lock(taskID)
	defer unlock()

	current, err := e.Store.GetTask(ctx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if err := auth.RequireOwner(current.OwnerID, caller); err != nil {
		return domain.Task{}, err
	}
	next := current.Clone()
	evts, err := fn(&next)
	if err != nil {
		return domain.Task{}, err
	}
	next.UpdatedAt = e.now()
	if err := e.Store.SaveTask(ctx, next, evts...); err != nil {
		return domain.Task{}, err
	}
	return next, nil
}

// AppendInstructionRevision records a complete new snapshot and makes it
// current.
func (e *Engine) AppendInstructionRevision(ctx context.Context, caller, taskID string, instruction domain.InstructionSet) (domain.Task, error) {
	return e.mutate(ctx, caller, taskID, func(t *domain.Task) ([]domain.Event, error) {
		if err := instruction.Validate(); err != nil {
			return nil, err
		}
		lifecycle.AppendRevision(t, instruction)
		return []domain.Event{e.Events.Build(events.InstructionRevision, "task", t.ID, caller, events.Payload{
			"revision": len(t.InstructionHistory),
		})}, nil
	})
}

// ResolveDiff accepts, rejects or proposes diff depending on action.
func (e *Engine) ResolveDiff(ctx context.Context, caller, taskID string, diff domain.InstructionDiff, action string) (domain.Task, error) {
	return e.mutate(ctx, caller, taskID, func(t *domain.Task) ([]domain.Event, error) {
		if err := lifecycle.ResolveDiff(t, diff, action, e.DiffMode, e.newID, e.now()); err != nil {
			return nil, err
		}
		evtType := events.DiffPropose
		switch action {
		case lifecycle.ActionAccept:
			evtType = events.DiffAccept
		case lifecycle.ActionReject:
			evtType = events.DiffReject
		}
		payload := events.Payload{"field": diff.Field, "action": action}
		if evtType == events.DiffPropose {
			payload["diff_id"] = t.Diffs[len(t.Diffs)-1].ID
		} else if diff.ID != "" {
			payload["diff_id"] = diff.ID
			for _, d := range t.Diffs {
				if d.ID == diff.ID {
					payload["field"] = d.Field
					break
				}
			}
		}
		return []domain.Event{e.Events.Build(evtType, "task", t.ID, caller, payload)}, nil
	})
}

// CreateConversations attaches one in_progress conversation per endpoint id.
func (e *Engine) CreateConversations(ctx context.Context, caller, taskID string, endpointIDs []string) (domain.Task, error) {
	return e.mutate(ctx, caller, taskID, func(t *domain.Task) ([]domain.Event, error) {
		for i, id := range endpointIDs {
			if strings.TrimSpace(id) == "" {
				return nil, domain.InvalidArgumentError{Field: "telegram_account_ids", Reason: fmt.Sprintf("empty id at index %d", i)}
			}
		}
		created := lifecycle.CreateAssignments(t, endpointIDs, e.newID)
		ids := make([]string, len(created))
		for i, c := range created {
			ids[i] = c.ID
		}
		return []domain.Event{e.Events.Build(events.ConversationsCreate, "task", t.ID, caller, events.Payload{"conversation_ids": ids})}, nil
	})
}

// DialogueUpdate is one turn reported for a conversation.
type DialogueUpdate struct {
	Caller         string
	TaskID         string
	ConversationID string
	Status         domain.ConversationStatus
	Result         *string
	Notes          *string
	Metrics        map[domain.Metric]int
}

// RecordDialogue updates the conversation, appends a dialogue record and may
// queue a system diff.
func (e *Engine) RecordDialogue(ctx context.Context, u DialogueUpdate) (domain.Task, error) {
	return e.mutate(ctx, u.Caller, u.TaskID, func(t *domain.Task) ([]domain.Event, error) {
		rec, err := e.Recorder.Record(t, lifecycle.Turn{
			ConversationID: u.ConversationID,
			Status:         u.Status,
			Result:         u.Result,
			Notes:          u.Notes,
			Metrics:        u.Metrics,
			At:             e.now(),
		})
		if err != nil {
			return nil, err
		}
		evts := []domain.Event{e.Events.Build(events.DialogueRecord, "conversation", u.ConversationID, u.Caller, events.Payload{
			"task_id": t.ID, "status": string(u.Status), "dialogues": len(t.Dialogues),
		})}
		if rec.AutoDiff != nil {
			evts = append(evts, e.Events.Build(events.DiffAuto, "task", t.ID, u.Caller, events.Payload{
				"diff_id": rec.AutoDiff.ID, "field": rec.AutoDiff.Field,
			}))
			e.Logger.Info("system diff proposed", "task_id", t.ID, "diff_id", rec.AutoDiff.ID, "dialogues", len(t.Dialogues))
		}
		return evts, nil
	})
}

// ConversationView is the aggregated status of a task's conversations.
type ConversationView struct {
	TaskID        string                          `json:"task_id"`
	Status        domain.ConversationStatus       `json:"status"`
	Conversations []domain.ConversationAssignment `json:"conversations"`
}

// ListConversations returns the conversations selected by ids (all when ids
// is empty) and their aggregate status.
func (e *Engine) ListConversations(ctx context.Context, caller, taskID string, ids []string) (ConversationView, error) {
	t, err := e.GetTask(ctx, caller, taskID)
	if err != nil {
		return ConversationView{}, err
	}
	convs := lifecycle.Filter(t.Conversations, ids)
	if convs == nil {
		convs = []domain.ConversationAssignment{}
	}
	return ConversationView{TaskID: t.ID, Status: lifecycle.Aggregate(convs), Conversations: convs}, nil
}

// SetSummary replaces the task summary.
func (e *Engine) SetSummary(ctx context.Context, caller, taskID string, summary domain.TaskSummary) (domain.Task, error) {
	return e.mutate(ctx, caller, taskID, func(t *domain.Task) ([]domain.Event, error) {
		if summary.ConversionRate < 0 {
			return nil, domain.InvalidArgumentError{Field: "conversion_rate", Reason: "must be >= 0"}
		}
		s := summary
		s.FunFacts = append([]string{}, summary.FunFacts...)
		t.Summary = &s
		return []domain.Event{e.Events.Build(events.SummarySet, "task", t.ID, caller, events.Payload{"conversion_rate": s.ConversionRate})}, nil
	})
}
