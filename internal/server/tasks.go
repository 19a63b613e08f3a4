package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"agentdesk/internal/domain"
	"agentdesk/internal/engine"
)

type taskBody struct {
	Body domain.Task `json:"body"`
}

type taskPath struct {
	TaskID string `path:"task_id"`
}

func registerTasks(api huma.API, eng *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List the caller's tasks",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Task `json:"body"`
	}, error) {
		caller, herr := callerFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		items, err := eng.ListTasks(ctx, caller)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Task `json:"body"`
		}{Body: mapTasks(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Create a task with its initial instruction set",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body CreateTaskRequest `json:"body"`
	}) (*taskBody, error) {
		caller, herr := callerFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		t, err := eng.CreateTask(ctx, engine.TaskCreateOptions{
			OwnerID:     caller,
			Title:       input.Body.Title,
			Description: input.Body.Description,
			Attachments: input.Body.Attachments,
			Instruction: input.Body.Instruction,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &taskBody{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *taskPath) (*taskBody, error) {
		caller, herr := callerFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		t, err := eng.GetTask(ctx, caller, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return &taskBody{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "revise-instruction",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/instruction",
		Summary:     "Append an instruction revision",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
		Body   UpdateInstructionRequest
	}) (*taskBody, error) {
		caller, herr := callerFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		t, err := eng.AppendInstructionRevision(ctx, caller, input.TaskID, input.Body.Instruction)
		if err != nil {
			return nil, handleError(err)
		}
		return &taskBody{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resolve-diff",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/diffs",
		Summary:     "Accept, reject or propose an instruction diff",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
		Body   DiffActionRequest
	}) (*taskBody, error) {
		caller, herr := callerFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		d := input.Body.Diff
		t, err := eng.ResolveDiff(ctx, caller, input.TaskID, domain.InstructionDiff{
			ID:       d.ID,
			Field:    d.Field,
			Previous: d.Previous,
			Proposed: d.Proposed,
		}, input.Body.Action)
		if err != nil {
			return nil, handleError(err)
		}
		return &taskBody{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-summary",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/summary",
		Summary:     "Set the task summary",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
		Body   SummaryRequest
	}) (*taskBody, error) {
		caller, herr := callerFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		t, err := eng.SetSummary(ctx, caller, input.TaskID, domain.TaskSummary{
			ConversionRate: input.Body.ConversionRate,
			Comments:       input.Body.Comments,
			Challenges:     input.Body.Challenges,
			FunFacts:       input.Body.FunFacts,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &taskBody{Body: t}, nil
	})
}

func registerConversations(api huma.API, eng *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-conversations",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}/conversations",
		Summary:     "Conversation statuses and their aggregate",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string   `path:"task_id"`
		IDs    []string `query:"ids" doc:"Comma separated conversation ids; empty selects all"`
	}) (*struct {
		Body engine.ConversationView `json:"body"`
	}, error) {
		caller, herr := callerFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		view, err := eng.ListConversations(ctx, caller, input.TaskID, input.IDs)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.ConversationView `json:"body"`
		}{Body: view}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-conversations",
		Method:        http.MethodPost,
		Path:          "/tasks/{task_id}/conversations",
		Summary:       "Start one conversation per agent account",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
		Body   CreateConversationsRequest
	}) (*taskBody, error) {
		caller, herr := callerFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		t, err := eng.CreateConversations(ctx, caller, input.TaskID, input.Body.AgentAccountIDs)
		if err != nil {
			return nil, handleError(err)
		}
		return &taskBody{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "record-dialogue",
		Method:      http.MethodPatch,
		Path:        "/tasks/{task_id}/conversations/{conversation_id}",
		Summary:     "Report a dialogue turn for a conversation",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID         string `path:"task_id"`
		ConversationID string `path:"conversation_id"`
		Body           UpdateConversationRequest
	}) (*taskBody, error) {
		caller, herr := callerFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		t, err := eng.RecordDialogue(ctx, engine.DialogueUpdate{
			Caller:         caller,
			TaskID:         input.TaskID,
			ConversationID: input.ConversationID,
			Status:         domain.ConversationStatus(input.Body.Status),
			Result:         input.Body.Result,
			Notes:          input.Body.Notes,
			Metrics:        metricsFromRequest(input.Body.Metrics),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &taskBody{Body: t}, nil
	})
}

func registerReports(api huma.API, eng *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "report-overview",
		Method:      http.MethodGet,
		Path:        "/reports/overview",
		Summary:     "Completed conversations per week",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body OverviewResponse `json:"body"`
	}, error) {
		weekly, err := eng.WeeklyConversion(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body OverviewResponse `json:"body"`
		}{Body: OverviewResponse{WeeklyConversion: weekly}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "report-metrics",
		Method:      http.MethodGet,
		Path:        "/reports/metrics",
		Summary:     "Average of each dialogue metric",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]float64 `json:"body"`
	}, error) {
		avg, err := eng.MetricAverages(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]float64 `json:"body"`
		}{Body: metricAverages(avg)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "report-tasks",
		Method:      http.MethodGet,
		Path:        "/reports/tasks",
		Summary:     "Every task across owners",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Task `json:"body"`
	}, error) {
		items, err := eng.ReportTasks(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Task `json:"body"`
		}{Body: mapTasks(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "report-export",
		Method:      http.MethodGet,
		Path:        "/reports/export",
		Summary:     "Report download links",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body engine.ExportLinks `json:"body"`
	}, error) {
		return &struct {
			Body engine.ExportLinks `json:"body"`
		}{Body: eng.ExportReport(ctx)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "report-email",
		Method:      http.MethodGet,
		Path:        "/reports/email",
		Summary:     "Queue the report for e-mail delivery",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		status := eng.QueueReportEmail(ctx, actorFromContext(ctx))
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": status}}, nil
	})
}
