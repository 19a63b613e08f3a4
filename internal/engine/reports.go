package engine

import (
	"context"

	"agentdesk/internal/domain"
	"agentdesk/internal/lifecycle"
)

// Reports span every owner. Each task is read as one committed snapshot, so
// a scan never sees a dialogue without its conversation update.

func (e *Engine) WeeklyConversion(ctx context.Context) (map[string]int, error) {
	tasks, err := e.Store.ListTasks(ctx, "")
	if err != nil {
		return nil, err
	}
	return lifecycle.WeeklyConversion(tasks), nil
}

func (e *Engine) MetricAverages(ctx context.Context) (map[domain.Metric]float64, error) {
	tasks, err := e.Store.ListTasks(ctx, "")
	if err != nil {
		return nil, err
	}
	return lifecycle.MetricAverages(tasks), nil
}

func (e *Engine) ReportTasks(ctx context.Context) ([]domain.Task, error) {
	return e.Store.ListTasks(ctx, "")
}

// ExportLinks are the download locations of a rendered report.
type ExportLinks struct {
	PDF  string `json:"pdf"`
	DOCX string `json:"docx"`
}

// ExportReport returns fixed download links; rendering is not implemented.
func (e *Engine) ExportReport(context.Context) ExportLinks {
	return ExportLinks{PDF: "https://example.com/report.pdf", DOCX: "https://example.com/report.docx"}
}

// QueueReportEmail accepts a report e-mail request. Delivery is not
// implemented; the request is only logged.
func (e *Engine) QueueReportEmail(ctx context.Context, actorID string) string {
	e.Logger.InfoContext(ctx, "report email queued", "actor_id", actorID)
	return "queued"
}
