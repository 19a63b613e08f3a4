package lifecycle_test

import (
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"agentdesk/internal/domain"
	"agentdesk/internal/lifecycle"
)

func seqIDs(prefix string) func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}

func baseInstruction() domain.InstructionSet {
	return domain.InstructionSet{
		Background:         "bg",
		Goal:               "sell",
		Steps:              []string{"a", "b"},
		ResponseRules:      []string{"be brief"},
		CommunicationStyle: "friendly",
		FileRules:          []string{"no pdf"},
		AllowedFunctions:   []domain.Capability{{Name: "lookup"}},
		ProactivityLevel:   "high",
	}
}

func newTask() *domain.Task {
	t := &domain.Task{ID: "task-1", OwnerID: "owner-1"}
	lifecycle.AppendRevision(t, baseInstruction())
	return t
}

var t0 = time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

func TestAppendRevisionKeepsCurrentAtTail(t *testing.T) {
	task := newTask()
	next := baseInstruction()
	next.Goal = "retain"
	lifecycle.AppendRevision(task, next)
	if len(task.InstructionHistory) != 2 {
		t.Fatalf("expected 2 revisions, got %d", len(task.InstructionHistory))
	}
	if !reflect.DeepEqual(task.CurrentInstruction, task.InstructionHistory[1]) {
		t.Fatalf("current instruction should equal last revision")
	}
	next.Steps[0] = "mutated"
	if task.CurrentInstruction.Steps[0] != "a" {
		t.Fatalf("ledger must not alias caller slices")
	}
}

func TestResolveDiffAcceptChangesOnlyNamedField(t *testing.T) {
	task := newTask()
	before := task.CurrentInstruction.Clone()
	diff := domain.InstructionDiff{Field: "goal", Previous: "sell", Proposed: "upsell"}
	if err := lifecycle.ResolveDiff(task, diff, lifecycle.ActionAccept, lifecycle.DiffModeTracked, seqIDs("d"), t0); err != nil {
		t.Fatalf("accept: %v", err)
	}
	want := before
	want.Goal = "upsell"
	if !reflect.DeepEqual(task.CurrentInstruction, want) {
		t.Fatalf("unexpected instruction after accept: %+v", task.CurrentInstruction)
	}
	if len(task.InstructionHistory) != 1 {
		t.Fatalf("accept must not append history")
	}
}

func TestResolveDiffAcceptListField(t *testing.T) {
	task := newTask()
	diff := domain.InstructionDiff{Field: "steps", Previous: "a; b", Proposed: "a; b; c"}
	if err := lifecycle.ResolveDiff(task, diff, lifecycle.ActionAccept, lifecycle.DiffModeTracked, seqIDs("d"), t0); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if !reflect.DeepEqual(task.CurrentInstruction.Steps, []string{"a", "b", "c"}) {
		t.Fatalf("unexpected steps %v", task.CurrentInstruction.Steps)
	}
}

func TestResolveDiffAcceptAllowedFunctions(t *testing.T) {
	task := newTask()
	diff := domain.InstructionDiff{Field: "allowed_functions", Proposed: `[{"name":"crm.search","description":"find lead"}]`}
	if err := lifecycle.ResolveDiff(task, diff, lifecycle.ActionAccept, lifecycle.DiffModeTracked, seqIDs("d"), t0); err != nil {
		t.Fatalf("accept: %v", err)
	}
	want := []domain.Capability{{Name: "crm.search", Description: "find lead"}}
	if !reflect.DeepEqual(task.CurrentInstruction.AllowedFunctions, want) {
		t.Fatalf("unexpected functions %v", task.CurrentInstruction.AllowedFunctions)
	}

	bad := domain.InstructionDiff{Field: "allowed_functions", Proposed: "not json"}
	err := lifecycle.ResolveDiff(task, bad, lifecycle.ActionAccept, lifecycle.DiffModeTracked, seqIDs("d"), t0)
	var ia domain.InvalidArgumentError
	if !errors.As(err, &ia) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestResolveDiffRejectLeavesInstruction(t *testing.T) {
	task := newTask()
	before := task.CurrentInstruction.Clone()
	diff := domain.InstructionDiff{Field: "goal", Proposed: "other"}
	if err := lifecycle.ResolveDiff(task, diff, lifecycle.ActionReject, lifecycle.DiffModeTracked, seqIDs("d"), t0); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if !reflect.DeepEqual(task.CurrentInstruction, before) {
		t.Fatalf("reject mutated the instruction")
	}
	if !reflect.DeepEqual(task.CurrentInstruction, task.InstructionHistory[len(task.InstructionHistory)-1]) {
		t.Fatalf("current should still equal last revision after reject")
	}
	if len(task.Diffs) != 0 {
		t.Fatalf("reject must not add diffs")
	}
}

func TestResolveDiffProposeAppendsPending(t *testing.T) {
	task := newTask()
	for _, action := range []string{"propose", "later", ""} {
		diff := domain.InstructionDiff{Field: "goal", Previous: "sell", Proposed: action + "x"}
		if err := lifecycle.ResolveDiff(task, diff, action, lifecycle.DiffModeTracked, seqIDs(action), t0); err != nil {
			t.Fatalf("propose %q: %v", action, err)
		}
	}
	if len(task.Diffs) != 3 {
		t.Fatalf("expected 3 pending diffs, got %d", len(task.Diffs))
	}
	for _, d := range task.Diffs {
		if d.Status != domain.DiffPending || d.Origin != domain.OriginCaller || d.ID == "" {
			t.Fatalf("unexpected diff %+v", d)
		}
	}
	if task.CurrentInstruction.Goal != "sell" {
		t.Fatalf("proposal must not change the instruction")
	}
}

func TestResolveDiffUnknownField(t *testing.T) {
	task := newTask()
	for _, action := range []string{lifecycle.ActionAccept, lifecycle.ActionPropose} {
		err := lifecycle.ResolveDiff(task, domain.InstructionDiff{Field: "mood", Proposed: "x"}, action, lifecycle.DiffModeTracked, seqIDs("d"), t0)
		var ia domain.InvalidArgumentError
		if !errors.As(err, &ia) {
			t.Fatalf("%s: expected invalid argument, got %v", action, err)
		}
	}
	if len(task.Diffs) != 0 {
		t.Fatalf("invalid proposal must not be stored")
	}
}

func TestDiffResolutionTracking(t *testing.T) {
	cases := []struct {
		name   string
		mode   lifecycle.DiffMode
		action string
		want   domain.DiffStatus
	}{
		{"tracked accept", lifecycle.DiffModeTracked, lifecycle.ActionAccept, domain.DiffAccepted},
		{"tracked reject", lifecycle.DiffModeTracked, lifecycle.ActionReject, domain.DiffRejected},
		{"legacy accept", lifecycle.DiffModeLegacy, lifecycle.ActionAccept, domain.DiffPending},
		{"legacy reject", lifecycle.DiffModeLegacy, lifecycle.ActionReject, domain.DiffPending},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			task := newTask()
			proposal := domain.InstructionDiff{Field: "goal", Previous: "sell", Proposed: "upsell"}
			if err := lifecycle.ResolveDiff(task, proposal, lifecycle.ActionPropose, tc.mode, seqIDs("d"), t0); err != nil {
				t.Fatal(err)
			}
			// resolve by content, without the id
			if err := lifecycle.ResolveDiff(task, proposal, tc.action, tc.mode, seqIDs("x"), t0); err != nil {
				t.Fatal(err)
			}
			if len(task.Diffs) != 1 {
				t.Fatalf("resolution must not add or remove diffs, got %d", len(task.Diffs))
			}
			if task.Diffs[0].Status != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, task.Diffs[0].Status)
			}
		})
	}
}

func TestResolveByIDPicksThatDiff(t *testing.T) {
	task := newTask()
	ids := seqIDs("d")
	p := domain.InstructionDiff{Field: "goal", Previous: "sell", Proposed: "upsell"}
	_ = lifecycle.ResolveDiff(task, p, lifecycle.ActionPropose, lifecycle.DiffModeTracked, ids, t0)
	_ = lifecycle.ResolveDiff(task, p, lifecycle.ActionPropose, lifecycle.DiffModeTracked, ids, t0)
	second := task.Diffs[1]
	if err := lifecycle.ResolveDiff(task, second, lifecycle.ActionReject, lifecycle.DiffModeTracked, ids, t0); err != nil {
		t.Fatal(err)
	}
	if task.Diffs[0].Status != domain.DiffPending || task.Diffs[1].Status != domain.DiffRejected {
		t.Fatalf("unexpected statuses %s %s", task.Diffs[0].Status, task.Diffs[1].Status)
	}
}

func TestResolveByIDAppliesStoredChange(t *testing.T) {
	task := newTask()
	p := domain.InstructionDiff{Field: "goal", Previous: "sell", Proposed: "stored-goal"}
	if err := lifecycle.ResolveDiff(task, p, lifecycle.ActionPropose, lifecycle.DiffModeTracked, seqIDs("d"), t0); err != nil {
		t.Fatal(err)
	}
	if err := lifecycle.ResolveDiff(task, domain.InstructionDiff{ID: "d-1"}, lifecycle.ActionAccept, lifecycle.DiffModeTracked, nil, t0); err != nil {
		t.Fatalf("accept by id: %v", err)
	}
	if task.CurrentInstruction.Goal != "stored-goal" || task.Diffs[0].Status != domain.DiffAccepted {
		t.Fatalf("goal=%q status=%s", task.CurrentInstruction.Goal, task.Diffs[0].Status)
	}
}

func TestResolveByIDRejectsMismatches(t *testing.T) {
	cases := []struct {
		name     string
		ref      domain.InstructionDiff
		resolved bool
		notFound bool
	}{
		{"other field", domain.InstructionDiff{ID: "d-1", Field: "background", Proposed: "other"}, false, false},
		{"other value", domain.InstructionDiff{ID: "d-1", Field: "goal", Proposed: "other"}, false, false},
		{"unknown id", domain.InstructionDiff{ID: "d-9", Field: "goal", Proposed: "stored-goal"}, false, true},
		{"already resolved", domain.InstructionDiff{ID: "d-1"}, true, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			task := newTask()
			p := domain.InstructionDiff{Field: "goal", Previous: "sell", Proposed: "stored-goal"}
			if err := lifecycle.ResolveDiff(task, p, lifecycle.ActionPropose, lifecycle.DiffModeTracked, seqIDs("d"), t0); err != nil {
				t.Fatal(err)
			}
			if tc.resolved {
				if err := lifecycle.ResolveDiff(task, tc.ref, lifecycle.ActionReject, lifecycle.DiffModeTracked, nil, t0); err != nil {
					t.Fatal(err)
				}
			}
			before := task.Clone()
			err := lifecycle.ResolveDiff(task, tc.ref, lifecycle.ActionAccept, lifecycle.DiffModeTracked, nil, t0)
			if tc.notFound {
				if !errors.Is(err, domain.ErrNotFound) {
					t.Fatalf("expected not found, got %v", err)
				}
			} else {
				var ie domain.InvalidArgumentError
				if !errors.As(err, &ie) {
					t.Fatalf("expected invalid argument, got %v", err)
				}
			}
			if !reflect.DeepEqual(before, task.Clone()) {
				t.Fatalf("failed resolution changed the task: %+v", task.CurrentInstruction)
			}
		})
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	s := baseInstruction()
	for _, field := range []string{"background", "goal", "steps", "response_rules", "communication_style", "file_rules", "allowed_functions", "proactivity_level", "telegram_account_id"} {
		raw, err := lifecycle.Serialize(s, field)
		if err != nil {
			t.Fatalf("serialize %s: %v", field, err)
		}
		got, err := lifecycle.ApplyField(s, field, raw)
		if err != nil {
			t.Fatalf("apply %s: %v", field, err)
		}
		if !reflect.DeepEqual(got, s) {
			t.Fatalf("%s did not round trip: %+v", field, got)
		}
	}
}

func TestCreateAssignmentsPreservesOrderAndDuplicates(t *testing.T) {
	task := newTask()
	created := lifecycle.CreateAssignments(task, []string{"E1", "E2", "E1"}, seqIDs("c"))
	if len(created) != 3 || len(task.Conversations) != 3 {
		t.Fatalf("expected 3 conversations, got %d", len(task.Conversations))
	}
	for i, want := range []string{"E1", "E2", "E1"} {
		c := task.Conversations[i]
		if c.AgentAccountID != want || c.Status != domain.StatusInProgress {
			t.Fatalf("conversation %d: %+v", i, c)
		}
	}
	if task.Conversations[0].ID == task.Conversations[2].ID {
		t.Fatalf("duplicate endpoints must get distinct conversation ids")
	}
}

func TestFindMissingConversation(t *testing.T) {
	task := newTask()
	_, err := lifecycle.Find(task, "nope")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestTransitionsAreUnconstrained(t *testing.T) {
	statuses := []domain.ConversationStatus{domain.StatusInProgress, domain.StatusCompleted, domain.StatusFailed}
	for _, from := range statuses {
		for _, to := range statuses {
			if err := lifecycle.Transition(from, to); err != nil {
				t.Fatalf("%s -> %s rejected: %v", from, to, err)
			}
		}
	}
	if err := lifecycle.Transition(domain.StatusInProgress, "paused"); err == nil {
		t.Fatalf("unknown status should be rejected")
	}
}

func TestRecorderAutoDiffEveryTenth(t *testing.T) {
	task := newTask()
	lifecycle.CreateAssignments(task, []string{"E1", "E2"}, seqIDs("c"))
	rec := lifecycle.Recorder{NewID: seqIDs("d")}
	for i := 1; i <= 30; i++ {
		conv := task.Conversations[i%2].ID
		out, err := rec.Record(task, lifecycle.Turn{ConversationID: conv, Status: domain.StatusInProgress, At: t0})
		if err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
		if (i%10 == 0) != (out.AutoDiff != nil) {
			t.Fatalf("record %d: auto diff = %v", i, out.AutoDiff != nil)
		}
		if len(task.Diffs) != i/10 {
			t.Fatalf("after %d records expected %d diffs, got %d", i, i/10, len(task.Diffs))
		}
	}
}

func TestRecorderReminderDiffContent(t *testing.T) {
	task := newTask()
	lifecycle.CreateAssignments(task, []string{"E1"}, seqIDs("c"))
	rec := lifecycle.Recorder{NewID: seqIDs("d")}
	for i := 0; i < 10; i++ {
		if _, err := rec.Record(task, lifecycle.Turn{ConversationID: task.Conversations[0].ID, Status: domain.StatusCompleted, At: t0}); err != nil {
			t.Fatal(err)
		}
	}
	if len(task.Diffs) != 1 {
		t.Fatalf("expected one diff, got %d", len(task.Diffs))
	}
	d := task.Diffs[0]
	if d.Field != "steps" || d.Previous != "a; b" || d.Proposed != "a; b; Add onboarding reminder" {
		t.Fatalf("unexpected diff %+v", d)
	}
	if d.Origin != domain.OriginSystem || d.Status != domain.DiffPending {
		t.Fatalf("system diff should be pending: %+v", d)
	}
	if !reflect.DeepEqual(task.CurrentInstruction.Steps, []string{"a", "b"}) {
		t.Fatalf("auto diff must not be applied")
	}
}

func TestRecorderUpdatesConversationAndCopiesMetrics(t *testing.T) {
	task := newTask()
	lifecycle.CreateAssignments(task, []string{"E1"}, seqIDs("c"))
	result := "signed"
	notes := "quick close"
	metrics := map[domain.Metric]int{domain.MetricPersuasion: 8}
	out, err := lifecycle.Recorder{}.Record(task, lifecycle.Turn{
		ConversationID: task.Conversations[0].ID,
		Status:         domain.StatusCompleted,
		Result:         &result,
		Notes:          &notes,
		Metrics:        metrics,
		At:             t0,
	})
	if err != nil {
		t.Fatal(err)
	}
	c := task.Conversations[0]
	if c.Status != domain.StatusCompleted || c.Result == nil || *c.Result != "signed" {
		t.Fatalf("conversation not updated: %+v", c)
	}
	metrics[domain.MetricResilience] = 3
	if len(out.Dialogue.Metrics) != 1 || len(task.Dialogues[0].Metrics) != 1 {
		t.Fatalf("metrics should be copied without zero fill: %v", task.Dialogues[0].Metrics)
	}
}

func TestRecorderRejectsUnknownInput(t *testing.T) {
	task := newTask()
	lifecycle.CreateAssignments(task, []string{"E1"}, seqIDs("c"))
	conv := task.Conversations[0].ID
	_, err := lifecycle.Recorder{}.Record(task, lifecycle.Turn{ConversationID: conv, Status: domain.StatusCompleted, Metrics: map[domain.Metric]int{"charm": 1}, At: t0})
	var ia domain.InvalidArgumentError
	if !errors.As(err, &ia) {
		t.Fatalf("expected invalid metric, got %v", err)
	}
	_, err = lifecycle.Recorder{}.Record(task, lifecycle.Turn{ConversationID: "missing", Status: domain.StatusCompleted, At: t0})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if len(task.Dialogues) != 0 || task.Conversations[0].Status != domain.StatusInProgress {
		t.Fatalf("rejected turns must not mutate the task")
	}
}

func TestAggregate(t *testing.T) {
	conv := func(statuses ...domain.ConversationStatus) []domain.ConversationAssignment {
		out := make([]domain.ConversationAssignment, len(statuses))
		for i, s := range statuses {
			out[i] = domain.ConversationAssignment{ID: fmt.Sprint(i), Status: s}
		}
		return out
	}
	cases := []struct {
		name string
		in   []domain.ConversationAssignment
		want domain.ConversationStatus
	}{
		{"empty", nil, domain.StatusInProgress},
		{"all completed", conv(domain.StatusCompleted, domain.StatusCompleted), domain.StatusCompleted},
		{"one in progress", conv(domain.StatusCompleted, domain.StatusInProgress), domain.StatusInProgress},
		{"one failed", conv(domain.StatusCompleted, domain.StatusFailed), domain.StatusFailed},
		{"failed and in progress", conv(domain.StatusInProgress, domain.StatusFailed), domain.StatusFailed},
		{"single in progress", conv(domain.StatusInProgress), domain.StatusInProgress},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := lifecycle.Aggregate(tc.in); got != tc.want {
				t.Fatalf("got %s, want %s", got, tc.want)
			}
		})
	}
}

func TestFilterBeforeAggregate(t *testing.T) {
	convs := []domain.ConversationAssignment{
		{ID: "1", Status: domain.StatusCompleted},
		{ID: "2", Status: domain.StatusFailed},
	}
	if got := lifecycle.Aggregate(lifecycle.Filter(convs, []string{"1"})); got != domain.StatusCompleted {
		t.Fatalf("filtered aggregate = %s", got)
	}
	if got := lifecycle.Aggregate(lifecycle.Filter(convs, nil)); got != domain.StatusFailed {
		t.Fatalf("unfiltered aggregate = %s", got)
	}
	if got := lifecycle.Filter(convs, []string{"zzz"}); len(got) != 0 {
		t.Fatalf("unknown ids should filter everything, got %d", len(got))
	}
}

func TestWeekKeySundayFirst(t *testing.T) {
	cases := map[string]string{
		"2024-01-01": "2024-W00", // Monday
		"2024-01-06": "2024-W00", // Saturday
		"2024-01-07": "2024-W01", // first Sunday
		"2024-01-13": "2024-W01",
		"2024-01-14": "2024-W02",
		"2023-01-01": "2023-W01", // year starting on Sunday
		"2024-12-31": "2024-W52",
	}
	for day, want := range cases {
		ts, err := time.Parse("2006-01-02", day)
		if err != nil {
			t.Fatal(err)
		}
		if got := lifecycle.WeekKey(ts.Add(15 * time.Hour)); got != want {
			t.Fatalf("%s: got %s, want %s", day, got, want)
		}
	}
}

func TestWeeklyConversion(t *testing.T) {
	tasks := []domain.Task{
		{Dialogues: []domain.DialogueRecord{
			{Timestamp: time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC), Status: domain.StatusCompleted},
			{Timestamp: time.Date(2024, 1, 9, 9, 0, 0, 0, time.UTC), Status: domain.StatusFailed},
		}},
		{Dialogues: []domain.DialogueRecord{
			{Timestamp: time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC), Status: domain.StatusCompleted},
			{Timestamp: time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC), Status: domain.StatusInProgress},
		}},
	}
	got := lifecycle.WeeklyConversion(tasks)
	want := map[string]int{"2024-W01": 2, "2024-W04": 0}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestMetricAverages(t *testing.T) {
	tasks := []domain.Task{
		{Dialogues: []domain.DialogueRecord{
			{Metrics: map[domain.Metric]int{domain.MetricPersuasion: 4, domain.MetricMCPUsage: 1}},
			{Metrics: map[domain.Metric]int{domain.MetricPersuasion: 7}},
		}},
		{Dialogues: []domain.DialogueRecord{{Metrics: map[domain.Metric]int{}}}},
	}
	got := lifecycle.MetricAverages(tasks)
	if len(got) != len(domain.Metrics) {
		t.Fatalf("expected every metric reported, got %v", got)
	}
	if got[domain.MetricPersuasion] != 5.5 {
		t.Fatalf("persuasion = %v", got[domain.MetricPersuasion])
	}
	if got[domain.MetricMCPUsage] != 1 {
		t.Fatalf("mcp_usage = %v", got[domain.MetricMCPUsage])
	}
	if got[domain.MetricResilience] != 0 {
		t.Fatalf("unobserved metric should be 0, got %v", got[domain.MetricResilience])
	}
	if empty := lifecycle.MetricAverages(nil); empty[domain.MetricAdaptability] != 0 {
		t.Fatalf("empty rollup should report 0")
	}
}
