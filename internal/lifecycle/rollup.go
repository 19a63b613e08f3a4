package lifecycle

import (
	"fmt"
	"time"

	"agentdesk/internal/domain"
)

// WeekKey buckets ts as YYYY-Www where weeks start on Sunday and the days
// before the year's first Sunday fall in week 00.
func WeekKey(ts time.Time) string {
	ts = ts.UTC()
	yday := ts.YearDay() - 1
	week := (yday + 7 - int(ts.Weekday())) / 7
	return fmt.Sprintf("%04d-W%02d", ts.Year(), week)
}

// WeeklyConversion counts completed dialogue records per week. Weeks that
// saw records but no completions are reported with 0.
func WeeklyConversion(tasks []domain.Task) map[string]int {
	out := map[string]int{}
	for _, t := range tasks {
		for _, d := range t.Dialogues {
			key := WeekKey(d.Timestamp)
			if _, ok := out[key]; !ok {
				out[key] = 0
			}
			if d.Status == domain.StatusCompleted {
				out[key]++
			}
		}
	}
	return out
}

// MetricAverages averages each metric over the records that carried it.
// Metrics never observed average 0.
func MetricAverages(tasks []domain.Task) map[domain.Metric]float64 {
	totals := make(map[domain.Metric]int, len(domain.Metrics))
	counts := make(map[domain.Metric]int, len(domain.Metrics))
	for _, t := range tasks {
		for _, d := range t.Dialogues {
			for m, score := range d.Metrics {
				totals[m] += score
				counts[m]++
			}
		}
	}
	out := make(map[domain.Metric]float64, len(domain.Metrics))
	for _, m := range domain.Metrics {
		if counts[m] == 0 {
			out[m] = 0
			continue
		}
		out[m] = float64(totals[m]) / float64(counts[m])
	}
	return out
}
