package alerts

import "sterilization-gateway/internal/models"

// Aggregate maps every cycle to the highest severity among its alerts, using
// CRITICAL > WARNING > INFO. Alerts without a cycle, and alerts whose severity
// is not one of the three, do not produce entries.
func Aggregate(list []models.Alert) map[string]models.Severity {
	out := make(map[string]models.Severity)
	for _, a := range list {
		if a.CycleID == "" || a.Severity.Rank() == 0 {
			continue
		}
		if cur, ok := out[a.CycleID]; !ok || a.Severity.Rank() > cur.Rank() {
			out[a.CycleID] = a.Severity
		}
	}
	return out
}

// Escalation is a cycle whose aggregated severity went up between two polls.
type Escalation struct {
	CycleID  string
	Previous models.Severity // empty when the cycle had no open alerts before
	Current  models.Severity
}

// Diff lists cycles whose severity rose from prev to next.
func Diff(prev, next map[string]models.Severity) []Escalation {
	var out []Escalation
	for cycle, sev := range next {
		old := prev[cycle]
		if sev.Rank() > old.Rank() {
			out = append(out, Escalation{CycleID: cycle, Previous: old, Current: sev})
		}
	}
	return out
}

// Equal reports whether two aggregated maps hold the same entries.
func Equal(a, b map[string]models.Severity) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if w, ok := b[k]; !ok || w != v {
			return false
		}
	}
	return true
}
