// Package workflow gates which stage moves are legal and which side effects
// they trigger.
package workflow

import (
	"fmt"
	"strings"

	"github.com/blatr/idealista-notify-bot/internal/domain"
)

// Table maps each stage to the stages a card may move to from it. Terminal
// stages map to an empty slice.
type Table map[domain.Stage][]domain.Stage

// Default returns the stock board flow: forward progress plus the explicit
// backward moves a human needs when a drag misfires.
func Default() Table {
	return Table{
		domain.StageNew:       {domain.StageContacted, domain.StageRejected},
		domain.StageContacted: {domain.StageViewing, domain.StageRejected, domain.StageNew},
		domain.StageViewing:   {domain.StageApplied, domain.StageRejected, domain.StageContacted},
		domain.StageApplied:   {domain.StageAccepted, domain.StageRejected, domain.StageViewing},
		domain.StageAccepted:  {},
		domain.StageRejected:  {},
	}
}

// WithEdges returns a copy of t extended with extra "from:to" edges, so the
// allowed backward-transition set is a config call rather than a code change.
func (t Table) WithEdges(pairs []string) (Table, error) {
	out := make(Table, len(t))
	for from, tos := range t {
		out[from] = append([]domain.Stage(nil), tos...)
	}
	for _, pair := range pairs {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		fields := strings.SplitN(pair, ":", 2)
		if len(fields) != 2 {
			return nil, fmt.Errorf("malformed workflow edge %q (want from:to)", pair)
		}
		from := domain.Stage(strings.TrimSpace(fields[0]))
		to := domain.Stage(strings.TrimSpace(fields[1]))
		if !from.IsValid() || !to.IsValid() {
			return nil, fmt.Errorf("workflow edge %q names an unknown stage", pair)
		}
		if from.IsTerminal() {
			return nil, fmt.Errorf("workflow edge %q leaves a terminal stage", pair)
		}
		if !out.Allowed(from, to) {
			out[from] = append(out[from], to)
		}
	}
	return out, nil
}

// Allowed reports whether from → to is an edge in the table. Same-stage is
// not an edge; callers treat it as a pure reorder before consulting the table.
func (t Table) Allowed(from, to domain.Stage) bool {
	for _, v := range t[from] {
		if v == to {
			return true
		}
	}
	return false
}

// EventKindFor returns the side effect fired on arrival in a stage, or ""
// when the edge is silent. Entering contacted schedules a follow-up; landing
// in a terminal stage announces the decision.
func EventKindFor(to domain.Stage) domain.EventKind {
	switch to {
	case domain.StageContacted:
		return domain.EventFollowUpNeeded
	case domain.StageAccepted, domain.StageRejected:
		return domain.EventDecided
	default:
		return ""
	}
}
