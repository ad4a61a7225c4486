// Package consistency checks a chapter draft against accumulated story state.
// Checking is pure: the same draft and context always yield the same
// conflicts, with the same ids.
package consistency

import (
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/rcliao/novel-memory/internal/model"
)

// ErrNotExemptable is returned when exempting anything but a P1 conflict.
var ErrNotExemptable = errors.New("only P1 conflicts can be exempted")

// conflictNS namespaces deterministic conflict ids.
var conflictNS = uuid.NewSHA1(uuid.NameSpaceOID, []byte("novel-memory/conflict"))

func conflictID(rule string, chapter int, key string) string {
	return uuid.NewSHA1(conflictNS, []byte(rule+"|"+strconv.Itoa(chapter)+"|"+key)).String()
}

// Context is the story state a draft is checked against.
type Context struct {
	Chapter     int
	Entities    []model.EntityState
	Events      []model.EventEdge
	Identity    string
	Taboos      []string
	Foreshadows []model.Foreshadow
	Callbacks   []string
}

// Report is the verdict for one draft.
type Report struct {
	CanSubmit      bool             `json:"can_submit"`
	TotalConflicts int              `json:"total_conflicts"`
	P0Count        int              `json:"p0_count"`
	P1Count        int              `json:"p1_count"`
	P2Count        int              `json:"p2_count"`
	Conflicts      []model.Conflict `json:"conflicts"`
	P0             []model.Conflict `json:"p0_conflicts"`
	P1             []model.Conflict `json:"p1_conflicts"`
	P2             []model.Conflict `json:"p2_conflicts"`
}

// Engine runs a fixed rule set.
type Engine struct {
	rules []Rule
}

// DefaultRules are the timeline, character state, relation, world rule and
// foreshadowing checks.
func DefaultRules() []Rule {
	return []Rule{Timeline{}, CharacterState{}, Relation{}, WorldRule{}, Foreshadow{}}
}

// NewEngine returns an engine over rules, or DefaultRules when none are given.
func NewEngine(rules ...Rule) *Engine {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Engine{rules: rules}
}

// Check runs every rule over draft.
func (e *Engine) Check(draft string, c Context) Report {
	seen := map[string]bool{}
	all := []model.Conflict{}
	for _, r := range e.rules {
		for _, cf := range r.Check(draft, c) {
			if seen[cf.ID] {
				continue
			}
			seen[cf.ID] = true
			all = append(all, cf)
		}
	}
	sortConflicts(all)

	rep := Report{Conflicts: all, P0: []model.Conflict{}, P1: []model.Conflict{}, P2: []model.Conflict{}}
	for _, cf := range all {
		switch cf.Severity {
		case model.SeverityP0:
			rep.P0 = append(rep.P0, cf)
		case model.SeverityP1:
			rep.P1 = append(rep.P1, cf)
		case model.SeverityP2:
			rep.P2 = append(rep.P2, cf)
		}
	}
	rep.TotalConflicts = len(all)
	rep.P0Count, rep.P1Count, rep.P2Count = len(rep.P0), len(rep.P1), len(rep.P2)
	rep.CanSubmit = rep.P0Count == 0
	return rep
}

// Resolve marks c fixed with a note.
func Resolve(c model.Conflict, note string) model.Conflict {
	now := time.Now().UTC()
	c.Resolved = true
	c.Resolution = note
	c.ResolvedAt = &now
	return c
}

// Exempt accepts a P1 conflict as intentional. Other severities return
// ErrNotExemptable and c unchanged.
func Exempt(c model.Conflict, reason string) (model.Conflict, error) {
	if c.Severity != model.SeverityP1 {
		return c, ErrNotExemptable
	}
	now := time.Now().UTC()
	c.Exempted = true
	c.Resolution = "Exempted: " + reason
	c.ResolvedAt = &now
	return c, nil
}

// Blocking returns the open P0 conflicts among cs.
func Blocking(cs []model.Conflict) []model.Conflict {
	var out []model.Conflict
	for _, c := range cs {
		if c.Severity == model.SeverityP0 && c.Open() {
			out = append(out, c)
		}
	}
	return out
}
