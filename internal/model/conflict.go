package model

import "time"

// Severity ranks a consistency conflict.
type Severity string

const (
	SeverityP0 Severity = "P0" // blocking
	SeverityP1 Severity = "P1" // warning, exemptable
	SeverityP2 Severity = "P2" // informational
)

// Conflict is one consistency violation found in a draft.
type Conflict struct {
	ID            string     `json:"id"`
	Severity      Severity   `json:"severity"`
	RuleID        string     `json:"rule_id"`
	EvidencePaths []string   `json:"evidence_paths"`
	Reason        string     `json:"reason"`
	SuggestedFix  string     `json:"suggested_fix,omitempty"`
	Chapter       int        `json:"chapter"`
	Resolved      bool       `json:"resolved"`
	Exempted      bool       `json:"exempted"`
	Resolution    string     `json:"resolution,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	ResolvedAt    *time.Time `json:"resolved_at,omitempty"`
}

// Open reports whether the conflict still needs attention.
func (c Conflict) Open() bool {
	return !c.Resolved && !c.Exempted
}
