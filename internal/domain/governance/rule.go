package governance

import (
	"fmt"

	"github.com/google/uuid"
)

// Severity is the ordered severity domain for extracted rules:
// hint < info < warn < error.
type Severity string

const (
	SeverityHint  Severity = "hint"
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

var severityRanks = map[Severity]int{
	SeverityHint:  0,
	SeverityInfo:  1,
	SeverityWarn:  2,
	SeverityError: 3,
}

// ParseSeverity converts a raw severity string into a Severity.
func ParseSeverity(s string) (Severity, error) {
	sev := Severity(s)
	if _, ok := severityRanks[sev]; !ok {
		return "", fmt.Errorf("severity unknown: %q", s)
	}
	return sev, nil
}

// Rank returns the ordering position of the severity. Higher means more
// severe. Unknown severities rank below hint.
func (s Severity) Rank() int {
	if r, ok := severityRanks[s]; ok {
		return r
	}
	return -1
}

// Rule is one atomic check extracted from a ruleset's content. Rules are
// never created independently; the full set belonging to a ruleset is
// derived at create or update time and replaced wholesale on update.
type Rule struct {
	ID               uuid.UUID
	RulesetID        uuid.UUID
	Code             string
	MessageOnFailure string
	Description      string
	Severity         Severity
	Content          []byte
}
