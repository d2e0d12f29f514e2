// Package spectral implements rule extraction for Spectral-style YAML
// rulesets. A ruleset document declares its checks under a top-level
// "rules" map; each entry becomes one governance.Rule.
package spectral

import (
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/apigovern/rulekeeper/internal/domain/governance"
)

// Compile-time check that Engine satisfies the extraction contract.
var _ governance.RuleExtractor = (*Engine)(nil)

// Engine is a pure, stateless extractor. It is safe for concurrent use and
// may be shared between repositories.
type Engine struct{}

// NewEngine creates a spectral extraction engine.
func NewEngine() *Engine { return &Engine{} }

// document is the subset of a Spectral ruleset the extractor cares about.
// Keeping the rule bodies as yaml.Node preserves each rule's own definition
// fragment for storage.
type document struct {
	Rules map[string]yaml.Node `yaml:"rules"`
}

// ruleSpec is the per-rule shape. Fields beyond these (given, then,
// resolved, formats, x-*) are carried in the stored fragment but are not
// interpreted here.
type ruleSpec struct {
	Description string `yaml:"description"`
	Message     string `yaml:"message"`
	Severity    string `yaml:"severity"`
}

// Extract parses content and returns one rule per entry in the document's
// "rules" map, ordered by rule name. A document that is not valid YAML, or
// whose rules block is not a map, fails with governance.ErrContentInvalid.
// A well-formed document with no rules returns an empty slice.
func (e *Engine) Extract(content []byte) ([]governance.Rule, error) {
	var doc document
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", governance.ErrContentInvalid, err)
	}

	names := make([]string, 0, len(doc.Rules))
	for name := range doc.Rules {
		names = append(names, name)
	}
	sort.Strings(names)

	rules := make([]governance.Rule, 0, len(names))
	for _, name := range names {
		node := doc.Rules[name]
		if strings.HasPrefix(name, "x-") {
			continue
		}

		var spec ruleSpec
		if err := node.Decode(&spec); err != nil {
			return nil, fmt.Errorf("%w: rule %q: %v", governance.ErrContentInvalid, name, err)
		}

		severity := governance.SeverityWarn
		if spec.Severity != "" {
			sev, err := governance.ParseSeverity(spec.Severity)
			if err != nil {
				return nil, fmt.Errorf("%w: rule %q: %v", governance.ErrContentInvalid, name, err)
			}
			severity = sev
		}

		fragment, err := yaml.Marshal(&node)
		if err != nil {
			return nil, fmt.Errorf("%w: rule %q: %v", governance.ErrContentInvalid, name, err)
		}

		rules = append(rules, governance.Rule{
			Code:             name,
			MessageOnFailure: spec.Message,
			Description:      spec.Description,
			Severity:         severity,
			Content:          fragment,
		})
	}

	return rules, nil
}
