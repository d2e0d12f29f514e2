// Package governance contains the domain model for organization-scoped
// rulesets and the rules derived from them.
package governance

import (
	"time"

	"github.com/google/uuid"
)

// RuleType identifies the aspect of an API artifact a ruleset governs.
type RuleType string

const (
	RuleTypeAPIDefinition RuleType = "api_definition"
	RuleTypeAPIMetadata   RuleType = "api_metadata"
	RuleTypeDocumentation RuleType = "documentation"
)

// ArtifactType identifies the kind of API artifact a ruleset applies to.
type ArtifactType string

const (
	ArtifactTypeRestAPI  ArtifactType = "rest_api"
	ArtifactTypeAsyncAPI ArtifactType = "async_api"
)

// RulesetDraft carries the caller-supplied attributes for creating or
// updating a ruleset. The ID is optional on create; when empty the service
// assigns one. Content is the raw policy document and must extract to at
// least one rule before the draft is ever persisted.
type RulesetDraft struct {
	ID                uuid.UUID
	Name              string       `validate:"required,max=256"`
	Description       string       `validate:"max=1024"`
	Content           []byte       `validate:"required"`
	RuleType          RuleType     `validate:"required,oneof=api_definition api_metadata documentation"`
	ArtifactType      ArtifactType `validate:"required,oneof=rest_api async_api"`
	DocumentationLink string
	Provider          string
	RequestedBy       string
}

// RulesetInfo is the metadata view of a persisted ruleset. It never carries
// the raw content blob; use RulesetRepository.GetRulesetContent for that.
type RulesetInfo struct {
	ID                uuid.UUID
	Name              string
	Description       string
	RuleType          RuleType
	ArtifactType      ArtifactType
	DocumentationLink string
	Provider          string
	Organization      string
	CreatedBy         string
	CreatedAt         time.Time
	UpdatedBy         string
	UpdatedAt         time.Time
}

// RulesetList is a counted collection of ruleset metadata for one
// organization.
type RulesetList struct {
	Count    int
	Rulesets []RulesetInfo
}
