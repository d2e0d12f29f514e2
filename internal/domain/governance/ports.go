package governance

import (
	"context"

	"github.com/google/uuid"
)

// RuleExtractor turns raw ruleset content into the ordered list of rules it
// defines. Implementations must be deterministic: the same content always
// yields the same rules in the same order. A document that cannot be
// interpreted at all fails with ErrContentInvalid; a well-formed document
// with no rules returns an empty slice, which callers reject at write time.
//
// Extracted rules carry no ID or RulesetID; the caller assigns both before
// persisting.
type RuleExtractor interface {
	Extract(content []byte) ([]Rule, error)
}

// RulesetRepository owns all reads and writes of rulesets and their derived
// rules. Every mutating operation is all-or-nothing: a ruleset is never
// observable with rules that do not correspond to its stored content.
type RulesetRepository interface {
	// CreateRuleset persists the draft and the rules extracted from its
	// content in one transaction. Fails with RulesetAlreadyExistsError on a
	// name collision within the organization and ErrInvalidRulesetContent
	// when extraction yields zero rules. Returns the freshly read ruleset so
	// server-assigned fields are populated.
	CreateRuleset(ctx context.Context, organization string, draft RulesetDraft) (*RulesetInfo, error)

	// GetRulesets lists metadata for every ruleset owned by the organization.
	GetRulesets(ctx context.Context, organization string) (*RulesetList, error)

	// GetRulesetByName looks up a ruleset by exact name. Returns (nil, nil)
	// when no such ruleset exists; absence is not an error here because
	// callers use this to probe existence.
	GetRulesetByName(ctx context.Context, organization, name string) (*RulesetInfo, error)

	// GetRulesetByID looks up a ruleset by id. Absence is an error:
	// RulesetNotFoundError.
	GetRulesetByID(ctx context.Context, organization string, id uuid.UUID) (*RulesetInfo, error)

	// GetRulesetContent returns the ruleset's raw content decoded to text.
	// Fails with RulesetNotFoundError when the ruleset is absent and with
	// ContentConversionError when the stored blob is not valid text. A
	// ruleset with no stored blob returns empty content.
	GetRulesetContent(ctx context.Context, organization string, id uuid.UUID) (string, error)

	// UpdateRuleset replaces the ruleset's attributes and re-derives its
	// rules from the new content, all in one transaction. Fails with
	// RulesetNotFoundError when the id is absent and ErrInvalidRulesetContent
	// when the new content yields zero rules; either failure leaves the
	// previous ruleset and rules intact.
	UpdateRuleset(ctx context.Context, organization string, id uuid.UUID, draft RulesetDraft) (*RulesetInfo, error)

	// DeleteRuleset removes the ruleset and all its rules in one
	// transaction. Fails with RulesetNotFoundError when the id is absent.
	DeleteRuleset(ctx context.Context, organization string, id uuid.UUID) error

	// GetAssociatedPoliciesForRuleset returns the ids of policies referencing
	// the ruleset. The association is owned elsewhere; this is a pure read
	// and an empty slice is a normal result.
	GetAssociatedPoliciesForRuleset(ctx context.Context, id uuid.UUID) ([]uuid.UUID, error)
}
