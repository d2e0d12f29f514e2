package governance

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrInvalidRulesetContent indicates ruleset content that yielded zero
// extractable rules. Such a ruleset is never persisted.
var ErrInvalidRulesetContent = errors.New("ruleset content yields no rules")

// ErrContentInvalid is returned by RuleExtractor implementations when the
// raw content cannot be interpreted as a ruleset document at all.
var ErrContentInvalid = errors.New("content is not a valid ruleset document")

// RulesetNotFoundError indicates a ruleset referenced by id does not exist
// in the organization.
type RulesetNotFoundError struct {
	ID           uuid.UUID
	Organization string
}

func (e *RulesetNotFoundError) Error() string {
	return fmt.Sprintf("ruleset %s not found in organization %s", e.ID, e.Organization)
}

// RulesetAlreadyExistsError indicates a name collision within an
// organization.
type RulesetAlreadyExistsError struct {
	Name         string
	Organization string
}

func (e *RulesetAlreadyExistsError) Error() string {
	return fmt.Sprintf("ruleset %q already exists in organization %s", e.Name, e.Organization)
}

// ContentConversionError indicates a stored content blob that could not be
// decoded to text. Distinct from absence: a missing ruleset surfaces as
// RulesetNotFoundError before decoding is attempted.
type ContentConversionError struct {
	ID           uuid.UUID
	Organization string
}

func (e *ContentConversionError) Error() string {
	return fmt.Sprintf("content of ruleset %s in organization %s cannot be decoded to text", e.ID, e.Organization)
}
