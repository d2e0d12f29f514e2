// Package governance provides the application service for managing
// organization-scoped rulesets. It validates incoming drafts before
// delegating to the ruleset repository.
package governance

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	entranslations "github.com/go-playground/validator/v10/translations/en"
	"github.com/google/uuid"

	"github.com/apigovern/rulekeeper/internal/domain/governance"
	"github.com/apigovern/rulekeeper/pkg/common/logger"
)

// ErrInvalidDraft wraps draft validation failures so callers can
// distinguish bad input from persistence errors.
var ErrInvalidDraft = errors.New("invalid ruleset draft")

// Service coordinates ruleset operations: draft validation, id assignment
// and delegation to the repository. One shared instance is constructed at
// process start and passed to callers explicitly.
type Service struct {
	log        *logger.Logger
	repo       governance.RulesetRepository
	validate   *validator.Validate
	translator ut.Translator
}

// NewService creates a governance service backed by the given repository.
func NewService(log *logger.Logger, repo governance.RulesetRepository) *Service {
	validate := validator.New(validator.WithRequiredStructEnabled())

	translator, _ := ut.New(en.New(), en.New()).GetTranslator("en")
	if err := entranslations.RegisterDefaultTranslations(validate, translator); err != nil {
		// Only fails on a nil translator; translations fall back to raw tags.
		log.Warn(context.Background(), "registering validator translations", "error", err)
	}

	return &Service{
		log:        log,
		repo:       repo,
		validate:   validate,
		translator: translator,
	}
}

// CreateRuleset validates the draft, assigns an id when the caller did not
// supply one and persists the ruleset with its extracted rules.
func (s *Service) CreateRuleset(ctx context.Context, organization string, draft governance.RulesetDraft) (*governance.RulesetInfo, error) {
	if err := s.checkDraft(draft); err != nil {
		return nil, err
	}
	if draft.ID == uuid.Nil {
		draft.ID = uuid.New()
	}

	info, err := s.repo.CreateRuleset(ctx, organization, draft)
	if err != nil {
		return nil, err
	}

	s.log.Info(ctx, "ruleset created",
		"organization", organization,
		"ruleset_id", info.ID.String(),
		"ruleset_name", info.Name,
	)
	return info, nil
}

// GetRulesets lists metadata for every ruleset owned by the organization.
func (s *Service) GetRulesets(ctx context.Context, organization string) (*governance.RulesetList, error) {
	return s.repo.GetRulesets(ctx, organization)
}

// GetRulesetByName looks up a ruleset by exact name; (nil, nil) on a miss.
func (s *Service) GetRulesetByName(ctx context.Context, organization, name string) (*governance.RulesetInfo, error) {
	return s.repo.GetRulesetByName(ctx, organization, name)
}

// GetRulesetByID looks up a ruleset by id.
func (s *Service) GetRulesetByID(ctx context.Context, organization string, id uuid.UUID) (*governance.RulesetInfo, error) {
	return s.repo.GetRulesetByID(ctx, organization, id)
}

// GetRulesetContent returns the ruleset's raw content decoded to text.
func (s *Service) GetRulesetContent(ctx context.Context, organization string, id uuid.UUID) (string, error) {
	return s.repo.GetRulesetContent(ctx, organization, id)
}

// UpdateRuleset validates the draft and replaces the ruleset's attributes
// and derived rules.
func (s *Service) UpdateRuleset(ctx context.Context, organization string, id uuid.UUID, draft governance.RulesetDraft) (*governance.RulesetInfo, error) {
	if err := s.checkDraft(draft); err != nil {
		return nil, err
	}

	info, err := s.repo.UpdateRuleset(ctx, organization, id, draft)
	if err != nil {
		return nil, err
	}

	s.log.Info(ctx, "ruleset updated",
		"organization", organization,
		"ruleset_id", id.String(),
		"ruleset_name", info.Name,
	)
	return info, nil
}

// DeleteRuleset removes the ruleset and all its rules.
func (s *Service) DeleteRuleset(ctx context.Context, organization string, id uuid.UUID) error {
	if err := s.repo.DeleteRuleset(ctx, organization, id); err != nil {
		return err
	}

	s.log.Info(ctx, "ruleset deleted",
		"organization", organization,
		"ruleset_id", id.String(),
	)
	return nil
}

// GetAssociatedPoliciesForRuleset returns the ids of policies referencing
// the ruleset.
func (s *Service) GetAssociatedPoliciesForRuleset(ctx context.Context, id uuid.UUID) ([]uuid.UUID, error) {
	return s.repo.GetAssociatedPoliciesForRuleset(ctx, id)
}

func (s *Service) checkDraft(draft governance.RulesetDraft) error {
	err := s.validate.Struct(draft)
	if err == nil {
		return nil
	}

	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		return fmt.Errorf("%w: %v", ErrInvalidDraft, err)
	}

	msgs := make([]string, 0, len(fieldErrors))
	for _, fe := range fieldErrors {
		msgs = append(msgs, fe.Translate(s.translator))
	}
	return fmt.Errorf("%w: %s", ErrInvalidDraft, strings.Join(msgs, "; "))
}
