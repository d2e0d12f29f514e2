// Package memory provides an in-memory ruleset repository with the same
// semantics as the PostgreSQL implementation. It backs application-level
// tests and local development without a database.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/apigovern/rulekeeper/internal/domain/governance"
)

// Compile-time check that store implements governance.RulesetRepository.
var _ governance.RulesetRepository = (*store)(nil)

type record struct {
	info    governance.RulesetInfo
	content []byte
	rules   []governance.Rule
}

// store keeps rulesets, rules and policy associations behind one mutex so
// every operation is atomic, mirroring the transactional store.
type store struct {
	mu        sync.Mutex
	extractor governance.RuleExtractor
	rulesets  map[uuid.UUID]*record
	policies  map[uuid.UUID][]uuid.UUID
}

// NewStore creates an in-memory ruleset repository using the provided
// extraction engine.
func NewStore(extractor governance.RuleExtractor) *store {
	return &store{
		extractor: extractor,
		rulesets:  make(map[uuid.UUID]*record),
		policies:  make(map[uuid.UUID][]uuid.UUID),
	}
}

// AssociatePolicy links a policy id to a ruleset. The real association is
// owned by the policy subsystem; tests use this to seed lookups.
func (s *store) AssociatePolicy(rulesetID, policyID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies[rulesetID] = append(s.policies[rulesetID], policyID)
}

func (s *store) CreateRuleset(_ context.Context, organization string, draft governance.RulesetDraft) (*governance.RulesetInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range s.rulesets {
		if rec.info.Organization == organization && rec.info.Name == draft.Name {
			return nil, &governance.RulesetAlreadyExistsError{Name: draft.Name, Organization: organization}
		}
	}

	id := draft.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	rules, err := s.extractRules(id, draft.Content)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	rec := &record{
		info: governance.RulesetInfo{
			ID:                id,
			Name:              draft.Name,
			Description:       draft.Description,
			RuleType:          draft.RuleType,
			ArtifactType:      draft.ArtifactType,
			DocumentationLink: draft.DocumentationLink,
			Provider:          draft.Provider,
			Organization:      organization,
			CreatedBy:         draft.RequestedBy,
			CreatedAt:         now,
			UpdatedBy:         draft.RequestedBy,
			UpdatedAt:         now,
		},
		content: bytes.Clone(draft.Content),
		rules:   rules,
	}
	s.rulesets[id] = rec

	info := rec.info
	return &info, nil
}

func (s *store) GetRulesets(_ context.Context, organization string) (*governance.RulesetList, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos := []governance.RulesetInfo{}
	for _, rec := range s.rulesets {
		if rec.info.Organization == organization {
			infos = append(infos, rec.info)
		}
	}

	return &governance.RulesetList{Count: len(infos), Rulesets: infos}, nil
}

func (s *store) GetRulesetByName(_ context.Context, organization, name string) (*governance.RulesetInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range s.rulesets {
		if rec.info.Organization == organization && rec.info.Name == name {
			info := rec.info
			return &info, nil
		}
	}
	return nil, nil
}

func (s *store) GetRulesetByID(_ context.Context, organization string, id uuid.UUID) (*governance.RulesetInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.rulesets[id]
	if !ok || rec.info.Organization != organization {
		return nil, &governance.RulesetNotFoundError{ID: id, Organization: organization}
	}

	info := rec.info
	return &info, nil
}

func (s *store) GetRulesetContent(_ context.Context, organization string, id uuid.UUID) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.rulesets[id]
	if !ok || rec.info.Organization != organization {
		return "", &governance.RulesetNotFoundError{ID: id, Organization: organization}
	}
	if !utf8.Valid(rec.content) {
		return "", &governance.ContentConversionError{ID: id, Organization: organization}
	}
	return string(rec.content), nil
}

func (s *store) UpdateRuleset(_ context.Context, organization string, id uuid.UUID, draft governance.RulesetDraft) (*governance.RulesetInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.rulesets[id]
	if !ok || rec.info.Organization != organization {
		return nil, &governance.RulesetNotFoundError{ID: id, Organization: organization}
	}

	for otherID, other := range s.rulesets {
		if otherID != id && other.info.Organization == organization && other.info.Name == draft.Name {
			return nil, &governance.RulesetAlreadyExistsError{Name: draft.Name, Organization: organization}
		}
	}

	// Extract before touching the record so a content failure leaves the
	// previous state intact, as a rolled-back transaction would.
	rules, err := s.extractRules(id, draft.Content)
	if err != nil {
		return nil, err
	}

	rec.info.Name = draft.Name
	rec.info.Description = draft.Description
	rec.info.RuleType = draft.RuleType
	rec.info.ArtifactType = draft.ArtifactType
	rec.info.DocumentationLink = draft.DocumentationLink
	rec.info.Provider = draft.Provider
	rec.info.UpdatedBy = draft.RequestedBy
	rec.info.UpdatedAt = time.Now().UTC()
	rec.content = bytes.Clone(draft.Content)
	rec.rules = rules

	info := rec.info
	return &info, nil
}

func (s *store) DeleteRuleset(_ context.Context, organization string, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.rulesets[id]
	if !ok || rec.info.Organization != organization {
		return &governance.RulesetNotFoundError{ID: id, Organization: organization}
	}

	delete(s.rulesets, id)
	delete(s.policies, id)
	return nil
}

func (s *store) GetAssociatedPoliciesForRuleset(_ context.Context, id uuid.UUID) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := s.policies[id]
	out := make([]uuid.UUID, len(ids))
	copy(out, ids)
	return out, nil
}

func (s *store) extractRules(rulesetID uuid.UUID, content []byte) ([]governance.Rule, error) {
	rules, err := s.extractor.Extract(content)
	if err != nil {
		return nil, fmt.Errorf("extract rules: %w", err)
	}
	if len(rules) == 0 {
		return nil, fmt.Errorf("%w: ruleset %s", governance.ErrInvalidRulesetContent, rulesetID)
	}

	for i := range rules {
		rules[i].ID = uuid.New()
		rules[i].RulesetID = rulesetID
	}
	return rules, nil
}
