package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apigovern/rulekeeper/internal/domain/governance"
	"github.com/apigovern/rulekeeper/internal/infra/extraction/spectral"
)

const validContent = `rules:
  info-contact:
    description: Info object must have a contact.
    message: Missing contact object.
    given: $.info
    then:
      field: contact
      function: truthy
`

func draft(name string) governance.RulesetDraft {
	return governance.RulesetDraft{
		Name:         name,
		Content:      []byte(validContent),
		RuleType:     governance.RuleTypeAPIDefinition,
		ArtifactType: governance.ArtifactTypeRestAPI,
		RequestedBy:  "tester",
	}
}

func TestStoreLifecycle(t *testing.T) {
	t.Parallel()

	store := NewStore(spectral.NewEngine())
	ctx := context.Background()

	created, err := store.CreateRuleset(ctx, "orgA", draft("R1"))
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, created.ID)

	list, err := store.GetRulesets(ctx, "orgA")
	require.NoError(t, err)
	assert.Equal(t, 1, list.Count)

	content, err := store.GetRulesetContent(ctx, "orgA", created.ID)
	require.NoError(t, err)
	assert.Equal(t, validContent, content)

	require.NoError(t, store.DeleteRuleset(ctx, "orgA", created.ID))

	_, err = store.GetRulesetByID(ctx, "orgA", created.ID)
	var notFound *governance.RulesetNotFoundError
	assert.True(t, errors.As(err, &notFound))
}

func TestStoreDuplicateName(t *testing.T) {
	t.Parallel()

	store := NewStore(spectral.NewEngine())
	ctx := context.Background()

	_, err := store.CreateRuleset(ctx, "orgA", draft("R1"))
	require.NoError(t, err)

	_, err = store.CreateRuleset(ctx, "orgA", draft("R1"))
	var exists *governance.RulesetAlreadyExistsError
	require.True(t, errors.As(err, &exists))

	_, err = store.CreateRuleset(ctx, "orgB", draft("R1"))
	require.NoError(t, err)
}

func TestStoreZeroRuleContentRejected(t *testing.T) {
	t.Parallel()

	store := NewStore(spectral.NewEngine())
	ctx := context.Background()

	d := draft("empty")
	d.Content = []byte("description: nothing\n")
	_, err := store.CreateRuleset(ctx, "orgA", d)
	require.Error(t, err)
	assert.True(t, errors.Is(err, governance.ErrInvalidRulesetContent))

	// The failed create left nothing behind.
	list, err := store.GetRulesets(ctx, "orgA")
	require.NoError(t, err)
	assert.Zero(t, list.Count)
}

func TestStoreUpdatePreservedOnFailure(t *testing.T) {
	t.Parallel()

	store := NewStore(spectral.NewEngine())
	ctx := context.Background()

	created, err := store.CreateRuleset(ctx, "orgA", draft("R1"))
	require.NoError(t, err)

	bad := draft("R1-broken")
	bad.Content = []byte("description: nothing\n")
	_, err = store.UpdateRuleset(ctx, "orgA", created.ID, bad)
	require.Error(t, err)

	current, err := store.GetRulesetByID(ctx, "orgA", created.ID)
	require.NoError(t, err)
	assert.Equal(t, "R1", current.Name)
}

func TestStoreAssociatedPolicies(t *testing.T) {
	t.Parallel()

	store := NewStore(spectral.NewEngine())
	ctx := context.Background()

	created, err := store.CreateRuleset(ctx, "orgA", draft("R1"))
	require.NoError(t, err)

	policies, err := store.GetAssociatedPoliciesForRuleset(ctx, created.ID)
	require.NoError(t, err)
	assert.Empty(t, policies)

	policyID := uuid.New()
	store.AssociatePolicy(created.ID, policyID)

	policies, err = store.GetAssociatedPoliciesForRuleset(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, policies, 1)
	assert.Equal(t, policyID, policies[0])
}
