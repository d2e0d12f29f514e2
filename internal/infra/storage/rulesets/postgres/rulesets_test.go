package postgres

import (
	"context"
	"errors"
	"io"
	"testing"

	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apigovern/rulekeeper/internal/app/governance/metrics"
	"github.com/apigovern/rulekeeper/internal/domain/governance"
	"github.com/apigovern/rulekeeper/internal/infra/extraction/spectral"
	"github.com/apigovern/rulekeeper/internal/infra/storage"
	"github.com/apigovern/rulekeeper/pkg/common/logger"
	"github.com/apigovern/rulekeeper/pkg/common/otel"
)

const twoRuleContent = `rules:
  info-contact:
    description: Info object must have a contact.
    message: Missing contact object.
    severity: warn
    given: $.info
    then:
      field: contact
      function: truthy
  no-trailing-slash:
    description: Paths must not end with a slash.
    message: "{{path}} ends with a slash"
    severity: error
    given: $.paths[*]~
    then:
      function: pattern
      functionOptions:
        notMatch: "/$"
`

const singleRuleContent = `rules:
  operation-tags:
    description: Every operation should carry at least one tag.
    message: Operation has no tags.
    severity: info
    given: $.paths[*][*]
    then:
      field: tags
      function: truthy
`

// Valid YAML, zero rules. Must never persist.
const zeroRuleContent = "description: a ruleset with nothing to check\n"

func newTestStore(t *testing.T) (*rulesetStore, *pgxpool.Pool, func()) {
	t.Helper()

	pool, cleanup := storage.SetupTestContainer(t)
	log := logger.New(io.Discard, logger.LevelDebug, "test", nil)

	mp, err := otel.NewMeterProvider("test-service")
	require.NoError(t, err)
	metricsCollector, err := metrics.New(mp)
	require.NoError(t, err)

	store := NewRulesetStore(pool, spectral.NewEngine(), log, storage.NoOpTracer(), metricsCollector)
	return store, pool, cleanup
}

func testDraft(name, content string) governance.RulesetDraft {
	return governance.RulesetDraft{
		Name:              name,
		Description:       "style checks",
		Content:           []byte(content),
		RuleType:          governance.RuleTypeAPIDefinition,
		ArtifactType:      governance.ArtifactTypeRestAPI,
		DocumentationLink: "https://example.com/docs",
		Provider:          "platform-team",
		RequestedBy:       "admin",
	}
}

func countRules(t *testing.T, pool *pgxpool.Pool, rulesetID uuid.UUID) int {
	t.Helper()

	var count int
	err := pool.QueryRow(context.Background(),
		"SELECT COUNT(*) FROM rules WHERE ruleset_id = $1", rulesetID).Scan(&count)
	require.NoError(t, err)
	return count
}

func TestRulesetStore_CreateRuleset(t *testing.T) {
	t.Parallel()

	store, pool, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()

	created, err := store.CreateRuleset(ctx, "orgA", testDraft("R1", twoRuleContent))
	require.NoError(t, err)
	require.NotNil(t, created)

	assert.NotEqual(t, uuid.Nil, created.ID)
	assert.Equal(t, "R1", created.Name)
	assert.Equal(t, "orgA", created.Organization)
	assert.Equal(t, governance.RuleTypeAPIDefinition, created.RuleType)
	assert.Equal(t, "admin", created.CreatedBy)
	assert.False(t, created.CreatedAt.IsZero(), "server-assigned create time must be populated")
	assert.False(t, created.UpdatedAt.IsZero(), "server-assigned update time must be populated")

	assert.Equal(t, 2, countRules(t, pool, created.ID))

	list, err := store.GetRulesets(ctx, "orgA")
	require.NoError(t, err)
	assert.Equal(t, 1, list.Count)
	require.Len(t, list.Rulesets, 1)
	assert.Equal(t, created.ID, list.Rulesets[0].ID)

	policies, err := store.GetAssociatedPoliciesForRuleset(ctx, created.ID)
	require.NoError(t, err)
	assert.Empty(t, policies)
}

func TestRulesetStore_CreateRuleset_ZeroRulesRollsBack(t *testing.T) {
	t.Parallel()

	store, pool, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()

	_, err := store.CreateRuleset(ctx, "orgA", testDraft("empty", zeroRuleContent))
	require.Error(t, err)
	assert.True(t, errors.Is(err, governance.ErrInvalidRulesetContent))

	// Full rollback: neither the ruleset row nor any rule rows remain.
	var count int
	err = pool.QueryRow(ctx, "SELECT COUNT(*) FROM rulesets WHERE organization = $1", "orgA").Scan(&count)
	require.NoError(t, err)
	assert.Zero(t, count)

	err = pool.QueryRow(ctx, "SELECT COUNT(*) FROM rules").Scan(&count)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestRulesetStore_CreateRuleset_DuplicateName(t *testing.T) {
	t.Parallel()

	store, _, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()

	_, err := store.CreateRuleset(ctx, "orgA", testDraft("R1", twoRuleContent))
	require.NoError(t, err)

	_, err = store.CreateRuleset(ctx, "orgA", testDraft("R1", twoRuleContent))
	require.Error(t, err)

	var exists *governance.RulesetAlreadyExistsError
	require.True(t, errors.As(err, &exists))
	assert.Equal(t, "R1", exists.Name)
	assert.Equal(t, "orgA", exists.Organization)

	// The same name in a different organization is fine.
	_, err = store.CreateRuleset(ctx, "orgB", testDraft("R1", twoRuleContent))
	require.NoError(t, err)
}

func TestRulesetStore_GetRulesetByName(t *testing.T) {
	t.Parallel()

	store, _, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()

	missing, err := store.GetRulesetByName(ctx, "orgA", "nope")
	require.NoError(t, err, "a miss by name is not an error")
	assert.Nil(t, missing)

	created, err := store.CreateRuleset(ctx, "orgA", testDraft("R1", twoRuleContent))
	require.NoError(t, err)

	found, err := store.GetRulesetByName(ctx, "orgA", "R1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, created.ID, found.ID)

	// Scoped to the organization.
	other, err := store.GetRulesetByName(ctx, "orgB", "R1")
	require.NoError(t, err)
	assert.Nil(t, other)
}

func TestRulesetStore_GetRulesetByID_NotFound(t *testing.T) {
	t.Parallel()

	store, _, cleanup := newTestStore(t)
	defer cleanup()

	_, err := store.GetRulesetByID(context.Background(), "orgA", uuid.New())
	require.Error(t, err)

	var notFound *governance.RulesetNotFoundError
	assert.True(t, errors.As(err, &notFound))
}

func TestRulesetStore_GetRulesetContent(t *testing.T) {
	t.Parallel()

	store, _, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()

	created, err := store.CreateRuleset(ctx, "orgA", testDraft("R1", twoRuleContent))
	require.NoError(t, err)

	first, err := store.GetRulesetContent(ctx, "orgA", created.ID)
	require.NoError(t, err)
	assert.Equal(t, twoRuleContent, first)

	// Idempotent read: byte-identical without intervening writes.
	second, err := store.GetRulesetContent(ctx, "orgA", created.ID)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	_, err = store.GetRulesetContent(ctx, "orgA", uuid.New())
	var notFound *governance.RulesetNotFoundError
	assert.True(t, errors.As(err, &notFound))
}

func TestRulesetStore_GetRulesetContent_ConversionError(t *testing.T) {
	t.Parallel()

	store, pool, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()

	created, err := store.CreateRuleset(ctx, "orgA", testDraft("R1", twoRuleContent))
	require.NoError(t, err)

	// Corrupt the blob out-of-band to simulate undecodable stored content.
	_, err = pool.Exec(ctx,
		"UPDATE rulesets SET content = $1 WHERE ruleset_id = $2",
		[]byte{0xff, 0xfe, 0xfd}, created.ID)
	require.NoError(t, err)

	_, err = store.GetRulesetContent(ctx, "orgA", created.ID)
	require.Error(t, err)

	var conv *governance.ContentConversionError
	require.True(t, errors.As(err, &conv))
	assert.Equal(t, created.ID, conv.ID)
}

func TestRulesetStore_UpdateRuleset(t *testing.T) {
	t.Parallel()

	store, pool, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()

	created, err := store.CreateRuleset(ctx, "orgA", testDraft("R1", twoRuleContent))
	require.NoError(t, err)
	assert.Equal(t, 2, countRules(t, pool, created.ID))

	draft := testDraft("R1-renamed", singleRuleContent)
	draft.RequestedBy = "editor"
	updated, err := store.UpdateRuleset(ctx, "orgA", created.ID, draft)
	require.NoError(t, err)

	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, "R1-renamed", updated.Name)
	assert.Equal(t, "editor", updated.UpdatedBy)

	// Rules are replaced wholesale, never patched.
	assert.Equal(t, 1, countRules(t, pool, created.ID))

	var code string
	err = pool.QueryRow(ctx, "SELECT code FROM rules WHERE ruleset_id = $1", created.ID).Scan(&code)
	require.NoError(t, err)
	assert.Equal(t, "operation-tags", code)

	content, err := store.GetRulesetContent(ctx, "orgA", created.ID)
	require.NoError(t, err)
	assert.Equal(t, singleRuleContent, content)
}

func TestRulesetStore_UpdateRuleset_ZeroRulesRollsBack(t *testing.T) {
	t.Parallel()

	store, pool, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()

	created, err := store.CreateRuleset(ctx, "orgA", testDraft("R1", twoRuleContent))
	require.NoError(t, err)

	_, err = store.UpdateRuleset(ctx, "orgA", created.ID, testDraft("R1-broken", zeroRuleContent))
	require.Error(t, err)
	assert.True(t, errors.Is(err, governance.ErrInvalidRulesetContent))

	// The pre-update state is fully intact: name, content and rules.
	current, err := store.GetRulesetByID(ctx, "orgA", created.ID)
	require.NoError(t, err)
	assert.Equal(t, "R1", current.Name)

	content, err := store.GetRulesetContent(ctx, "orgA", created.ID)
	require.NoError(t, err)
	assert.Equal(t, twoRuleContent, content)

	assert.Equal(t, 2, countRules(t, pool, created.ID))
}

func TestRulesetStore_UpdateRuleset_NotFound(t *testing.T) {
	t.Parallel()

	store, _, cleanup := newTestStore(t)
	defer cleanup()

	_, err := store.UpdateRuleset(context.Background(), "orgA", uuid.New(), testDraft("R1", twoRuleContent))
	require.Error(t, err)

	var notFound *governance.RulesetNotFoundError
	assert.True(t, errors.As(err, &notFound))
}

func TestRulesetStore_UpdateRuleset_RenameCollision(t *testing.T) {
	t.Parallel()

	store, _, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()

	_, err := store.CreateRuleset(ctx, "orgA", testDraft("R1", twoRuleContent))
	require.NoError(t, err)
	second, err := store.CreateRuleset(ctx, "orgA", testDraft("R2", twoRuleContent))
	require.NoError(t, err)

	_, err = store.UpdateRuleset(ctx, "orgA", second.ID, testDraft("R1", twoRuleContent))
	require.Error(t, err)

	var exists *governance.RulesetAlreadyExistsError
	assert.True(t, errors.As(err, &exists))
}

func TestRulesetStore_DeleteRuleset(t *testing.T) {
	t.Parallel()

	store, pool, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()

	created, err := store.CreateRuleset(ctx, "orgA", testDraft("R1", twoRuleContent))
	require.NoError(t, err)

	require.NoError(t, store.DeleteRuleset(ctx, "orgA", created.ID))

	// Rules are removed together with their owning ruleset.
	assert.Zero(t, countRules(t, pool, created.ID))

	_, err = store.GetRulesetByID(ctx, "orgA", created.ID)
	var notFound *governance.RulesetNotFoundError
	assert.True(t, errors.As(err, &notFound))

	err = store.DeleteRuleset(ctx, "orgA", created.ID)
	require.Error(t, err)
	assert.True(t, errors.As(err, &notFound))
}

func TestRulesetStore_GetAssociatedPoliciesForRuleset(t *testing.T) {
	t.Parallel()

	store, pool, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()

	created, err := store.CreateRuleset(ctx, "orgA", testDraft("R1", twoRuleContent))
	require.NoError(t, err)

	policyID := uuid.New()
	_, err = pool.Exec(ctx,
		"INSERT INTO ruleset_policies (policy_id, ruleset_id) VALUES ($1, $2)",
		policyID, created.ID)
	require.NoError(t, err)

	policies, err := store.GetAssociatedPoliciesForRuleset(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, policies, 1)
	assert.Equal(t, policyID, policies[0])
}
