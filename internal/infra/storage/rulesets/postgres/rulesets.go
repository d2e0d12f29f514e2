// Package postgres provides the PostgreSQL-backed ruleset repository. It
// owns every read and write of rulesets and their derived rules and keeps
// both consistent through single-transaction mutations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/apigovern/rulekeeper/internal/app/governance/metrics"
	"github.com/apigovern/rulekeeper/internal/domain/governance"
	"github.com/apigovern/rulekeeper/internal/infra/storage"
	"github.com/apigovern/rulekeeper/pkg/common/logger"
)

// Compile-time check that rulesetStore implements governance.RulesetRepository.
var _ governance.RulesetRepository = (*rulesetStore)(nil)

// uniqueNameConstraint is the schema constraint enforcing per-organization
// name uniqueness. A violation of exactly this constraint translates to
// RulesetAlreadyExistsError; any other integrity failure stays generic.
const uniqueNameConstraint = "rulesets_organization_name_key"

// txTimeout bounds every mutating transaction. Ruleset writes are small and
// should fail fast rather than hold locks.
const txTimeout = 10 * time.Second

// rulesetStore persists rulesets and their extracted rules in PostgreSQL.
// Rule extraction runs inside the same transaction as the ruleset write, so
// an extraction failure rolls back the partial insert.
type rulesetStore struct {
	db        *pgxpool.Pool
	extractor governance.RuleExtractor
	log       *logger.Logger
	tracer    trace.Tracer
	metrics   metrics.GovernanceMetrics
}

// NewRulesetStore creates a PostgreSQL-backed ruleset repository using the
// provided pool and extraction engine.
func NewRulesetStore(pool *pgxpool.Pool, extractor governance.RuleExtractor, log *logger.Logger, tracer trace.Tracer, metrics metrics.GovernanceMetrics) *rulesetStore {
	return &rulesetStore{db: pool, extractor: extractor, log: log, tracer: tracer, metrics: metrics}
}

// defaultDBAttributes defines standard OpenTelemetry attributes for database operations.
var defaultDBAttributes = []attribute.KeyValue{
	attribute.String("db.system", "postgresql"),
}

const rulesetInfoColumns = `ruleset_id, name, description, rule_type, artifact_type,
	documentation_link, provider, organization, created_by, created_at, updated_by, updated_at`

const createRulesetQuery = `
	INSERT INTO rulesets (
		ruleset_id, name, description, content, rule_type, artifact_type,
		documentation_link, provider, organization, created_by, updated_by
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)`

const updateRulesetQuery = `
	UPDATE rulesets
	SET name = $1, description = $2, content = $3, rule_type = $4, artifact_type = $5,
		documentation_link = $6, provider = $7, updated_by = $8, updated_at = NOW()
	WHERE ruleset_id = $9 AND organization = $10`

// CreateRuleset inserts the ruleset row, extracts rules from its content
// and bulk-inserts them, all in one transaction. A draft whose content
// yields zero rules is never persisted. Returns the freshly read ruleset so
// server-assigned timestamps are populated.
func (s *rulesetStore) CreateRuleset(ctx context.Context, organization string, draft governance.RulesetDraft) (*governance.RulesetInfo, error) {
	id := draft.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("organization", organization),
		attribute.String("ruleset_id", id.String()),
		attribute.String("ruleset_name", draft.Name),
	)

	var created *governance.RulesetInfo
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.create_ruleset", dbAttrs, func(ctx context.Context) error {
		txCtx, cancel := context.WithTimeout(ctx, txTimeout)
		defer cancel()

		err := pgx.BeginTxFunc(txCtx, s.db, pgx.TxOptions{}, func(tx pgx.Tx) error {
			_, err := tx.Exec(txCtx, createRulesetQuery,
				asUUID(id),
				draft.Name,
				draft.Description,
				draft.Content,
				string(draft.RuleType),
				string(draft.ArtifactType),
				draft.DocumentationLink,
				draft.Provider,
				organization,
				draft.RequestedBy,
			)
			if err != nil {
				return fmt.Errorf("insert ruleset: %w", err)
			}

			return s.extractAndInsertRules(txCtx, tx, id, draft.Content)
		})
		if err != nil {
			return s.translateWriteError(ctx, err, draft.Name, organization)
		}
		s.metrics.IncRulesetsCreated(ctx)

		created, err = s.GetRulesetByID(ctx, organization, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	return created, nil
}

// GetRulesets lists metadata for every ruleset owned by the organization.
// The raw content blob is never part of the listing.
func (s *rulesetStore) GetRulesets(ctx context.Context, organization string) (*governance.RulesetList, error) {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("organization", organization),
	)

	var list *governance.RulesetList
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.get_rulesets", dbAttrs, func(ctx context.Context) error {
		rows, err := s.db.Query(ctx,
			`SELECT `+rulesetInfoColumns+` FROM rulesets WHERE organization = $1`,
			organization,
		)
		if err != nil {
			return fmt.Errorf("query rulesets: %w", err)
		}
		defer rows.Close()

		var infos []governance.RulesetInfo
		for rows.Next() {
			info, err := scanRulesetInfo(rows)
			if err != nil {
				return fmt.Errorf("scan ruleset row: %w", err)
			}
			infos = append(infos, *info)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate ruleset rows: %w", err)
		}

		list = &governance.RulesetList{Count: len(infos), Rulesets: infos}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return list, nil
}

// GetRulesetByName looks up a ruleset by exact name. Absence is not an
// error: callers probe existence through this method, so a miss returns
// (nil, nil).
func (s *rulesetStore) GetRulesetByName(ctx context.Context, organization, name string) (*governance.RulesetInfo, error) {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("organization", organization),
		attribute.String("ruleset_name", name),
	)

	var info *governance.RulesetInfo
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.get_ruleset_by_name", dbAttrs, func(ctx context.Context) error {
		row := s.db.QueryRow(ctx,
			`SELECT `+rulesetInfoColumns+` FROM rulesets WHERE name = $1 AND organization = $2`,
			name, organization,
		)

		found, err := scanRulesetInfo(row)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("query ruleset by name: %w", err)
		}
		info = found
		return nil
	})
	if err != nil {
		return nil, err
	}

	return info, nil
}

// GetRulesetByID looks up a ruleset by id. Unlike GetRulesetByName, absence
// here is an error because callers expect the referenced id to exist.
func (s *rulesetStore) GetRulesetByID(ctx context.Context, organization string, id uuid.UUID) (*governance.RulesetInfo, error) {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("organization", organization),
		attribute.String("ruleset_id", id.String()),
	)

	var info *governance.RulesetInfo
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.get_ruleset_by_id", dbAttrs, func(ctx context.Context) error {
		row := s.db.QueryRow(ctx,
			`SELECT `+rulesetInfoColumns+` FROM rulesets WHERE ruleset_id = $1 AND organization = $2`,
			asUUID(id), organization,
		)

		found, err := scanRulesetInfo(row)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return &governance.RulesetNotFoundError{ID: id, Organization: organization}
			}
			return fmt.Errorf("query ruleset by id: %w", err)
		}
		info = found
		return nil
	})
	if err != nil {
		return nil, err
	}

	return info, nil
}

// GetRulesetContent returns the stored content blob decoded to text. A
// missing ruleset fails with RulesetNotFoundError; a blob that is not valid
// UTF-8 fails with ContentConversionError at a later stage of the same
// read. A ruleset with no stored blob returns empty content.
func (s *rulesetStore) GetRulesetContent(ctx context.Context, organization string, id uuid.UUID) (string, error) {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("organization", organization),
		attribute.String("ruleset_id", id.String()),
	)

	var content string
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.get_ruleset_content", dbAttrs, func(ctx context.Context) error {
		var blob []byte
		err := s.db.QueryRow(ctx,
			`SELECT content FROM rulesets WHERE ruleset_id = $1 AND organization = $2`,
			asUUID(id), organization,
		).Scan(&blob)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return &governance.RulesetNotFoundError{ID: id, Organization: organization}
			}
			return fmt.Errorf("query ruleset content: %w", err)
		}

		if !utf8.Valid(blob) {
			return &governance.ContentConversionError{ID: id, Organization: organization}
		}
		content = string(blob)
		return nil
	})
	if err != nil {
		return "", err
	}

	return content, nil
}

// UpdateRuleset replaces the ruleset's attributes and re-derives its rules
// from the new content in one transaction: update the row, delete every
// existing rule, re-extract and bulk-insert. There is no incremental diff
// path, so rules can never be stale relative to stored content. Any
// failure, including a zero-rule extraction, rolls back the already-applied
// metadata update and rule deletion.
func (s *rulesetStore) UpdateRuleset(ctx context.Context, organization string, id uuid.UUID, draft governance.RulesetDraft) (*governance.RulesetInfo, error) {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("organization", organization),
		attribute.String("ruleset_id", id.String()),
		attribute.String("ruleset_name", draft.Name),
	)

	var updated *governance.RulesetInfo
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.update_ruleset", dbAttrs, func(ctx context.Context) error {
		txCtx, cancel := context.WithTimeout(ctx, txTimeout)
		defer cancel()

		err := pgx.BeginTxFunc(txCtx, s.db, pgx.TxOptions{}, func(tx pgx.Tx) error {
			tag, err := tx.Exec(txCtx, updateRulesetQuery,
				draft.Name,
				draft.Description,
				draft.Content,
				string(draft.RuleType),
				string(draft.ArtifactType),
				draft.DocumentationLink,
				draft.Provider,
				draft.RequestedBy,
				asUUID(id),
				organization,
			)
			if err != nil {
				return fmt.Errorf("update ruleset: %w", err)
			}
			if tag.RowsAffected() == 0 {
				return &governance.RulesetNotFoundError{ID: id, Organization: organization}
			}

			if err := s.deleteRules(txCtx, tx, id); err != nil {
				return err
			}

			return s.extractAndInsertRules(txCtx, tx, id, draft.Content)
		})
		if err != nil {
			return s.translateWriteError(ctx, err, draft.Name, organization)
		}
		s.metrics.IncRulesetsUpdated(ctx)

		updated, err = s.GetRulesetByID(ctx, organization, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	return updated, nil
}

// DeleteRuleset removes the ruleset and its rules in one transaction. The
// schema also cascades, but the explicit delete keeps the rules-go-with-
// their-ruleset invariant independent of schema configuration.
func (s *rulesetStore) DeleteRuleset(ctx context.Context, organization string, id uuid.UUID) error {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("organization", organization),
		attribute.String("ruleset_id", id.String()),
	)

	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.delete_ruleset", dbAttrs, func(ctx context.Context) error {
		txCtx, cancel := context.WithTimeout(ctx, txTimeout)
		defer cancel()

		err := pgx.BeginTxFunc(txCtx, s.db, pgx.TxOptions{}, func(tx pgx.Tx) error {
			if err := s.deleteRules(txCtx, tx, id); err != nil {
				return err
			}

			tag, err := tx.Exec(txCtx,
				`DELETE FROM rulesets WHERE ruleset_id = $1 AND organization = $2`,
				asUUID(id), organization,
			)
			if err != nil {
				return fmt.Errorf("delete ruleset: %w", err)
			}
			if tag.RowsAffected() == 0 {
				return &governance.RulesetNotFoundError{ID: id, Organization: organization}
			}
			return nil
		})
		if err != nil {
			return err
		}
		s.metrics.IncRulesetsDeleted(ctx)
		return nil
	})
}

// GetAssociatedPoliciesForRuleset returns the ids of policies referencing
// the ruleset. The association table is owned by the policy subsystem; this
// is a pure read and an empty result is normal.
func (s *rulesetStore) GetAssociatedPoliciesForRuleset(ctx context.Context, id uuid.UUID) ([]uuid.UUID, error) {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("ruleset_id", id.String()),
	)

	policyIDs := []uuid.UUID{}
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.get_associated_policies", dbAttrs, func(ctx context.Context) error {
		rows, err := s.db.Query(ctx,
			`SELECT policy_id FROM ruleset_policies WHERE ruleset_id = $1`,
			asUUID(id),
		)
		if err != nil {
			return fmt.Errorf("query associated policies: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var policyID pgtype.UUID
			if err := rows.Scan(&policyID); err != nil {
				return fmt.Errorf("scan policy id: %w", err)
			}
			policyIDs = append(policyIDs, uuid.UUID(policyID.Bytes))
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	return policyIDs, nil
}

// extractAndInsertRules runs the extraction engine on content and
// bulk-inserts the resulting rules for rulesetID. Zero extracted rules is a
// content error and aborts the enclosing transaction.
func (s *rulesetStore) extractAndInsertRules(ctx context.Context, tx pgx.Tx, rulesetID uuid.UUID, content []byte) error {
	rules, err := s.extractor.Extract(content)
	if err != nil {
		return fmt.Errorf("extract rules: %w", err)
	}
	if len(rules) == 0 {
		return fmt.Errorf("%w: ruleset %s", governance.ErrInvalidRulesetContent, rulesetID)
	}

	copyRows := make([][]any, len(rules))
	for i, rule := range rules {
		copyRows[i] = []any{
			asUUID(uuid.New()),
			asUUID(rulesetID),
			rule.Code,
			rule.MessageOnFailure,
			rule.Description,
			string(rule.Severity),
			rule.Content,
		}
	}

	inserted, err := tx.CopyFrom(ctx,
		pgx.Identifier{"rules"},
		[]string{"rule_id", "ruleset_id", "code", "message_on_failure", "description", "severity", "content"},
		pgx.CopyFromRows(copyRows),
	)
	if err != nil {
		return fmt.Errorf("bulk insert rules: %w", err)
	}
	if inserted != int64(len(rules)) {
		return fmt.Errorf("expected to insert %d rules, but inserted %d", len(rules), inserted)
	}
	s.metrics.IncRulesExtracted(ctx, len(rules))

	return nil
}

// deleteRules removes every rule belonging to rulesetID. Zero rows affected
// is benign: a ruleset racing its first update may not have rules yet, so
// it is logged rather than raised.
func (s *rulesetStore) deleteRules(ctx context.Context, tx pgx.Tx, rulesetID uuid.UUID) error {
	tag, err := tx.Exec(ctx, `DELETE FROM rules WHERE ruleset_id = $1`, asUUID(rulesetID))
	if err != nil {
		return fmt.Errorf("delete rules: %w", err)
	}
	if tag.RowsAffected() == 0 {
		s.log.Debug(ctx, "no rules to delete for ruleset", "ruleset_id", rulesetID.String())
	}
	return nil
}

// translateWriteError maps storage-layer failures from a mutating
// transaction to domain error kinds. Domain errors produced inside the
// transaction pass through untouched. A unique violation is attributed to a
// name collision only when the organization+name constraint is the one that
// fired; other integrity failures stay generic and count as write errors.
func (s *rulesetStore) translateWriteError(ctx context.Context, err error, name, organization string) error {
	var notFound *governance.RulesetNotFoundError
	if errors.Is(err, governance.ErrInvalidRulesetContent) ||
		errors.Is(err, governance.ErrContentInvalid) ||
		errors.As(err, &notFound) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) &&
		pgErr.Code == pgerrcode.UniqueViolation &&
		pgErr.ConstraintName == uniqueNameConstraint {
		return &governance.RulesetAlreadyExistsError{Name: name, Organization: organization}
	}

	s.metrics.IncRulesetWriteErrors(ctx)
	return fmt.Errorf("persist ruleset %q in organization %s: %w", name, organization, err)
}

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRulesetInfo(row rowScanner) (*governance.RulesetInfo, error) {
	var (
		dbID         pgtype.UUID
		info         governance.RulesetInfo
		ruleType     string
		artifactType string
	)
	err := row.Scan(
		&dbID,
		&info.Name,
		&info.Description,
		&ruleType,
		&artifactType,
		&info.DocumentationLink,
		&info.Provider,
		&info.Organization,
		&info.CreatedBy,
		&info.CreatedAt,
		&info.UpdatedBy,
		&info.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	info.ID = uuid.UUID(dbID.Bytes)
	info.RuleType = governance.RuleType(ruleType)
	info.ArtifactType = governance.ArtifactType(artifactType)
	return &info, nil
}

func asUUID(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: true}
}
