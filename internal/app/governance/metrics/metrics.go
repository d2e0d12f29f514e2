// Package metrics provides the OpenTelemetry metrics collector for
// governance operations.
package metrics

import (
	"context"

	"go.opentelemetry.io/otel/metric"
)

// GovernanceMetrics defines metrics operations needed by the ruleset
// persistence layer.
type GovernanceMetrics interface {
	IncRulesetsCreated(ctx context.Context)
	IncRulesetsUpdated(ctx context.Context)
	IncRulesetsDeleted(ctx context.Context)
	IncRulesExtracted(ctx context.Context, count int)
	IncRulesetWriteErrors(ctx context.Context)
}

// Governance implements GovernanceMetrics.
type Governance struct {
	rulesetsCreated    metric.Int64Counter
	rulesetsUpdated    metric.Int64Counter
	rulesetsDeleted    metric.Int64Counter
	rulesExtracted     metric.Int64Counter
	rulesetWriteErrors metric.Int64Counter
}

const namespace = "governor"

// New creates a new Governance metrics instance.
func New(mp metric.MeterProvider) (*Governance, error) {
	meter := mp.Meter(namespace, metric.WithInstrumentationVersion("v0.1.0"))

	g := new(Governance)
	var err error

	if g.rulesetsCreated, err = meter.Int64Counter(
		"rulesets_created_total",
		metric.WithDescription("Total number of rulesets created"),
	); err != nil {
		return nil, err
	}

	if g.rulesetsUpdated, err = meter.Int64Counter(
		"rulesets_updated_total",
		metric.WithDescription("Total number of rulesets updated"),
	); err != nil {
		return nil, err
	}

	if g.rulesetsDeleted, err = meter.Int64Counter(
		"rulesets_deleted_total",
		metric.WithDescription("Total number of rulesets deleted"),
	); err != nil {
		return nil, err
	}

	if g.rulesExtracted, err = meter.Int64Counter(
		"rules_extracted_total",
		metric.WithDescription("Total number of rules extracted and persisted"),
	); err != nil {
		return nil, err
	}

	if g.rulesetWriteErrors, err = meter.Int64Counter(
		"ruleset_write_errors_total",
		metric.WithDescription("Total number of failed ruleset writes"),
	); err != nil {
		return nil, err
	}

	return g, nil
}

func (g *Governance) IncRulesetsCreated(ctx context.Context) {
	g.rulesetsCreated.Add(ctx, 1)
}

func (g *Governance) IncRulesetsUpdated(ctx context.Context) {
	g.rulesetsUpdated.Add(ctx, 1)
}

func (g *Governance) IncRulesetsDeleted(ctx context.Context) {
	g.rulesetsDeleted.Add(ctx, 1)
}

func (g *Governance) IncRulesExtracted(ctx context.Context, count int) {
	g.rulesExtracted.Add(ctx, int64(count))
}

func (g *Governance) IncRulesetWriteErrors(ctx context.Context) {
	g.rulesetWriteErrors.Add(ctx, 1)
}
