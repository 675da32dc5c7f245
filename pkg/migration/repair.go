package migration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/platinummonkey/keepsake/pkg/schema"
	"github.com/platinummonkey/keepsake/pkg/storage"
)

// RepairCheck validates the stored value of one logical key
type RepairCheck struct {
	Key   string
	Check func(value json.RawMessage) error
}

// SchemaChecks builds one check per key registered in reg
func SchemaChecks(reg *schema.Registry) []RepairCheck {
	keys := reg.Keys()
	checks := make([]RepairCheck, 0, len(keys))
	for _, key := range keys {
		key := key
		checks = append(checks, RepairCheck{
			Key: key,
			Check: func(value json.RawMessage) error {
				return reg.ValidateJSON(key, value)
			},
		})
	}
	return checks
}

// Issue is a record that failed its check
type Issue struct {
	Key      string `json:"key"`
	Reason   string `json:"reason"`
	Repaired bool   `json:"repaired"`
}

// RepairReport summarises a ValidateAndRepair run
type RepairReport struct {
	IssuesFound    int     `json:"issuesFound"`
	RepairsApplied int     `json:"repairsApplied"`
	Issues         []Issue `json:"issues,omitempty"`
}

// ValidateAndRepair runs every repair check and deletes each record that is
// unparsable or fails its check. Records are never patched field by field;
// the next read of a deleted key returns the caller's default.
func (m *Manager) ValidateAndRepair(ctx context.Context) (*RepairReport, error) {
	ctx, span := m.tracer.Start(ctx, "ValidateAndRepair")
	defer span.End()

	if err := m.store.Flush(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "flush failed")
		return nil, fmt.Errorf("failed to flush before repair: %w", err)
	}

	report := &RepairReport{}
	var errs []error
	for _, check := range m.checks {
		rec, err := m.store.ReadRecord(ctx, check.Key)
		var reason string
		switch {
		case errors.Is(err, storage.ErrNotFound):
			continue
		case errors.Is(err, storage.ErrCorruptRecord):
			reason = err.Error()
		case err != nil:
			errs = append(errs, fmt.Errorf("failed to read %q: %w", check.Key, err))
			continue
		default:
			if cerr := check.Check(rec.Value); cerr != nil {
				reason = cerr.Error()
			}
		}
		if reason == "" {
			continue
		}

		report.IssuesFound++
		issue := Issue{Key: check.Key, Reason: reason}
		log := m.log.WithField("key", check.Key).WithField("reason", reason)
		if err := m.store.Remove(ctx, check.Key); err != nil {
			log.WithError(err).Error("failed to remove invalid record")
			errs = append(errs, err)
		} else {
			issue.Repaired = true
			report.RepairsApplied++
			log.Warn("removed invalid record")
		}
		report.Issues = append(report.Issues, issue)
	}

	span.SetAttributes(
		attribute.Int("issues_found", report.IssuesFound),
		attribute.Int("repairs_applied", report.RepairsApplied),
	)
	if err := errors.Join(errs...); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "repair incomplete")
		return report, err
	}
	return report, nil
}
