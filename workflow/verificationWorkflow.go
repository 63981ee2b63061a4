package workflow

import (
	"context"

	"github.com/google/uuid"
	"github.com/mmdatafocus/supplymap_backend/config"
	"github.com/mmdatafocus/supplymap_backend/models"
	"github.com/mmdatafocus/supplymap_backend/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type VerificationOptions struct {
	// Persist stores every finding in reconciliation_reports.
	Persist bool `json:"persist"`
	// PublishTopic, when set, receives a VerificationSummary message.
	PublishTopic string `json:"publish_topic"`
}

type VerificationSummary struct {
	CorrelationId string                    `json:"correlation_id"`
	Errors        int                       `json:"errors"`
	Warnings      int                       `json:"warnings"`
	Critical      int                       `json:"critical"`
	Counts        models.VerificationCounts `json:"counts"`
}

type VerificationRun struct {
	CorrelationId string                    `json:"correlation_id"`
	Report        models.VerificationReport `json:"report"`
	Summary       VerificationSummary       `json:"summary"`
}

// RunVerification loads a consistent snapshot of the three ledgers, checks it
// and logs the outcome. Findings are returned, never raised as errors.
func RunVerification(ctx context.Context, logger *logrus.Logger, settings config.SupplySettings, opts VerificationOptions) (*VerificationRun, error) {
	correlationId, ok := utils.GetCorrelationIdFromContext(ctx)
	if !ok || correlationId == "" {
		correlationId = uuid.NewString()
		ctx = utils.SetCorrelationIdInContext(ctx, correlationId)
	}

	ctx, span := tracer.Start(ctx, "workflow.RunVerification")
	defer span.End()
	span.SetAttributes(attribute.String("correlation_id", correlationId))

	snapshot, err := models.LoadLedgerSnapshot(ctx)
	if err != nil {
		config.LogError(logger, "verificationWorkflow.go", "RunVerification", "loading ledger snapshot", correlationId, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	report := models.Verify(snapshot, models.VerifyConfig{Tolerance: settings.Tolerance})
	run := VerificationRun{
		CorrelationId: correlationId,
		Report:        report,
		Summary:       summarize(correlationId, report),
	}
	span.SetAttributes(
		attribute.Int("errors", run.Summary.Errors),
		attribute.Int("warnings", run.Summary.Warnings),
	)

	entry := logger.WithFields(logrus.Fields{
		"field":          "RunVerification",
		"correlation_id": correlationId,
		"errors":         run.Summary.Errors,
		"warnings":       run.Summary.Warnings,
		"critical":       run.Summary.Critical,
		"materials":      report.Counts.Materials,
		"planning_rows":  report.Counts.PlanningRows,
		"receipts":       report.Counts.Receipts,
		"allocations":    report.Counts.Allocations,
	})
	if report.HasErrors() {
		entry.Warn("supply map verification found errors")
	} else {
		entry.Info("supply map verification passed")
	}

	if opts.Persist {
		if err := models.SaveReconciliationReports(config.GetDB().WithContext(ctx), correlationId, report.Findings); err != nil {
			config.LogError(logger, "verificationWorkflow.go", "RunVerification", "persisting findings", correlationId, err)
			return nil, err
		}
	}
	if opts.PublishTopic != "" {
		attrs := map[string]string{"correlation_id": correlationId}
		if _, err := config.PublishJSON(ctx, opts.PublishTopic, run.Summary, attrs); err != nil {
			// the run itself succeeded; the notification is advisory
			logger.WithFields(logrus.Fields{
				"field":          "RunVerification",
				"correlation_id": correlationId,
				"topic":          opts.PublishTopic,
			}).Warn("failed to publish verification summary: " + err.Error())
		}
	}
	return &run, nil
}

func summarize(correlationId string, report models.VerificationReport) VerificationSummary {
	s := VerificationSummary{CorrelationId: correlationId, Counts: report.Counts}
	for _, f := range report.Findings {
		if f.Severity == models.SeverityError {
			s.Errors++
		} else {
			s.Warnings++
		}
		if f.Critical {
			s.Critical++
		}
	}
	return s
}
