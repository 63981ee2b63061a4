package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path"
	"time"

	"github.com/mmdatafocus/supplymap_backend/config"
	"github.com/mmdatafocus/supplymap_backend/models/reports"
	"github.com/mmdatafocus/supplymap_backend/utils"
	"github.com/mmdatafocus/supplymap_backend/workflow"
)

const (
	maxPrintedErrors   = 30
	maxPrintedWarnings = 10
)

// verify-supply-map checks that the planning, receipt and allocation ledgers
// agree. It exits 1 when any error-level finding exists so it can gate deploys.
func main() {
	verbose := flag.Bool("verbose", false, "Print every finding instead of the first few")
	persist := flag.Bool("persist", false, "Store findings in reconciliation_reports")
	xlsxPath := flag.String("xlsx", "", "Optional: write findings workbook to this path")
	uploadBucket := flag.String("upload-bucket", "", "Optional: upload findings workbook to this GCS bucket")
	publishTopic := flag.String("publish-topic", "", "Optional: publish the run summary to this Pub/Sub topic")
	flag.Parse()

	settings, err := config.LoadSupplySettings()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid settings: %v\n", err)
		os.Exit(2)
	}

	config.ConnectDatabaseWithRetry()
	if config.GetDB() == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(2)
	}
	logger := config.GetLogger()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	run, err := workflow.RunVerification(ctx, logger, settings, workflow.VerificationOptions{
		Persist:      *persist,
		PublishTopic: *publishTopic,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "verification failed: %v\n", err)
		os.Exit(2)
	}

	errs, warnings := run.Report.Messages()
	counts := run.Report.Counts
	fmt.Printf("Checked %d materials, %d planning rows (%d with requisition), %d receipts, %d allocations (run %s)\n",
		counts.Materials, counts.PlanningRows, counts.PlanningWithRequisition, counts.Receipts, counts.Allocations, run.CorrelationId)
	printFindings("ERROR", errs, maxPrintedErrors, *verbose)
	printFindings("WARNING", warnings, maxPrintedWarnings, *verbose)

	if *xlsxPath != "" || *uploadBucket != "" {
		if err := exportFindings(ctx, run, *xlsxPath, *uploadBucket); err != nil {
			fmt.Fprintf(os.Stderr, "export failed: %v\n", err)
		}
	}

	if len(errs) > 0 {
		fmt.Printf("%d errors, %d warnings: ledgers are NOT consistent\n", len(errs), len(warnings))
		os.Exit(1)
	}
	fmt.Printf("0 errors, %d warnings: ledgers are consistent\n", len(warnings))
}

func printFindings(label string, messages []string, limit int, verbose bool) {
	for i, msg := range messages {
		if !verbose && i >= limit {
			fmt.Printf("  ... and %d more %s findings (use -verbose)\n", len(messages)-limit, label)
			return
		}
		fmt.Printf("  [%s] %s\n", label, msg)
	}
}

func exportFindings(ctx context.Context, run *workflow.VerificationRun, filePath, bucket string) error {
	data, err := reports.FindingsWorkbookBytes(run.Report)
	if err != nil {
		return err
	}
	if filePath != "" {
		if err := os.WriteFile(filePath, data, 0o644); err != nil {
			return err
		}
		fmt.Printf("findings workbook written to %s\n", filePath)
	}
	if bucket == "" {
		return nil
	}
	bucket = utils.ReportBucket(bucket)
	objectName := path.Join("verifications", run.CorrelationId+".xlsx")
	if err := utils.UploadBytesToGCS(ctx, bucket, objectName, data, utils.XlsxContentType); err != nil {
		return err
	}
	fmt.Printf("findings workbook uploaded to gs://%s/%s\n", bucket, objectName)
	return nil
}
