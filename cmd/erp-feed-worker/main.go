package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mmdatafocus/supplymap_backend/config"
	"github.com/mmdatafocus/supplymap_backend/models"
	"github.com/mmdatafocus/supplymap_backend/utils"
	"github.com/mmdatafocus/supplymap_backend/workflow"
	"github.com/sirupsen/logrus"
)

// erp-feed-worker pulls ERP receipt lines from Pub/Sub. With -import it
// instead loads one exported workbook and exits.
func main() {
	topic := flag.String("topic", os.Getenv("ERP_FEED_TOPIC"), "Pub/Sub topic carrying receipt lines")
	subscription := flag.String("subscription", os.Getenv("ERP_FEED_SUBSCRIPTION"), "Pub/Sub subscription to pull from")
	maxOutstanding := flag.Int("max-outstanding", 10, "Messages processed concurrently")
	importPath := flag.String("import", "", "Optional: import this ERP receipt workbook (.xlsx) and exit")
	siteCode := flag.String("site", "", "Site code for workbook rows without one (with -import)")
	keepFile := flag.Bool("keep-file", false, "Upload the imported workbook to GCS_BUCKET (with -import)")
	migrate := flag.Bool("migrate", false, "Run AutoMigrate before starting")
	flag.Parse()

	settings, err := config.LoadSupplySettings()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid settings: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	config.ConnectDatabaseWithRetry()
	if config.GetDB() == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	if *migrate {
		models.MigrateTable()
	}
	logger := config.GetLogger()
	ctx = utils.SetUserNameInContext(ctx, workflow.FeedSource)

	if *importPath != "" {
		os.Exit(runImport(ctx, logger, settings, *importPath, *siteCode, *keepFile))
	}

	if *topic == "" || *subscription == "" {
		fmt.Fprintln(os.Stderr, "--topic and --subscription are required (or ERP_FEED_TOPIC / ERP_FEED_SUBSCRIPTION)")
		os.Exit(1)
	}
	defer config.ClosePubSub()
	err = workflow.RunReceiptFeedSubscriber(ctx, logger, settings, workflow.SubscriberOptions{
		Topic:          *topic,
		Subscription:   *subscription,
		MaxOutstanding: *maxOutstanding,
	})
	if err != nil && ctx.Err() == nil {
		config.LogError(logger, "erp-feed-worker", "main", "receiving receipt feed", nil, err)
		os.Exit(1)
	}
}

func runImport(ctx context.Context, logger *logrus.Logger, settings config.SupplySettings, path, siteCode string, keepFile bool) int {
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read %s: %v\n", path, err)
		return 1
	}
	bucket := ""
	if keepFile {
		bucket = utils.ReportBucket("")
	}
	result, err := workflow.ImportReceiptWorkbook(ctx, logger, settings, data, siteCode, bucket)
	if err != nil {
		fmt.Fprintf(os.Stderr, "import failed: %v\n", err)
		return 1
	}
	fmt.Printf("sheet %q (heading row %d): %d lines, %d created, %d updated, %d unchanged, %d rejected\n",
		result.Sheet, result.HeaderRow, result.Lines, result.Created, result.Updated, result.Unchanged, len(result.Rejected))
	for _, r := range result.Rejected {
		fmt.Printf("  rejected: %s\n", r)
	}
	if len(result.Rejected) > 0 {
		return 1
	}
	return 0
}
