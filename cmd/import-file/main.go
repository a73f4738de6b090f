// Command import-file submits a local statement file or image and prints the
// resulting import with its transactions. Processing always runs inline.
package main

import (
	"context"
	"flag"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"text/tabwriter"

	"orcamento/internal/cli"
	"orcamento/internal/core"
	applog "orcamento/internal/log"
	"orcamento/internal/services"
)

func main() {
	var (
		household = flag.String("household", "", "household id (required)")
		month     = flag.String("month", "", "month id the transactions belong to (required)")
		card      = flag.String("card", "", "card id to attach to the transactions")
		kind      = flag.String("kind", string(core.SourceStatementFile), "statement-file or statement-image")
		mappings  = flag.String("mappings", "", "merchant mapping seed file, overrides MAPPINGS_FILE")
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] FILE\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	os.Exit(run(flag.Arg(0), *household, *month, *card, *kind, *mappings))
}

func run(path, household, month, card, kind, mappings string) int {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"), applog.ComponentImport)

	// Never hand the file to a worker: the result is printed here.
	os.Setenv("AMQP_URL", "")
	if mappings != "" {
		os.Setenv("MAPPINGS_FILE", mappings)
	}
	cfg := cli.LoadAndValidateConfig(logger)

	data, err := os.ReadFile(path)
	if err != nil {
		logger.Error("Failed to read file", "error", err, "path", path)
		return 1
	}

	ctx, cancel := cli.SignalContext(logger)
	defer cancel()

	be := cli.InitBackend(ctx, logger, cfg)
	defer be.Cleanup()

	service := services.NewImportService(be.Store, be.Uploads, be.Processor(), nil, cfg.ImportTimeout)
	imp, err := service.Submit(ctx, services.Upload{
		HouseholdID: household,
		MonthID:     month,
		CardID:      card,
		SourceKind:  core.SourceKind(kind),
		FileName:    filepath.Base(path),
		MIMEType:    mime.TypeByExtension(filepath.Ext(path)),
		Data:        data,
	})
	if err != nil {
		logger.Error("Import failed", "error", err, "error_type", core.FailureKind(err))
		return 1
	}

	if err := printResult(ctx, be.Store, imp); err != nil {
		logger.Error("Failed to list transactions", "error", err)
	}
	if imp.Status != core.ImportCompleted {
		return 1
	}
	return 0
}

type transactionLister interface {
	ListTransactionsByImport(ctx context.Context, importID string) ([]core.Transaction, error)
}

func printResult(ctx context.Context, store transactionLister, imp core.Import) error {
	fmt.Printf("import %s: %s", imp.ID, imp.Status)
	if imp.ErrorMessage != "" {
		fmt.Printf(" (%s)", imp.ErrorMessage)
	}
	fmt.Println()
	if imp.Status != core.ImportCompleted {
		return nil
	}

	txs, err := store.ListTransactionsByImport(ctx, imp.ID)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "DATE\tMERCHANT\tAMOUNT\tCATEGORY\tCONFIDENCE")
	review := 0
	for _, tx := range txs {
		category := "-"
		if tx.CategoryID != nil {
			category = *tx.CategoryID
		}
		if tx.NeedsReview {
			review++
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", tx.Date.ISO(), tx.Merchant, tx.Amount, category, tx.Confidence)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("%d transactions, %d need review\n", len(txs), review)
	return nil
}
