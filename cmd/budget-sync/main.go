package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/budget-sync/internal/backup"
	"github.com/dvloznov/budget-sync/internal/classify"
	"github.com/dvloznov/budget-sync/internal/fx"
	"github.com/dvloznov/budget-sync/internal/gsheet"
	"github.com/dvloznov/budget-sync/internal/importer"
	"github.com/dvloznov/budget-sync/internal/ledger"
	"github.com/dvloznov/budget-sync/internal/logger"
	"github.com/dvloznov/budget-sync/internal/store"
	"github.com/dvloznov/budget-sync/internal/syncer"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "import":
		runImport()
	case "push":
		runPush()
	case "pull":
		runPull()
	case "train":
		runTrain()
	case "guess":
		runGuess()
	case "backup":
		runBackup()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Budget Sync CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  budget-sync <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  import    Import bank export files into the local database")
	fmt.Println("  push      Push local months to the spreadsheet")
	fmt.Println("  pull      Pull spreadsheet edits back into the local database")
	fmt.Println("  train     Train the category classifier on categorized items")
	fmt.Println("  guess     Guess categories for uncategorized items")
	fmt.Println("  backup    Dump the database to CSV, optionally upload to GCS")
	fmt.Println("  help      Show this help message")
	fmt.Println("\nRun 'budget-sync <command> -h' for more information on a command.")
}

// monthFlags registers the month selection flags shared by several commands.
type monthFlags struct {
	month string
	last  int
	from  string
	to    string
}

func (m *monthFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&m.month, "month", "", "single month, YYYY-MM")
	fs.IntVar(&m.last, "last", 0, "trailing N months including the current one")
	fs.StringVar(&m.from, "from", "", "range start month, YYYY-MM (with -to)")
	fs.StringVar(&m.to, "to", "", "range end month, YYYY-MM (with -from)")
}

func (m *monthFlags) resolve(log zerolog.Logger) []string {
	months, err := ledger.ResolveMonths(m.month, m.last, m.from, m.to)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid month selection")
	}
	return months
}

// envOr falls back to an environment variable when the flag was left empty.
func envOr(flagValue, envKey string) string {
	if flagValue != "" {
		return flagValue
	}
	return os.Getenv(envKey)
}

func openStore(log zerolog.Logger, path string) *store.Store {
	path = envOr(path, "BUDGET_SYNC_DB")
	if path == "" {
		log.Fatal().Msg("Error: -db or BUDGET_SYNC_DB is required")
	}
	st, err := store.Open(path)
	if err != nil {
		log.Fatal().Err(err).Str("path", path).Msg("Failed to open database")
	}
	return st
}

func newSyncer(ctx context.Context, log zerolog.Logger, st *store.Store, sheetID, credentials string) *syncer.Syncer {
	sheetID = envOr(sheetID, "BUDGET_SYNC_SPREADSHEET_ID")
	if sheetID == "" {
		log.Fatal().Msg("Error: -sheet or BUDGET_SYNC_SPREADSHEET_ID is required")
	}
	client, err := gsheet.NewClient(ctx, gsheet.Config{
		SpreadsheetID:   sheetID,
		CredentialsFile: envOr(credentials, "BUDGET_SYNC_CREDENTIALS"),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create sheets client")
	}
	conn := gsheet.NewConnection(client, sheetID, gsheet.DefaultMinCallInterval)
	return syncer.New(st, conn, fx.NewECB(nil))
}

func runImport() {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	db := fs.String("db", "", "path to the sqlite database")
	account := fs.String("account", "", "account name for exports without one")
	verbose := fs.Bool("v", false, "debug logging")
	var months monthFlags
	months.register(fs)
	fs.Parse(os.Args[2:])

	log := logger.New(*verbose)
	if fs.NArg() == 0 {
		log.Fatal().Msg("Usage: budget-sync import [options] FILE...")
	}
	if *account == "" {
		log.Fatal().Msg("Error: -account is required")
	}

	st := openStore(log, *db)
	defer st.Close()

	ctx := logger.WithContext(context.Background(), log)
	n, err := importer.ImportFiles(ctx, st, importer.Registry(*account), fs.Args(), months.resolve(log))
	if err != nil {
		log.Fatal().Err(err).Msg("Import failed")
	}
	fmt.Printf("Imported %d items.\n", n)
}

func runPush() {
	fs := flag.NewFlagSet("push", flag.ExitOnError)
	db := fs.String("db", "", "path to the sqlite database")
	sheet := fs.String("sheet", "", "spreadsheet id")
	credentials := fs.String("credentials", "", "service account credentials file")
	verbose := fs.Bool("v", false, "debug logging")
	var months monthFlags
	months.register(fs)
	fs.Parse(os.Args[2:])

	log := logger.New(*verbose)
	st := openStore(log, *db)
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	sy := newSyncer(ctx, log, st, *sheet, *credentials)
	if err := sy.Push(ctx, months.resolve(log)); err != nil {
		log.Fatal().Err(err).Msg("Push failed")
	}
	fmt.Println("Push completed successfully.")
}

func runPull() {
	fs := flag.NewFlagSet("pull", flag.ExitOnError)
	db := fs.String("db", "", "path to the sqlite database")
	sheet := fs.String("sheet", "", "spreadsheet id")
	credentials := fs.String("credentials", "", "service account credentials file")
	verbose := fs.Bool("v", false, "debug logging")
	var months monthFlags
	months.register(fs)
	fs.Parse(os.Args[2:])

	log := logger.New(*verbose)
	st := openStore(log, *db)
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	sy := newSyncer(ctx, log, st, *sheet, *credentials)
	if err := sy.Pull(ctx, months.resolve(log)); err != nil {
		log.Fatal().Err(err).Msg("Pull failed")
	}
	fmt.Println("Pull completed successfully.")
}

func runTrain() {
	fs := flag.NewFlagSet("train", flag.ExitOnError)
	db := fs.String("db", "", "path to the sqlite database")
	modelDir := fs.String("model-dir", "", "directory for the trained models")
	verbose := fs.Bool("v", false, "debug logging")
	fs.Parse(os.Args[2:])

	log := logger.New(*verbose)
	dir := envOr(*modelDir, "BUDGET_SYNC_MODEL_DIR")
	if dir == "" {
		log.Fatal().Msg("Error: -model-dir or BUDGET_SYNC_MODEL_DIR is required")
	}

	st := openStore(log, *db)
	defer st.Close()

	ctx := logger.WithContext(context.Background(), log)
	categorized, err := st.Filter(ctx, store.IsNull("category", false))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load categorized items")
	}

	if err := classify.NewBayes(dir).Train(categorized); err != nil {
		log.Fatal().Err(err).Msg("Training failed")
	}
	fmt.Printf("Trained on %d categorized items.\n", len(categorized))
}

func runGuess() {
	fs := flag.NewFlagSet("guess", flag.ExitOnError)
	db := fs.String("db", "", "path to the sqlite database")
	modelDir := fs.String("model-dir", "", "directory with the trained models")
	name := fs.String("classifier", "bayes", "classifier to use (bayes, gemini)")
	apply := fs.Bool("apply", false, "store the guesses instead of only printing them")
	verbose := fs.Bool("v", false, "debug logging")
	fs.Parse(os.Args[2:])

	log := logger.New(*verbose)
	st := openStore(log, *db)
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	reg := classify.Registry(
		classify.NewBayes(envOr(*modelDir, "BUDGET_SYNC_MODEL_DIR")),
		classify.NewGemini(),
	)
	clf, err := classify.Lookup(reg, *name)
	if err != nil {
		log.Fatal().Err(err).Msg("Unknown classifier")
	}

	// Gemini constrains its guesses to the categories already in use, so it
	// needs the categorized items up front. Bayes loads its persisted model.
	if _, ok := clf.(*classify.Gemini); ok {
		categorized, err := st.Filter(ctx, store.IsNull("category", false))
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to load categorized items")
		}
		if err := clf.Train(categorized); err != nil {
			log.Fatal().Err(err).Msg("Failed to build the category vocabulary")
		}
	}

	pending, err := st.Filter(ctx, store.IsNull("category", true))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load uncategorized items")
	}

	var overlays []ledger.AugmentedData
	for _, item := range pending {
		overlay, err := clf.Guess(ctx, item)
		if err != nil {
			log.Fatal().Err(err).Str("tx_id", item.TxID).Msg("Guess failed")
		}
		if overlay.Empty() {
			continue
		}
		fmt.Printf("%s  %-40s -> %s / %s\n",
			item.TxDatetime.Format("2006-01-02"), item.Description,
			overlay.Category, overlay.Counterparty)
		overlays = append(overlays, overlay)
	}

	if !*apply {
		fmt.Printf("%d guesses (dry run, use -apply to store them).\n", len(overlays))
		return
	}
	if err := st.SetAugmentedData(ctx, overlays); err != nil {
		log.Fatal().Err(err).Msg("Failed to store guesses")
	}
	fmt.Printf("Stored %d guesses.\n", len(overlays))
}

func runBackup() {
	fs := flag.NewFlagSet("backup", flag.ExitOnError)
	db := fs.String("db", "", "path to the sqlite database")
	dir := fs.String("dir", "backups", "local directory for the dumps")
	bucket := fs.String("bucket", "", "GCS bucket for offsite copies (optional)")
	verbose := fs.Bool("v", false, "debug logging")
	fs.Parse(os.Args[2:])

	log := logger.New(*verbose)
	st := openStore(log, *db)
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	paths, err := backup.Run(ctx, st, *dir, envOr(*bucket, "BUDGET_SYNC_BACKUP_BUCKET"))
	if err != nil {
		log.Fatal().Err(err).Msg("Backup failed")
	}
	for _, p := range paths {
		fmt.Println(p)
	}
}
