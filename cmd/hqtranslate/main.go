package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jaimo012/hanwha-qcells-translation/internal/cli"
	"github.com/jaimo012/hanwha-qcells-translation/internal/config"
	"github.com/jaimo012/hanwha-qcells-translation/internal/glossary"
	"github.com/jaimo012/hanwha-qcells-translation/internal/ledger"
	"github.com/jaimo012/hanwha-qcells-translation/internal/models"
	"github.com/jaimo012/hanwha-qcells-translation/internal/notify"
	"github.com/jaimo012/hanwha-qcells-translation/internal/pipeline"
	"github.com/jaimo012/hanwha-qcells-translation/internal/review"
	"github.com/jaimo012/hanwha-qcells-translation/internal/translation"
	"github.com/jaimo012/hanwha-qcells-translation/internal/verify"
)

func main() {
	// Create flags instance
	flags := cli.NewFlags()

	// Create root command
	rootCmd := cli.CreateRootCommand(flags)

	// Set up command initialization
	cobra.OnInitialize(func() {
		cli.InitConfig(flags.CfgFile)
	})

	// Running the bare command translates, matching the common case
	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		if flags.ListModels {
			lister := models.NewLister(cli.GetOpenAIKey())
			return lister.ListAvailableModels()
		}
		return runTranslate(cmd.Context())
	}

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "translate",
			Short: "Translate every pending ledger task",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runTranslate(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "verify",
			Short: "Re-check completed documents for leftover Korean",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runVerify(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "review",
			Short: "Fill the final-review ledger",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runReview(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "seed",
			Short: "Register origin-folder documents as ledger tasks",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runSeed(cmd.Context())
			},
		},
	)

	// Stop cleanly after the in-flight task on Ctrl-C
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Execute command
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// app bundles the wired components of one run.
type app struct {
	cfg        *config.Config
	store      *ledger.SQLiteStore
	ledger     *ledger.Manager
	translator *translation.Translator
	notifier   *notify.Slack
	driver     *pipeline.Driver
}

func (a *app) close() {
	a.store.Close()
}

// buildApp assembles the full pipeline from configuration.
func buildApp(ctx context.Context) (*app, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.EnsureFolders(); err != nil {
		return nil, err
	}

	store, err := ledger.OpenSQLite(cfg.LedgerPath)
	if err != nil {
		return nil, err
	}
	lm := ledger.NewManager(store)

	var client translation.Client
	if cfg.Provider == "openai" {
		client = translation.NewOpenAIClient(cfg.OpenAIKey, cfg.Model)
	} else {
		client, err = translation.NewGeminiClient(ctx, cfg.GeminiKey, cfg.Model)
		if err != nil {
			store.Close()
			return nil, err
		}
	}
	translator := translation.NewTranslator(client)

	terms, err := glossary.Load(cfg.GlossaryPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: glossary not loaded: %v\n", err)
	} else if len(terms) > 0 {
		translator.SetGlossary(glossary.PromptText(terms, cfg.GlossaryMaxTerms))
		fmt.Printf("Glossary loaded: %d terms\n", len(terms))
	}

	notifier := notify.NewSlack(cfg.SlackWebhookURL)
	driver := pipeline.NewDriver(cfg, lm, translator, notifier)

	return &app{
		cfg:        cfg,
		store:      store,
		ledger:     lm,
		translator: translator,
		notifier:   notifier,
		driver:     driver,
	}, nil
}

func runTranslate(ctx context.Context) error {
	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	fmt.Printf("Translating with %s\n", a.cfg.Model)
	_, err = a.driver.Run(ctx)
	return err
}

func runVerify(ctx context.Context) error {
	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	v := verify.NewVerifier(a.cfg, a.ledger, a.driver.ProcessTask)
	sum, err := v.Run(ctx)
	if err != nil {
		return err
	}
	if nerr := a.notifier.VerifySummary(ctx, sum.Promoted, sum.Retranslated, sum.Failed); nerr != nil {
		fmt.Fprintf(os.Stderr, "Notification failed: %v\n", nerr)
	}
	return nil
}

func runReview(ctx context.Context) error {
	cfg := config.Load()
	store, err := ledger.OpenSQLite(cfg.LedgerPath)
	if err != nil {
		return err
	}
	defer store.Close()

	r := review.NewReviewer(cfg, ledger.NewManager(store))
	_, err = r.Run(ctx)
	return err
}

func runSeed(ctx context.Context) error {
	cfg := config.Load()
	if err := cfg.EnsureFolders(); err != nil {
		return err
	}
	store, err := ledger.OpenSQLite(cfg.LedgerPath)
	if err != nil {
		return err
	}
	defer store.Close()
	lm := ledger.NewManager(store)

	// Existing rows keep their position; seeding only appends new files.
	existing, err := lm.AllTasks(ctx)
	if err != nil {
		return err
	}
	seen := make(map[string]bool, len(existing))
	var nextSeq int64
	for _, row := range existing {
		seen[filepath.Join(row.UpperPath, row.SubPath, row.FileName)] = true
		if row.Seq > nextSeq {
			nextSeq = row.Seq
		}
	}

	added := 0
	err = filepath.WalkDir(cfg.OriginFolder, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || !pipeline.SupportedFile(d.Name()) {
			return err
		}
		rel, err := filepath.Rel(cfg.OriginFolder, path)
		if err != nil {
			return err
		}
		upper, sub := splitRelPath(filepath.Dir(rel))
		if seen[filepath.Join(upper, sub, d.Name())] {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		nextSeq++
		_, err = lm.InsertTask(ctx, ledger.Row{
			Seq:       nextSeq,
			UpperPath: upper,
			SubPath:   sub,
			FileName:  d.Name(),
			FileSize:  info.Size(),
			FileKind:  strings.TrimPrefix(strings.ToLower(filepath.Ext(d.Name())), "."),
		})
		if err != nil {
			return err
		}
		added++
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to seed ledger: %w", err)
	}

	fmt.Printf("Seeded %d new tasks (%d already present)\n", added, len(existing))
	return nil
}

// splitRelPath divides a relative directory into the top-level folder and
// the rest, the two path columns the ledger tracks.
func splitRelPath(dir string) (upper, sub string) {
	if dir == "." || dir == "" {
		return "", ""
	}
	parts := strings.SplitN(filepath.ToSlash(dir), "/", 2)
	upper = parts[0]
	if len(parts) > 1 {
		sub = filepath.FromSlash(parts[1])
	}
	return upper, sub
}
