package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonean/mira/internal/archive"
	"github.com/tonean/mira/internal/config"
	"github.com/tonean/mira/internal/db"
	"github.com/tonean/mira/internal/enrich"
	"github.com/tonean/mira/internal/gemini"
	"github.com/tonean/mira/internal/report"
	"github.com/tonean/mira/internal/store"
	"github.com/tonean/mira/internal/watch"
)

var (
	version    = "dev"
	commit     = "none"
	buildDate  = "unknown"
	jsonOutput bool
	ownerFlag  string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "mira",
		Short: "Archive ingestion and profile enrichment",
		Long: `Mira ingests exported social-activity archives (followers,
following, posts) into per-person profiles, ranks topical quotes,
and enriches profiles through the Gemini API.`,
	}

	rootCmd.PersistentFlags().BoolVarP(&jsonOutput, "json", "j", false, "Output as JSON")
	rootCmd.PersistentFlags().StringVar(&ownerFlag, "owner", "", "Owner e-mail (overrides config)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version info",
		Run: func(cmd *cobra.Command, args []string) {
			if jsonOutput {
				printJSON(map[string]string{
					"version": version,
					"commit":  commit,
					"date":    buildDate,
				})
			} else {
				fmt.Printf("mira %s (%s, %s)\n", version, commit, buildDate)
			}
		},
	})

	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(ingestCmd())
	rootCmd.AddCommand(contactsCmd())
	rootCmd.AddCommand(enrichCmd())
	rootCmd.AddCommand(improveQuotesCmd())
	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(statsCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize mira config and database",
		Run: func(cmd *cobra.Command, args []string) {
			type Result struct {
				OK        bool   `json:"ok"`
				Message   string `json:"message,omitempty"`
				ConfigDir string `json:"config_dir,omitempty"`
				DataDir   string `json:"data_dir,omitempty"`
				DBPath    string `json:"db_path,omitempty"`
			}
			result := Result{OK: true}

			configDir, err := config.GetConfigDir()
			if err != nil {
				fail(Result{Message: fmt.Sprintf("Failed to get config directory: %v", err)})
			}
			result.ConfigDir = configDir

			dataDir, err := config.GetDataDir()
			if err != nil {
				fail(Result{Message: fmt.Sprintf("Failed to get data directory: %v", err)})
			}
			result.DataDir = dataDir

			if err := os.MkdirAll(configDir, 0755); err != nil {
				fail(Result{Message: fmt.Sprintf("Failed to create config directory: %v", err)})
			}
			if err := os.MkdirAll(dataDir, 0755); err != nil {
				fail(Result{Message: fmt.Sprintf("Failed to create data directory: %v", err)})
			}

			// Write a default config on first run so the user has a file
			// to fill in.
			configPath := filepath.Join(configDir, "config.yaml")
			if _, err := os.Stat(configPath); os.IsNotExist(err) {
				cfg := &config.Config{}
				cfg.Gemini.Model = gemini.DefaultModel
				if err := cfg.Save(); err != nil {
					fail(Result{Message: fmt.Sprintf("Failed to write default config: %v", err)})
				}
			}

			if err := db.Init(); err != nil {
				fail(Result{Message: fmt.Sprintf("Failed to initialize database: %v", err)})
			}
			result.DBPath, _ = db.GetPath()

			if jsonOutput {
				printJSON(result)
			} else {
				fmt.Printf("Initialized mira\n  config: %s\n  data:   %s\n  db:     %s\n",
					result.ConfigDir, result.DataDir, result.DBPath)
			}
		},
	}
}

// resolveOwner returns the owner identity from the --owner flag or config.
func resolveOwner() (archive.Owner, error) {
	cfg, err := config.Load()
	if err != nil {
		return archive.Owner{}, err
	}
	owner := archive.Owner{
		Email:    cfg.Owner.Email,
		Username: cfg.Owner.Username,
		Name:     cfg.Owner.Name,
	}
	if ownerFlag != "" {
		owner.Email = ownerFlag
	}
	if owner.Email == "" {
		return archive.Owner{}, fmt.Errorf("no owner configured; set owner.email in config.yaml or pass --owner")
	}
	return owner, nil
}

func openStore() (*store.Store, func(), error) {
	conn, err := db.Open()
	if err != nil {
		return nil, nil, err
	}
	return store.New(conn), func() { conn.Close() }, nil
}

func ingestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <archive-dir>",
		Short: "Ingest an exported archive directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := resolveOwner()
			if err != nil {
				return err
			}
			people, closeDB, err := openStore()
			if err != nil {
				return err
			}
			defer closeDB()

			run := report.NewRun()
			if err := archive.IngestDir(cmd.Context(), people, owner, args[0], run); err != nil {
				run.Print(os.Stdout)
				return err
			}
			printRun(run)
			return nil
		},
	}
}

func contactsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "contacts <file.mbox>",
		Short: "Import e-mail contacts from a Takeout mbox export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := resolveOwner()
			if err != nil {
				return err
			}
			people, closeDB, err := openStore()
			if err != nil {
				return err
			}
			defer closeDB()

			run := report.NewRun()
			if err := archive.IngestMBox(cmd.Context(), people, owner, args[0], run); err != nil {
				run.Print(os.Stdout)
				return err
			}
			printRun(run)
			return nil
		},
	}
}

func newEnricher(people *store.Store, interval time.Duration) *enrich.Enricher {
	cfg, _ := config.Load()
	client := gemini.NewClient(config.GeminiAPIKey())
	if cfg != nil && cfg.Gemini.RPM > 0 {
		client.SetRPM(cfg.Gemini.RPM)
	}
	opts := enrich.Options{Interval: interval}
	if cfg != nil {
		opts.Model = cfg.Gemini.Model
		opts.Temperature = cfg.Gemini.Temperature
		if interval == 0 && cfg.Gemini.IntervalMS > 0 {
			opts.Interval = time.Duration(cfg.Gemini.IntervalMS) * time.Millisecond
		}
	}
	return enrich.New(client, people, opts)
}

func enrichCmd() *cobra.Command {
	var mode string
	var limit int
	var intervalMS int

	cmd := &cobra.Command{
		Use:   "enrich",
		Short: "Enrich ingested people through the Gemini API",
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := resolveOwner()
			if err != nil {
				return err
			}
			people, closeDB, err := openStore()
			if err != nil {
				return err
			}
			defer closeDB()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			enricher := newEnricher(people, time.Duration(intervalMS)*time.Millisecond)
			stats, err := enricher.EnrichAll(ctx, owner.Email, enrich.Mode(mode), limit)

			run := report.NewRun()
			run.Stage("enrich " + mode).Merge(stats)
			printRun(run)
			return err
		},
	}
	cmd.Flags().StringVar(&mode, "mode", string(enrich.ModeProfile), "Enrichment aspect: profile, timeline, interests")
	cmd.Flags().IntVar(&limit, "limit", 0, "Max people to enrich (0 = all)")
	cmd.Flags().IntVar(&intervalMS, "interval", 0, "Delay between people in ms (0 = config/default)")
	return cmd
}

func improveQuotesCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "improve-quotes",
		Short: "Re-rank stored quotes by topic relevance",
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := resolveOwner()
			if err != nil {
				return err
			}
			people, closeDB, err := openStore()
			if err != nil {
				return err
			}
			defer closeDB()

			list, err := people.ListForEnrichment(cmd.Context(), owner.Email, limit)
			if err != nil {
				return err
			}

			enricher := newEnricher(people, -1)
			run := report.NewRun()
			stage := run.Stage("improve quotes")
			for _, p := range list {
				stage.Attempted++
				if err := enricher.ImproveQuotes(cmd.Context(), p); err != nil {
					fmt.Printf("Warning: failed to improve quotes for %s: %v\n", p.AccountID, err)
					stage.Failed++
					continue
				}
				stage.Succeeded++
			}
			printRun(run)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "Max people to process (0 = all)")
	return cmd
}

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch [drop-dir]",
		Short: "Watch a drop directory and ingest archives as they appear",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := resolveOwner()
			if err != nil {
				return err
			}
			people, closeDB, err := openStore()
			if err != nil {
				return err
			}
			defer closeDB()

			dir := ""
			if len(args) > 0 {
				dir = args[0]
			}
			if dir == "" {
				cfg, _ := config.Load()
				if cfg != nil {
					dir = cfg.Ingest.DropDir
				}
			}
			if dir == "" {
				dataDir, err := config.GetDataDir()
				if err != nil {
					return err
				}
				dir = filepath.Join(dataDir, "drop")
			}
			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("failed to create drop directory: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			handler := func(ctx context.Context, dir string) {
				run := report.NewRun()
				if err := archive.IngestDir(ctx, people, owner, dir, run); err != nil {
					fmt.Printf("Warning: ingest failed: %v\n", err)
					return
				}
				run.Print(os.Stdout)
			}
			return watch.Run(ctx, dir, handler, watch.Options{})
		},
	}
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show store statistics for the owner",
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := resolveOwner()
			if err != nil {
				return err
			}
			people, closeDB, err := openStore()
			if err != nil {
				return err
			}
			defer closeDB()

			total, err := people.Count(cmd.Context(), owner.Email)
			if err != nil {
				return err
			}
			enrichable, err := people.ListForEnrichment(cmd.Context(), owner.Email, 0)
			if err != nil {
				return err
			}
			enriched := 0
			for _, p := range enrichable {
				if enrich.AlreadyEnriched(p) {
					enriched++
				}
			}

			if jsonOutput {
				printJSON(map[string]int{
					"people":      total,
					"with_quotes": len(enrichable),
					"enriched":    enriched,
				})
			} else {
				fmt.Printf("people: %d\nwith quotes: %d\nenriched: %d\n",
					total, len(enrichable), enriched)
			}
			return nil
		},
	}
}

func printRun(run *report.Run) {
	if jsonOutput {
		printJSON(run)
		return
	}
	run.Print(os.Stdout)
}

func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to marshal JSON: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(data))
}

func fail(v any) {
	if jsonOutput {
		printJSON(v)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %+v\n", v)
	}
	os.Exit(1)
}
