package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"annotator/config"
	"annotator/internal/adapter/chunker"
	"annotator/internal/adapter/cost"
	"annotator/internal/adapter/fs"
	"annotator/internal/adapter/llm"
	"annotator/internal/adapter/logging"
	"annotator/internal/adapter/metrics"
	"annotator/internal/adapter/prompt"
	"annotator/internal/adapter/reconcile"
	"annotator/internal/adapter/store"
	"annotator/internal/port"
	"annotator/internal/usecase"
)

var (
	cfgFile     string
	cfg         *config.Config
	rootDir     string
	logLevel    string
	metricsFile string
	logger      *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "annotator",
	Short: "Annotate text spans with an LLM and reconcile their offsets",
	Long: `Annotator splits documents into overlapping chunks, asks an LLM to tag
spans in each chunk, maps the spans back to document offsets, removes
duplicates from the overlaps and checks every offset against the text.

Results are kept in .annotator/annotations.db in the working directory.

Example usage:
  annotator annotate paper.txt --tags tags.yaml   # Annotate one document
  annotator list                                  # List stored annotations
  annotator repair --record ID --save             # Fix drifted offsets
  annotator export --record ID --format conll     # Export BIO tags`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error

		if rootDir == "" {
			rootDir, err = os.Getwd()
			if err != nil {
				return fmt.Errorf("failed to get working directory: %w", err)
			}
		}

		// A missing .env is fine; credentials may already be exported.
		_ = godotenv.Load(filepath.Join(rootDir, ".env"))

		if cfgFile != "" {
			cfg, err = config.Load(cfgFile)
		} else {
			cfg, err = config.LoadFromDir(rootDir)
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if logLevel != "" {
			cfg.Logging.Level = logLevel
		}
		if metricsFile != "" {
			cfg.Metrics.Textfile = metricsFile
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}

		logger, err = logging.New(cfg.Logging)
		if err != nil {
			return fmt.Errorf("failed to create logger: %w", err)
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if logger != nil {
			_ = logger.Sync()
		}
		if cfg != nil && cfg.Metrics.Textfile != "" {
			if err := metrics.WriteTextfile(cfg.Metrics.Textfile); err != nil {
				return fmt.Errorf("failed to write metrics: %w", err)
			}
		}
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.SilenceErrors = true
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./annotator.yaml)")
	rootCmd.PersistentFlags().StringVarP(&rootDir, "root", "C", "", "working directory holding config and store (default is current directory)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&metricsFile, "metrics-file", "", "write Prometheus metrics to this file on exit")
}

func GetConfig() *config.Config {
	return cfg
}

func GetRootDir() string {
	return rootDir
}

// openStore opens the annotation store, bringing its schema up to date.
func openStore() (*store.BoltStore, error) {
	if err := config.EnsureDataDir(rootDir); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	st, err := store.NewBoltStore(config.StorePath(rootDir))
	if err != nil {
		return nil, fmt.Errorf("failed to open annotation store: %w", err)
	}

	migration, err := st.CheckMigration(cfg)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to check migration: %w", err)
	}
	switch {
	case migration.NeedsRebuild:
		st.Close()
		return nil, fmt.Errorf("cannot open annotation store: %s", migration.Reason)
	case migration.NeedsMigration:
		logger.Info("migrating annotation store", zap.String("reason", migration.Reason))
		if err := st.Migrate(cfg); err != nil {
			st.Close()
			return nil, fmt.Errorf("migration failed: %w", err)
		}
	case migration.ConfigChanged:
		logger.Info("annotation settings changed since earlier records were stored")
	}
	return st, nil
}

// openExistingStore opens the store only if it has been created already.
func openExistingStore() (*store.BoltStore, error) {
	if _, err := os.Stat(config.StorePath(rootDir)); os.IsNotExist(err) {
		return nil, fmt.Errorf("no annotations found. Run 'annotator annotate' first")
	}
	return openStore()
}

// newLLM builds the configured model client, wrapped in the response cache
// when enabled. The returned func releases the cache.
func newLLM(model string) (port.LLM, func(), error) {
	if model == "" {
		model = cfg.LLM.Model
	}

	var client port.LLM
	switch cfg.LLM.Provider {
	case "openai", "":
		c, err := llm.NewOpenAIClient(llm.OpenAIOptions{
			APIKeyEnv:   cfg.LLM.APIKeyEnv,
			BaseURL:     cfg.LLM.BaseURL,
			Model:       model,
			Temperature: cfg.LLM.Temperature,
			MaxTokens:   cfg.EffectiveMaxTokens(),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create LLM client: %w", err)
		}
		client = c
	case "mock":
		client = llm.NewMockClient()
	default:
		return nil, nil, fmt.Errorf("unsupported LLM provider: %s", cfg.LLM.Provider)
	}

	if !cfg.Cache.Enabled {
		return client, func() {}, nil
	}
	cached := llm.NewCachedClient(client, cfg.Cache.TTL, cfg.Cache.Capacity, logger)
	return cached, cached.Close, nil
}

// newPipeline wires the annotation pipeline from the configuration.
func newPipeline(model port.LLM, progress func(done, total int)) (*usecase.AnnotateUseCase, error) {
	chk, err := chunker.NewSentenceChunker(cfg.Chunking.Size, cfg.Chunking.Overlap, cfg.Chunking.Lookback)
	if err != nil {
		return nil, fmt.Errorf("invalid chunking settings: %w", err)
	}
	prompts, err := prompt.NewBuilder()
	if err != nil {
		return nil, err
	}
	return usecase.NewAnnotateUseCase(
		model,
		chk,
		prompts,
		reconcile.NewDeduplicator(cfg.Dedupe.OverlapRatio),
		cost.NewCalculator(cfg.Pricing),
		logger,
		usecase.AnnotateOptions{
			Concurrency: cfg.LLM.Concurrency,
			Timeout:     cfg.LLM.Timeout,
			MaxRetries:  cfg.LLM.MaxRetries,
			Progress:    progress,
		},
	), nil
}

func loadTags(path string) (fs.TagSet, error) {
	if path == "" {
		return fs.TagSet{}, fmt.Errorf("a tag set is required (--tags)")
	}
	set, err := fs.LoadTagSet(path)
	if err != nil {
		return fs.TagSet{}, fmt.Errorf("failed to load tags: %w", err)
	}
	return set, nil
}
