package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"

	"github.com/hosseinskia/imageflow/auditlog"
	"github.com/hosseinskia/imageflow/config"
	"github.com/hosseinskia/imageflow/logging"
	"github.com/hosseinskia/imageflow/media"
	"github.com/hosseinskia/imageflow/pipeline"
	"github.com/hosseinskia/imageflow/progress"
	"github.com/hosseinskia/imageflow/server"
	"github.com/hosseinskia/imageflow/storage"
	"github.com/hosseinskia/imageflow/tokens"
)

var (
	configPath string
	envFile    string
	logsLimit  int
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "imageflow",
	Short:         "Self-hosted photo upload and gallery server",
	SilenceUsage: true,
}

// loadConfig reads the config file, the .env file and the environment.
// Maintenance commands don't need credentials, so validation is optional.
func loadConfig(validate bool) (*config.Config, error) {
	if validate {
		return config.Load(configPath, envFile)
	}

	cfg, err := config.FromFile(configPath)
	if err != nil {
		return nil, err
	}
	if err := config.LoadEnvFiles(envFile); err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(logging.Options{
		Level:      cfg.LogLevel,
		Path:       cfg.LogPath,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogMaxAgeDays,
	})
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(true)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		logger, err := newLogger(cfg)
		if err != nil {
			return fmt.Errorf("creating logger: %w", err)
		}
		defer logger.Sync()

		store, err := storage.New(cfg.OriginalsDir(), cfg.PreviewsDir(), logger)
		if err != nil {
			return err
		}

		logs, err := auditlog.Open(cfg, logger)
		if err != nil {
			return fmt.Errorf("opening audit log: %w", err)
		}
		defer logs.Close()

		watermark, err := media.LoadWatermark(cfg.WatermarkPath)
		if err != nil {
			return err
		}

		exif := media.NewExifTool(cfg.ExiftoolPath)
		defer exif.Close()

		registry := tokens.NewRegistry(cfg.DownloadTokenTTL(), tokens.RealClock{})
		defer registry.Close()

		hub := progress.NewHub(progress.DefaultRetention)
		defer hub.Close()

		pipe := pipeline.New(
			store,
			media.NewGenerator(cfg.PreviewSize, watermark),
			auditlog.NewLogger(logs, logger),
			hub,
			pipeline.LimitsFromConfig(cfg),
			cfg.ImageWorkers,
			logger,
		)

		srv := server.New(cfg, server.Deps{
			Logger:     logger,
			Store:      store,
			Logs:       logs,
			Tokens:     registry,
			Pipeline:   pipe,
			Normalizer: media.NewNormalizer(exif, logger),
			Hub:        hub,
		})
		if err := srv.SetupHTTP(); err != nil {
			return fmt.Errorf("setup http: %w", err)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return srv.Run(ctx)
	},
}

var hashPasswordCmd = &cobra.Command{
	Use:   "hash-password [password]",
	Short: "Print a bcrypt hash for IMAGEFLOW_PASSWORD",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var password []byte
		if len(args) == 1 {
			password = []byte(args[0])
		} else {
			if !term.IsTerminal(int(os.Stdin.Fd())) {
				return errors.New("no password given and stdin is not a terminal")
			}
			fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
			p, err := term.ReadPassword(int(os.Stdin.Fd()))
			fmt.Fprintln(cmd.ErrOrStderr())
			if err != nil {
				return fmt.Errorf("reading password: %w", err)
			}
			password = p
		}

		if len(password) == 0 {
			return errors.New("password must not be empty")
		}

		hash, err := bcrypt.GenerateFromPassword(password, bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hashing password: %w", err)
		}

		fmt.Fprintln(cmd.OutOrStdout(), string(hash))
		return nil
	},
}

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: fmt.Sprintf("Delete images older than %d month(s)", storage.RetentionMonths),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(false)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		logger, err := newLogger(cfg)
		if err != nil {
			return fmt.Errorf("creating logger: %w", err)
		}
		defer logger.Sync()

		store, err := storage.New(cfg.OriginalsDir(), cfg.PreviewsDir(), logger)
		if err != nil {
			return err
		}

		n, err := store.Purge(time.Now())
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Removed %d image(s)\n", n)
		return nil
	},
}

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Print the newest audit log records",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(false)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		logs, err := auditlog.Open(cfg, zap.NewNop())
		if err != nil {
			return fmt.Errorf("opening audit log: %w", err)
		}
		defer logs.Close()

		records, err := logs.ReadAll(context.Background())
		if err != nil {
			return err
		}
		if logsLimit > 0 && len(records) > logsLimit {
			records = records[:logsLimit]
		}

		out := cmd.OutOrStdout()
		for _, r := range records {
			fmt.Fprint(out, r.Line())
		}
		if len(records) == 0 {
			fmt.Fprintln(out, "No records.")
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a JSON or TOML config file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "path to a .env file")

	logsCmd.Flags().IntVarP(&logsLimit, "limit", "n", 20, "number of records to print, 0 for all")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(hashPasswordCmd)
	rootCmd.AddCommand(purgeCmd)
	rootCmd.AddCommand(logsCmd)
}
