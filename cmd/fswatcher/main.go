package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/swxsoc/fswatcher/internal/config"
	"github.com/swxsoc/fswatcher/internal/daemon"
	"github.com/swxsoc/fswatcher/internal/utils"
	"github.com/swxsoc/fswatcher/internal/version"
)

const logTimeFormat = "2006-01-02T15:04:05.000Z07:00"

const fswatcherArt = `
  ______ _______          __   _       _
 |  ____/ ____\ \        / /  | |     | |
 | |__ | (___  \ \  /\  / /_ _| |_ ___| |__   ___ _ __
 |  __| \___ \  \ \/  \/ / _' | __/ __| '_ \ / _ \ '__|
 | |    ____) |  \  /\  / (_| | || (__| | | |  __/ |
 |_|   |_____/    \/  \/ \__,_|\__\___|_| |_|\___|_|
`

// flag name -> viper key; the keys are the legacy environment variable names
// lowercased, so AutomaticEnv picks the env vars up without a prefix.
var viperKeys = map[string]string{
	"bucket":           "s3_bucket_name",
	"watch-dir":        "watch_dir",
	"region":           "aws_region",
	"endpoint-url":     "aws_endpoint_url",
	"concurrency":      "concurrency_limit",
	"max-attempts":     "max_attempts",
	"debounce-window":  "debounce_window",
	"allow-delete":     "allow_delete",
	"backtrack":        "backtrack",
	"backtrack-date":   "backtrack_date",
	"check-s3":         "check_s3",
	"use-fallback":     "use_fallback",
	"poll-interval":    "poll_interval",
	"timestream-db":    "timestream_db",
	"timestream-table": "timestream_table",
	"slack-token":      "slack_token",
	"slack-channel":    "slack_channel",
	"test-iam-policy":  "test_iam_policy",
	"log-file":         "log_file",
}

var rootCmd = &cobra.Command{
	Use:     "fswatcher",
	Short:   "Watch a directory and mirror it into S3",
	Version: version.Detailed(),
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return loadConfig(cmd)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := &config.Config{
			Bucket:           viper.GetString("s3_bucket_name"),
			Region:           viper.GetString("aws_region"),
			EndpointURL:      viper.GetString("aws_endpoint_url"),
			AccessKeyID:      viper.GetString("aws_access_key_id"),
			SecretAccessKey:  viper.GetString("aws_secret_access_key"),
			WatchDir:         viper.GetString("watch_dir"),
			UseFallback:      viper.GetBool("use_fallback"),
			PollInterval:     viper.GetDuration("poll_interval"),
			DebounceWindow:   viper.GetDuration("debounce_window"),
			ConcurrencyLimit: viper.GetInt("concurrency_limit"),
			MaxAttempts:      viper.GetInt("max_attempts"),
			AllowDelete:      viper.GetBool("allow_delete"),
			Backtrack:        viper.GetBool("backtrack"),
			BacktrackDate:    viper.GetString("backtrack_date"),
			CheckStore:       viper.GetBool("check_s3"),
			TestIAMPolicy:    viper.GetBool("test_iam_policy"),
			TimestreamDB:     viper.GetString("timestream_db"),
			TimestreamTable:  viper.GetString("timestream_table"),
			SlackToken:       viper.GetString("slack_token"),
			SlackChannel:     viper.GetString("slack_channel"),
			LogFile:          viper.GetString("log_file"),
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		// config is good; errors past this point are runtime, not usage
		cmd.SilenceUsage = true
		showHeader()

		closeLogs, err := setupLogging(cfg.LogFile)
		if err != nil {
			return err
		}
		defer closeLogs()

		slog.Info("fswatcher", "version", version.Short(), "config", cfg.String())

		d, err := daemon.New(cmd.Context(), cfg)
		if err != nil {
			return err
		}

		defer slog.Info("Bye!")
		return d.Run(cmd.Context())
	},
}

func init() {
	rootCmd.Flags().SortFlags = false
	rootCmd.Flags().StringP("bucket", "b", "", "S3 bucket to mirror into, optionally with a key prefix (\"bucket/prefix\")")
	rootCmd.Flags().StringP("watch-dir", "d", "", "Directory to watch")
	rootCmd.Flags().String("region", "", "AWS region")
	rootCmd.Flags().String("endpoint-url", "", "Custom S3 endpoint (MinIO and compatible stores)")
	rootCmd.Flags().IntP("concurrency", "n", config.DefaultConcurrencyLimit, "Upload worker count")
	rootCmd.Flags().Int("max-attempts", config.DefaultMaxAttempts, "Tries per operation before it is dead-lettered")
	rootCmd.Flags().Duration("debounce-window", config.DefaultDebounceWindow, "Quiet window before a changed file uploads")
	rootCmd.Flags().Bool("allow-delete", false, "Propagate local deletions to the bucket")
	rootCmd.Flags().Bool("backtrack", false, "Upload files that appeared while the watcher was down")
	rootCmd.Flags().String("backtrack-date", "", "Only backtrack files modified after this date (YYYY-MM-DD)")
	rootCmd.Flags().Bool("check-s3", false, "Compare against bucket contents when backtracking")
	rootCmd.Flags().Bool("use-fallback", false, "Poll the filesystem instead of native notifications")
	rootCmd.Flags().Duration("poll-interval", config.DefaultPollInterval, "Poll cadence for the fallback watcher")
	rootCmd.Flags().String("timestream-db", "", "Timestream database for audit records")
	rootCmd.Flags().String("timestream-table", "", "Timestream table for audit records")
	rootCmd.Flags().String("slack-token", "", "Slack bot token for notifications")
	rootCmd.Flags().String("slack-channel", "", "Slack channel for notifications")
	rootCmd.Flags().Bool("test-iam-policy", false, "Verify bucket permissions before watching")
	rootCmd.Flags().String("env-file", "", "Load environment variables from this file")
	rootCmd.Flags().StringP("log-file", "l", config.DefaultLogFilePath, "Log file path")
}

func main() {
	// bootstrap logger until the configured log file is known
	slog.SetDefault(slog.New(stdoutHandler()))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) error {
	// layer the env file in first so AutomaticEnv sees its values; real
	// environment variables win over file entries
	envFile, _ := cmd.Flags().GetString("env-file")
	if envFile == "" {
		envFile = os.Getenv("ENV_FILE")
	}
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return fmt.Errorf("env file '%s': %w", envFile, err)
		}
	} else if utils.FileExists(".env") {
		if err := godotenv.Load(); err != nil {
			return fmt.Errorf("env file '.env': %w", err)
		}
	}

	for flag, key := range viperKeys {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return err
		}
	}
	viper.AutomaticEnv()

	return nil
}

func stdoutHandler() slog.Handler {
	return tint.NewHandler(os.Stdout, &tint.Options{
		Level:      slog.LevelDebug,
		TimeFormat: logTimeFormat,
		NoColor:    !isatty.IsTerminal(os.Stdout.Fd()),
	})
}

// setupLogging points slog at both the terminal and the log file. The
// returned func flushes and closes the file.
func setupLogging(logFile string) (func(), error) {
	// TODO handle log rotation
	if err := utils.EnsureParent(logFile); err != nil {
		return nil, fmt.Errorf("log directory: %w", err)
	}
	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("log file: %w", err)
	}

	lineWriter := utils.NewLineWriter(file)
	fileHandler := slog.NewTextHandler(lineWriter, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})

	slog.SetDefault(slog.New(utils.NewFanoutHandler(stdoutHandler(), fileHandler)))

	return func() {
		lineWriter.Close()
		file.Close()
	}, nil
}

func showHeader() {
	color.New(color.FgHiCyan, color.Bold).Print(fswatcherArt + "\n")
}
