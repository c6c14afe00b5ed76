// Commodity exchange price feed CLI
// This application refreshes a local snapshot of commodity exchange prices: it merges
// the upstream listing into a persisted JSON dataset, recomputes trailing-window
// statistics for stale records and writes the dataset plus a CSV export.
//
// Usage:
//
//	pricefeed [refresh]
//	pricefeed export
//	pricefeed runs --limit 20
//	pricefeed --config pricefeed.yaml refresh
//
// For detailed help on any command, use: pricefeed help <command>
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/johnayoung/go-cx-pricefeed/internal/config"
	apperrors "github.com/johnayoung/go-cx-pricefeed/internal/errors"
	"github.com/johnayoung/go-cx-pricefeed/internal/exchange"
	"github.com/johnayoung/go-cx-pricefeed/internal/logger"
	"github.com/johnayoung/go-cx-pricefeed/internal/metrics"
	"github.com/johnayoung/go-cx-pricefeed/internal/refresh"
	"github.com/johnayoung/go-cx-pricefeed/internal/storage"
)

// CLI version information
const (
	Version    = "1.0.0"
	AppName    = "pricefeed"
	ConfigFile = "pricefeed.yaml"
)

const defaultRunsLimit = 10

// usageError marks errors caused by invalid command line input.
type usageError struct {
	msg string
}

func (e usageError) Error() string { return e.msg }

func usagef(format string, args ...any) error {
	return usageError{msg: fmt.Sprintf(format, args...)}
}

// CLI represents the main CLI application
type CLI struct {
	stdout io.Writer
	stderr io.Writer

	config *config.AppConfig
	logs   *logger.LoggerManager
	logger *slog.Logger
}

// globalFlags holds options accepted before or after the command name.
type globalFlags struct {
	configPath string
	command    string
	args       []string
}

// main is the entry point for the CLI application
func main() {
	// Setup signal handling for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	cancel()
	os.Exit(code)
}

// run executes the command line and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	flags, err := parseGlobalFlags(args)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n\n", err)
		printUsage(stderr)
		return apperrors.ExitUsage
	}

	switch flags.command {
	case "version", "--version", "-v":
		fmt.Fprintf(stdout, "%s version %s\n", AppName, Version)
		return apperrors.ExitSuccess
	case "help", "--help", "-h":
		if len(flags.args) > 0 {
			if !printCommandHelp(stdout, flags.args[0]) {
				fmt.Fprintf(stderr, "Error: Unknown command '%s'\n", flags.args[0])
				return apperrors.ExitUsage
			}
		} else {
			printUsage(stdout)
		}
		return apperrors.ExitSuccess
	case "refresh", "export", "runs":
	default:
		fmt.Fprintf(stderr, "Error: Unknown command '%s'\n\n", flags.command)
		printUsage(stderr)
		return apperrors.ExitUsage
	}

	if hasHelpFlag(flags.args) {
		printCommandHelp(stdout, flags.command)
		return apperrors.ExitSuccess
	}

	cli := &CLI{stdout: stdout, stderr: stderr}
	if err := cli.initialize(flags.configPath); err != nil {
		fmt.Fprintf(stderr, "Error: Failed to initialize: %v\n", err)
		return apperrors.ExitConfig
	}
	defer cli.close()

	switch flags.command {
	case "refresh":
		err = cli.handleRefresh(ctx, flags.args)
	case "export":
		err = cli.handleExport(ctx, flags.args)
	case "runs":
		err = cli.handleRuns(ctx, flags.args)
	}

	if err != nil {
		var usage usageError
		if errors.As(err, &usage) {
			fmt.Fprintf(stderr, "Error: %v\n\n", err)
			printCommandHelp(stderr, flags.command)
			return apperrors.ExitUsage
		}

		code := apperrors.ExitCode(err)
		cli.logger.Error("command failed",
			"command", flags.command,
			"error", err,
			"error_type", apperrors.GetErrorType(err),
			"severity", apperrors.GetSeverity(err).String(),
			"fatal", apperrors.IsFatal(err),
			"exit_code", code)
		fmt.Fprintf(stderr, "Error: %v\n", err)
		if apperrors.IsMalformed(err) {
			fmt.Fprintln(stderr, "The upstream response could not be parsed; the dataset was left unchanged.")
		}
		return code
	}

	return apperrors.ExitSuccess
}

// parseGlobalFlags extracts --config and the command name. The command defaults to
// refresh; everything after it that is not a global flag belongs to the command.
func parseGlobalFlags(args []string) (*globalFlags, error) {
	flags := &globalFlags{}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--config" || arg == "-c":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("%s requires a value", arg)
			}
			flags.configPath = args[i+1]
			i++
		case strings.HasPrefix(arg, "--config="):
			flags.configPath = strings.TrimPrefix(arg, "--config=")
		case flags.command == "" && !strings.HasPrefix(arg, "-"):
			flags.command = arg
		case flags.command == "" && isTopLevelFlag(arg):
			flags.command = arg
		case flags.command == "":
			return nil, fmt.Errorf("unknown flag: %s", arg)
		default:
			flags.args = append(flags.args, arg)
		}
	}

	if flags.command == "" {
		flags.command = "refresh"
	}
	return flags, nil
}

func isTopLevelFlag(arg string) bool {
	switch arg {
	case "--help", "-h", "--version", "-v":
		return true
	}
	return false
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

// initialize loads configuration and sets up logging
func (cli *CLI) initialize(configPath string) error {
	bootstrap := slog.New(slog.NewTextHandler(cli.stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	cfg, err := config.NewConfigManager(configPath, bootstrap).LoadConfig()
	if err != nil {
		return err
	}
	cli.config = cfg

	logs, err := cli.newLoggerManager(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	cli.logs = logs
	cli.logger = logs.GetLogger()
	return nil
}

// newLoggerManager routes console output through the CLI's writers.
func (cli *CLI) newLoggerManager(cfg config.LoggingConfig) (*logger.LoggerManager, error) {
	switch cfg.Output {
	case "", "stderr":
		return logger.NewLoggerManagerWithWriter(cfg, cli.stderr), nil
	case "stdout":
		return logger.NewLoggerManagerWithWriter(cfg, cli.stdout), nil
	default:
		return logger.NewLoggerManager(cfg)
	}
}

func (cli *CLI) close() {
	if cli.logs != nil {
		_ = cli.logs.Close()
	}
}

// openJournal opens the configured run journal, falling back to a no-op journal
// when it cannot be opened.
func (cli *CLI) openJournal(ctx context.Context) storage.Journal {
	journalLogger := cli.logs.GetComponentLogger("journal")
	journal, err := storage.OpenJournal(ctx, cli.config.Journal.Path, journalLogger)
	if err != nil {
		cli.logger.Warn("failed to open run journal, runs will not be recorded",
			"path", cli.config.Journal.Path,
			"error", err)
		return storage.NopJournal{}
	}
	return journal
}

// handleRefresh handles the 'refresh' command
func (cli *CLI) handleRefresh(ctx context.Context, args []string) error {
	if len(args) > 0 {
		return usagef("unknown argument: %s", args[0])
	}

	cfg := cli.config
	gateway := exchange.NewFIOClientFromConfig(cfg.Exchange, cli.logs.GetComponentLogger("exchange"))
	store := storage.NewFileStore(cfg.Dataset.Path, cli.logs.GetComponentLogger("storage"))

	journal := cli.openJournal(ctx)
	defer journal.Close()

	opts := []refresh.Option{
		refresh.WithLogger(cli.logs.GetComponentLogger("refresh")),
		refresh.WithConfig(cfg.Refresh),
		refresh.WithJournal(journal),
		refresh.WithMetrics(metrics.NewRunMetrics()),
	}
	if cfg.Dataset.CSVPath != "" {
		opts = append(opts, refresh.WithExporter(
			storage.NewCSVExporter(cfg.Dataset.CSVPath, cli.logs.GetComponentLogger("storage"))))
	}

	summary, err := refresh.New(gateway, store, opts...).Run(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintln(cli.stdout, summary.String())
	if summary.RateLimited {
		fmt.Fprintf(cli.stdout, "Rate limited at %s; %d stale records left for the next run\n",
			summary.RateLimitedAt, summary.SkippedRateLimited)
	}
	return nil
}

// handleExport handles the 'export' command: it regenerates the CSV export from the
// persisted dataset without contacting the upstream API.
func (cli *CLI) handleExport(ctx context.Context, args []string) error {
	if len(args) > 0 {
		return usagef("unknown argument: %s", args[0])
	}

	cfg := cli.config
	if cfg.Dataset.CSVPath == "" {
		return apperrors.New(apperrors.ErrorTypeConfiguration, "cli", "export",
			errors.New("dataset.csv_path is not configured"))
	}

	storageLogger := cli.logs.GetComponentLogger("storage")
	records, err := storage.NewFileStore(cfg.Dataset.Path, storageLogger).Load(ctx)
	if err != nil {
		return apperrors.New(apperrors.ErrorTypeStorage, "cli", "export", err)
	}

	start := time.Now()
	if err := storage.NewCSVExporter(cfg.Dataset.CSVPath, storageLogger).Export(ctx, records); err != nil {
		return apperrors.New(apperrors.ErrorTypeStorage, "cli", "export", err)
	}

	logger.LogDuration(ctx, cli.logger, slog.LevelInfo, "export_csv", time.Since(start), "csv export written",
		"path", cfg.Dataset.CSVPath,
		"records", len(records))
	fmt.Fprintf(cli.stdout, "Exported %d records to %s\n", len(records), cfg.Dataset.CSVPath)
	return nil
}

// handleRuns handles the 'runs' command: it lists recent runs from the journal
func (cli *CLI) handleRuns(ctx context.Context, args []string) error {
	limit := defaultRunsLimit
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--limit", "-n":
			if i+1 >= len(args) {
				return usagef("%s requires a value", args[i])
			}
			n, err := strconv.Atoi(args[i+1])
			if err != nil || n <= 0 {
				return usagef("invalid limit value: %s", args[i+1])
			}
			limit = n
			i++
		default:
			return usagef("unknown flag: %s", args[i])
		}
	}

	if cli.config.Journal.Path == "" {
		return apperrors.New(apperrors.ErrorTypeConfiguration, "cli", "runs",
			errors.New("journal.path is not configured"))
	}

	journal, err := storage.OpenSQLiteJournal(ctx, cli.config.Journal.Path, cli.logs.GetComponentLogger("journal"))
	if err != nil {
		return apperrors.New(apperrors.ErrorTypeStorage, "cli", "runs", err)
	}
	defer journal.Close()

	runs, err := journal.Recent(ctx, limit)
	if err != nil {
		return apperrors.New(apperrors.ErrorTypeStorage, "cli", "runs", err)
	}

	if len(runs) == 0 {
		fmt.Fprintln(cli.stdout, "No runs recorded")
		return nil
	}
	for _, r := range runs {
		fmt.Fprintf(cli.stdout, "%s  %-9s  %s\n", r.StartedAt.Format(time.RFC3339), r.Status, r.String())
	}
	return nil
}

// printUsage prints the main usage information
func printUsage(w io.Writer) {
	fmt.Fprintf(w, `%s - commodity exchange price feed v%s

USAGE:
    %s [--config <file>] [command] [options]

COMMANDS:
    refresh     Refresh stale records and write the dataset and CSV export (default)
    export      Regenerate the CSV export from the dataset without network access
    runs        List recent refresh runs from the run journal
    version     Show version information
    help        Show help for a command

GLOBAL OPTIONS:
    --config, -c   Configuration file (JSON, or YAML with a .yaml/.yml extension)
    --help, -h     Show help information
    --version, -v  Show version information

EXIT CODES:
    0    success, including runs stopped early by upstream rate limiting
    1    usage error
    2    configuration error
    3    upstream unreachable or rejected the request
    4    malformed upstream data or unreadable dataset
    5    any other failure
    130  interrupted

CONFIGURATION:
    Configuration can be provided via:
    - Config file: %s (passed with --config)
    - Environment variables: %s* (e.g., %sDATASET_PATH)

    Example config file:
        exchange:
          base_url: https://rest.fnar.net
          history_timeout: 3s
        dataset:
          path: all.json
          csv_path: all.csv
        journal:
          path: runs.db

For detailed help on any command, use: %s help <command>
`, AppName, Version, AppName, ConfigFile, config.EnvPrefix, config.EnvPrefix, AppName)
}

// printCommandHelp prints detailed help for a specific command. It reports false
// for an unknown command.
func printCommandHelp(w io.Writer, command string) bool {
	switch command {
	case "refresh":
		fmt.Fprintf(w, `%s refresh - Refresh stale records

USAGE:
    %s [--config <file>] refresh

Loads the dataset, merges the current upstream listing into it, recomputes the
7 and 30 day statistics of every record older than refresh.stale_after (oldest
first, one request per refresh.throttle_interval) and writes the dataset and the
CSV export. A history request exceeding exchange.history_timeout stops further
requests for the rest of the run; the run still succeeds.
`, AppName, AppName)
	case "export":
		fmt.Fprintf(w, `%s export - Regenerate the CSV export

USAGE:
    %s [--config <file>] export

Reads dataset.path and writes dataset.csv_path. No network access.
`, AppName, AppName)
	case "runs":
		fmt.Fprintf(w, `%s runs - List recent refresh runs

USAGE:
    %s [--config <file>] runs [--limit <n>]

OPTIONS:
    --limit, -n    Number of runs to show (default: %d)

Requires journal.path to be configured.
`, AppName, AppName, defaultRunsLimit)
	case "version":
		fmt.Fprintf(w, "%s version - Show version information\n", AppName)
	case "help":
		fmt.Fprintf(w, "%s help [command] - Show help information\n", AppName)
	default:
		return false
	}
	return true
}
