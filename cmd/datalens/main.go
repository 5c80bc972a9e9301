// Package main is the datalens entry point: the API server and a command line
// client for it.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/hyperjump/datalens/internal/cli"
	"github.com/hyperjump/datalens/internal/config"
	"github.com/hyperjump/datalens/internal/gateway"
	"github.com/hyperjump/datalens/internal/jobs"
	"github.com/hyperjump/datalens/internal/locker"
	"github.com/hyperjump/datalens/internal/models"
	"github.com/hyperjump/datalens/internal/report"
	"github.com/hyperjump/datalens/internal/server"
	"github.com/hyperjump/datalens/internal/storage"
	"github.com/hyperjump/datalens/pkg/utils"
)

var version = "dev"

const (
	defaultConfigPath = "/usr/local/etc/datalens/config.yaml"
	defaultServerURL  = "http://localhost:5000"
)

// loadEnvFiles loads .env files from the working directory and its parent.
// Later files override earlier ones and the process environment.
func loadEnvFiles() {
	for _, path := range []string{".env", "../.env"} {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Overload(path); err != nil {
				fmt.Fprintf(os.Stderr, "warning: failed to load %s: %v\n", path, err)
			}
		}
	}
}

// loadConfig loads config from path. When path is the default, config.yaml in
// the current directory wins if it exists; if neither exists the config is
// built from the environment alone and the returned path is empty.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			cfg, err := config.FromEnv()
			if err != nil {
				return nil, "", err
			}
			return cfg, "", nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	loadEnvFiles()

	command := os.Args[1]
	args := os.Args[2:]
	var err error
	switch command {
	case "server":
		runServer(args)
	case "submit-db":
		err = runSubmitDatabase(args)
	case "submit-file":
		err = runSubmitFile(args)
	case "list":
		err = runList(args)
	case "sources":
		err = runSources(args)
	case "status":
		err = runStatus(args)
	case "show":
		err = runShow(args)
	case "ask":
		err = runAsk(args)
	case "export":
		err = runExport(args)
	case "stats":
		err = runStats(args)
	case "version", "--version", "-v":
		fmt.Printf("datalens version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s failed: %v\n", command, err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`datalens - data source analysis service

Usage:
  datalens server [-config path] [-debug]
  datalens submit-db [flags] -name <name> (-conn <url> | -type <db> -host <h> -user <u> -db <name>)
  datalens submit-file [flags] [-name <name>] [-wait] <file.csv|file.xlsx>
  datalens list [flags] [-offset n] [-limit n]
  datalens sources [flags] [-offset n] [-limit n]
  datalens status [flags] [-wait] <analysis-id>
  datalens show [flags] <analysis-id>
  datalens ask [flags] <analysis-id> <question...>
  datalens export [flags] [-out file.pdf] <analysis-id>
  datalens stats [flags]
  datalens version

Client flags:
  -server   server URL (env DATALENS_SERVER, default http://localhost:5000)
  -token    bearer token (env DATALENS_TOKEN)
  -owner    owner id sent as X-User-ID when the server has no token auth (env DATALENS_OWNER)
  -output   text or json
  -timeout  request timeout
`)
}

func runServer(args []string) {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(args)

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Printf("Invalid config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
		zap.String("analysis_service", cfg.Gateway.BaseURL),
		zap.String("database_path", cfg.Storage.DatabasePath),
		zap.String("upload_dir", cfg.Uploads.Directory),
	)

	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		logger.Fatal("Failed to open storage", zap.Error(err))
	}
	defer store.Close()

	lk, closeLocker, err := newLocker(cfg.Locker, logger)
	if err != nil {
		logger.Fatal("Failed to create locker", zap.Error(err))
	}
	defer closeLocker()

	gw := gateway.New(cfg.Gateway, gateway.WithLogger(logger))
	machine := jobs.NewMachine(store, gw,
		jobs.WithLogger(logger),
		jobs.WithLocker(lk),
	)
	srv := server.NewServer(machine, store, cfg, logger)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigChan:
	case err := <-errCh:
		logger.Error("Server failed", zap.Error(err))
	}

	logger.Info("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		logger.Warn("http shutdown incomplete", zap.Error(err))
	}
	if err := machine.Shutdown(ctx); err != nil {
		logger.Warn("analysis runs still in flight at shutdown", zap.Error(err))
	}
}

// newLocker returns a Redis locker when a Redis URL is configured, otherwise
// an in-process one.
func newLocker(cfg config.LockerConfig, logger *zap.Logger) (locker.Locker, func(), error) {
	if cfg.RedisURL == "" {
		return locker.NewLocal(), func() {}, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r, err := locker.DialRedis(ctx, cfg.RedisURL, cfg.KeyPrefix, cfg.LockTTL, locker.WithLogger(logger))
	if err != nil {
		return nil, nil, err
	}
	logger.Info("using redis locker", zap.String("prefix", cfg.KeyPrefix))
	return r, func() {
		if err := r.Close(); err != nil {
			logger.Warn("redis locker close failed", zap.Error(err))
		}
	}, nil
}

// clientOptions are the flags shared by every client subcommand.
type clientOptions struct {
	server  *string
	token   *string
	owner   *string
	output  *string
	timeout *time.Duration
}

func addClientFlags(fs *flag.FlagSet) *clientOptions {
	return &clientOptions{
		server:  fs.String("server", envOr("DATALENS_SERVER", defaultServerURL), "server URL"),
		token:   fs.String("token", os.Getenv("DATALENS_TOKEN"), "bearer token"),
		owner:   fs.String("owner", os.Getenv("DATALENS_OWNER"), "owner id sent as X-User-ID"),
		output:  fs.String("output", "text", "output format: text or json"),
		timeout: fs.Duration("timeout", 5*time.Minute, "request timeout"),
	}
}

func (o *clientOptions) client() *cli.Client {
	return cli.NewClient(*o.server, *o.timeout,
		cli.WithToken(*o.token),
		cli.WithOwner("X-User-ID", *o.owner),
	)
}

func (o *clientOptions) format() (cli.OutputFormat, error) {
	return cli.ParseOutputFormat(*o.output)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// argsReorder moves any flags (and their values) that appear after the
// positional arguments to the front so that flag.Parse sees them. The flag
// package stops at the first non-flag argument, so
// "datalens ask <id> how many users -output json" would otherwise leave
// -output unparsed.
func argsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

// buildQuestion joins positional args with spaces so multi-word questions
// work with or without shell quoting.
func buildQuestion(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

func runSubmitDatabase(args []string) error {
	fs := flag.NewFlagSet("submit-db", flag.ExitOnError)
	opts := addClientFlags(fs)
	name := fs.String("name", "", "data source name")
	conn := fs.String("conn", "", "connection string (mysql://, postgresql://, mongodb://)")
	dbType := fs.String("type", "", "database type when -conn is not given: mysql, postgresql or mongodb")
	host := fs.String("host", "", "database host")
	port := fs.Int("port", 0, "database port (default depends on -type)")
	user := fs.String("user", "", "database user")
	password := fs.String("password", os.Getenv("DATALENS_DB_PASSWORD"), "database password")
	dbName := fs.String("db", "", "database name")
	wait := fs.Bool("wait", false, "wait for the analysis to finish")
	_ = fs.Parse(args)

	format, err := opts.format()
	if err != nil {
		return err
	}
	input := models.DatabaseInput{
		Name:             *name,
		ConnectionString: *conn,
		DBType:           *dbType,
		Host:             *host,
		Port:             *port,
		Username:         *user,
		Password:         *password,
		DatabaseName:     *dbName,
	}
	if err := input.Validate(); err != nil {
		return err
	}
	ctx := context.Background()
	c := opts.client()
	sub, err := c.SubmitDatabase(ctx, input)
	if err != nil {
		return err
	}
	return finishSubmission(ctx, c, sub, format, *wait)
}

func runSubmitFile(args []string) error {
	fs := flag.NewFlagSet("submit-file", flag.ExitOnError)
	opts := addClientFlags(fs)
	name := fs.String("name", "", "data source name (default: file name)")
	wait := fs.Bool("wait", false, "wait for the analysis to finish")
	_ = fs.Parse(argsReorder(args))
	if fs.NArg() != 1 {
		return errors.New("usage: datalens submit-file [flags] <file.csv|file.xlsx>")
	}

	format, err := opts.format()
	if err != nil {
		return err
	}
	ctx := context.Background()
	c := opts.client()
	sub, err := c.SubmitFile(ctx, fs.Arg(0), *name)
	if err != nil {
		return err
	}
	return finishSubmission(ctx, c, sub, format, *wait)
}

func finishSubmission(ctx context.Context, c *cli.Client, sub *cli.Submission, format cli.OutputFormat, wait bool) error {
	if !wait {
		return cli.WriteSubmission(os.Stdout, sub, format)
	}
	if format == cli.OutputText {
		_ = cli.WriteSubmission(os.Stdout, sub, format)
	}
	st, err := c.Wait(ctx, sub.AnalysisID, 2*time.Second)
	if err != nil {
		return err
	}
	return cli.WriteStatus(os.Stdout, sub.AnalysisID, st, format)
}

func runList(args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	opts := addClientFlags(fs)
	offset := fs.Int("offset", 0, "skip this many analyses")
	limit := fs.Int("limit", 20, "maximum number of analyses")
	_ = fs.Parse(args)

	format, err := opts.format()
	if err != nil {
		return err
	}
	list, err := opts.client().Analyses(context.Background(), *offset, *limit)
	if err != nil {
		return err
	}
	return cli.WriteAnalyses(os.Stdout, list, format)
}

func runSources(args []string) error {
	fs := flag.NewFlagSet("sources", flag.ExitOnError)
	opts := addClientFlags(fs)
	offset := fs.Int("offset", 0, "skip this many data sources")
	limit := fs.Int("limit", 20, "maximum number of data sources")
	_ = fs.Parse(args)

	format, err := opts.format()
	if err != nil {
		return err
	}
	list, err := opts.client().DataSources(context.Background(), *offset, *limit)
	if err != nil {
		return err
	}
	return cli.WriteDataSources(os.Stdout, list, format)
}

func runStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	opts := addClientFlags(fs)
	wait := fs.Bool("wait", false, "poll until the analysis finishes")
	interval := fs.Duration("interval", 2*time.Second, "poll interval with -wait")
	_ = fs.Parse(argsReorder(args))
	if fs.NArg() != 1 {
		return errors.New("usage: datalens status [flags] <analysis-id>")
	}

	format, err := opts.format()
	if err != nil {
		return err
	}
	ctx := context.Background()
	c := opts.client()
	var st *models.AnalysisStatus
	if *wait {
		st, err = c.Wait(ctx, fs.Arg(0), *interval)
	} else {
		st, err = c.Status(ctx, fs.Arg(0))
	}
	if err != nil {
		return err
	}
	return cli.WriteStatus(os.Stdout, fs.Arg(0), st, format)
}

func runShow(args []string) error {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	opts := addClientFlags(fs)
	_ = fs.Parse(argsReorder(args))
	if fs.NArg() != 1 {
		return errors.New("usage: datalens show [flags] <analysis-id>")
	}

	format, err := opts.format()
	if err != nil {
		return err
	}
	a, err := opts.client().Analysis(context.Background(), fs.Arg(0))
	if err != nil {
		return err
	}
	return cli.WriteAnalysis(os.Stdout, a, format)
}

func runAsk(args []string) error {
	fs := flag.NewFlagSet("ask", flag.ExitOnError)
	opts := addClientFlags(fs)
	_ = fs.Parse(argsReorder(args))
	if fs.NArg() < 2 {
		return errors.New("usage: datalens ask [flags] <analysis-id> <question...>")
	}
	question := buildQuestion(fs.Args()[1:])
	if question == "" {
		return errors.New("question is required")
	}

	format, err := opts.format()
	if err != nil {
		return err
	}
	ans, err := opts.client().Ask(context.Background(), fs.Arg(0), question)
	if err != nil {
		return err
	}
	return cli.WriteAnswer(os.Stdout, ans, format)
}

func runExport(args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	opts := addClientFlags(fs)
	out := fs.String("out", "", "output file (default analysis-<id>.pdf)")
	_ = fs.Parse(argsReorder(args))
	if fs.NArg() != 1 {
		return errors.New("usage: datalens export [flags] <analysis-id>")
	}
	id := fs.Arg(0)
	path := *out
	if path == "" {
		path = report.Filename(id)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	n, err := opts.client().Export(context.Background(), id, f)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(path)
		return err
	}
	fmt.Printf("Wrote %s (%s)\n", path, cli.HumanBytes(n))
	return nil
}

func runStats(args []string) error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	opts := addClientFlags(fs)
	_ = fs.Parse(args)

	format, err := opts.format()
	if err != nil {
		return err
	}
	s, err := opts.client().Stats(context.Background())
	if err != nil {
		return err
	}
	return cli.WriteStats(os.Stdout, s, format)
}
