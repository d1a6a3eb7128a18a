package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/PentesterFlow/PSD2Scout/internal/logger"
	"github.com/PentesterFlow/PSD2Scout/internal/metrics"
	"github.com/PentesterFlow/PSD2Scout/internal/output"
	"github.com/PentesterFlow/PSD2Scout/internal/progress"
	"github.com/PentesterFlow/PSD2Scout/internal/scope"
	"github.com/PentesterFlow/PSD2Scout/internal/server"
	"github.com/PentesterFlow/PSD2Scout/internal/shutdown"
	"github.com/PentesterFlow/PSD2Scout/internal/store"
	"github.com/PentesterFlow/PSD2Scout/pkg/discovery"
)

var (
	version = "1.0.0"

	// Global flags
	configFile  string
	archivePath string
	logLevel    string
	verbose     bool
	debug       bool

	// Scan flags
	maxDepth     int
	maxPages     int
	timeout      int
	rateLimit    float64
	concurrency  int
	taxonomyFile string
	inputFile    string
	outputFile   string
	outputFormat string
	noProgress   bool

	// Serve flags
	listenAddr  string
	scanTimeout time.Duration
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "psd2scout",
		Short: "PSD2Scout - PSD2 API discovery crawler",
		Long: `PSD2Scout - Discover PSD2 APIs published on bank websites.

Crawls each site within depth and page budgets, scores pages against a PSD2
keyword taxonomy and builds an inventory of AIS, PIS and CAF endpoints with
their documentation, specification and sandbox links.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	scanCmd := &cobra.Command{
		Use:   "scan [url...]",
		Short: "Scan bank websites for PSD2 APIs",
		Long:  "Scan one or more bank websites and print the API inventory.",
		RunE:  runScan,
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Long:  "Serve scans, exports and run history over HTTP.",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}

	historyCmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List archived runs or print one",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runHistory,
	}

	initConfigCmd := &cobra.Command{
		Use:   "init-config [path]",
		Short: "Write the default configuration to a file",
		Args:  cobra.ExactArgs(1),
		RunE:  runInitConfig,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Configuration file (YAML or JSON)")
	rootCmd.PersistentFlags().StringVar(&archivePath, "archive", "", "Run archive (.db for BoltDB, .json or .json.gz for a file)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Debug mode")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides --verbose and --debug")

	// Crawl flags shared by scan and serve
	for _, cmd := range []*cobra.Command{scanCmd, serveCmd} {
		cmd.Flags().IntVarP(&maxDepth, "max-depth", "d", 2, "Maximum crawl depth")
		cmd.Flags().IntVarP(&maxPages, "max-pages", "p", 50, "Maximum pages per site")
		cmd.Flags().IntVarP(&timeout, "timeout", "t", 10, "Request timeout in seconds")
		cmd.Flags().Float64VarP(&rateLimit, "rate-limit", "r", 0, "Requests per second per site (0 = unlimited)")
		cmd.Flags().IntVar(&concurrency, "concurrency", 1, "Sites scanned in parallel")
		cmd.Flags().StringVar(&taxonomyFile, "taxonomy", "", "Keyword taxonomy file (YAML)")
	}

	// Scan flags
	scanCmd.Flags().StringVarP(&inputFile, "input", "i", "", "File with one URL per line")
	scanCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file (default: stdout)")
	scanCmd.Flags().StringVarP(&outputFormat, "format", "f", "json", "Output format (json, csv, xlsx)")
	scanCmd.Flags().BoolVar(&noProgress, "no-progress", false, "Disable progress bar")

	// Serve flags
	serveCmd.Flags().StringVarP(&listenAddr, "addr", "a", ":8080", "Listen address")
	serveCmd.Flags().DurationVar(&scanTimeout, "scan-timeout", 10*time.Minute, "Maximum duration of one scan request")

	// History flags
	historyCmd.Flags().StringVarP(&outputFormat, "format", "f", "json", "Output format for a single run (json, csv, xlsx)")

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(initConfigCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newLogger builds the console logger selected by --log-level, --verbose
// and --debug.
func newLogger() (*logger.Logger, error) {
	cfg := logger.DefaultConfig()
	switch {
	case logLevel != "":
		level, err := logger.ParseLevel(logLevel)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", logLevel, err)
		}
		cfg.Level = level
	case debug:
		cfg.Level = logger.DebugLevel
	case verbose:
		cfg.Level = logger.InfoLevel
	}
	return logger.New(cfg), nil
}

// buildConfig loads --config if given and applies the flags the user set.
func buildConfig(cmd *cobra.Command) (*discovery.Config, error) {
	config := discovery.DefaultConfig()
	if configFile != "" {
		fileConfig, err := discovery.LoadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
		config = fileConfig
	}

	// Command-line flags take precedence
	flags := cmd.Flags()
	if flags.Changed("max-depth") {
		config.MaxDepth = maxDepth
	}
	if flags.Changed("max-pages") {
		config.MaxPages = maxPages
	}
	if flags.Changed("timeout") {
		config.Timeout = time.Duration(timeout) * time.Second
	}
	if flags.Changed("rate-limit") {
		config.RequestsPerSecond = rateLimit
	}
	if flags.Changed("concurrency") {
		config.Concurrency = concurrency
	}
	if flags.Changed("taxonomy") {
		config.TaxonomyFile = taxonomyFile
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

func runScan(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(outputFormat)
	if err != nil {
		return err
	}

	config, err := buildConfig(cmd)
	if err != nil {
		return err
	}

	raw := args
	if inputFile != "" {
		fileURLs, err := readURLs(inputFile)
		if err != nil {
			return err
		}
		raw = append(raw, fileURLs...)
	}

	urls, invalid := normalizeTargets(raw)
	for _, u := range invalid {
		fmt.Fprintf(os.Stderr, "Skipping invalid URL: %s\n", u)
	}
	if len(urls) == 0 {
		return errors.New("no valid URLs provided")
	}

	log, err := newLogger()
	if err != nil {
		return err
	}
	collector := metrics.New()

	d, err := discovery.New(
		discovery.WithConfig(config),
		discovery.WithLogger(log.WithComponent("discovery")),
		discovery.WithMetrics(collector),
	)
	if err != nil {
		return fmt.Errorf("failed to create discoverer: %w", err)
	}
	defer d.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Progress bar and log lines would interleave
	enableProgress := !noProgress && !verbose && !debug

	var display *progress.Display
	var onProgress discovery.ProgressFunc
	if enableProgress {
		display = progress.New(collector)
		display.Start(len(urls))
		onProgress = display.Update
	}

	result := d.Discover(ctx, urls, onProgress)

	if display != nil {
		display.Stop()
		display.PrintSummary()
	}
	if ctx.Err() != nil {
		fmt.Fprintln(os.Stderr, "Interrupted, results are partial")
	}

	if err := output.WriteSummary(os.Stderr, result); err != nil {
		return err
	}

	if archivePath != "" {
		if err := archiveResult(archivePath, result); err != nil {
			return err
		}
	}

	return writeResult(result, format, outputFile)
}

// writeResult writes result to path, or stdout when path is empty.
func writeResult(result *discovery.DiscoveryResult, format output.Format, path string) error {
	var w io.Writer = os.Stdout
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	ow := output.NewWriter(w, output.Config{Format: format, Pretty: true})
	if err := ow.WriteResult(result); err != nil {
		if errors.Is(err, output.ErrNoAPIs) {
			fmt.Fprintln(os.Stderr, "No APIs found, nothing to export")
			return nil
		}
		return fmt.Errorf("failed to write output: %w", err)
	}
	if err := ow.Flush(); err != nil {
		return err
	}

	if path != "" {
		fmt.Fprintf(os.Stderr, "Results written to %s\n", path)
	}
	return nil
}

func archiveResult(path string, result *discovery.DiscoveryResult) error {
	archive, err := store.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer archive.Close()

	id, err := archive.Save(result)
	if err != nil {
		return fmt.Errorf("failed to archive run: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Archived as run %d in %s\n", id, path)
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	config, err := buildConfig(cmd)
	if err != nil {
		return err
	}

	log, err := newLogger()
	if err != nil {
		return err
	}
	// Request logs are info level
	if logLevel == "" && !debug {
		log.SetLevel(logger.InfoLevel)
	}

	h := shutdown.New(shutdown.Config{
		Timeout: 30 * time.Second,
		OnShutdownStart: func() {
			log.Info("Shutting down")
		},
	})

	var archive store.Archive
	if archivePath != "" {
		archive, err = store.Open(archivePath)
		if err != nil {
			return fmt.Errorf("failed to open archive: %w", err)
		}
		h.RegisterCloser("archive", archive)
	}

	srv := &http.Server{
		Addr: listenAddr,
		Handler: server.New(server.Config{
			Discovery:   config,
			ScanTimeout: scanTimeout,
			Logger:      log,
			Archive:     archive,
		}).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	h.RegisterServer("http", srv)

	errCh := make(chan error, 1)
	go func() {
		log.Infof("Listening on %s", listenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			h.Trigger()
		}
	}()

	result := h.Wait(context.Background())

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	default:
	}
	if result.HasErrors() {
		return fmt.Errorf("shutdown: %w", errors.Join(result.Errors...))
	}
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	if archivePath == "" {
		return errors.New("--archive is required")
	}

	archive, err := store.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer archive.Close()

	if len(args) == 1 {
		id, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid run id %q", args[0])
		}
		run, err := archive.Get(id)
		if err != nil {
			return err
		}
		format, err := output.ParseFormat(outputFormat)
		if err != nil {
			return err
		}
		return writeResult(run.Result, format, "")
	}

	runs, err := archive.List()
	if err != nil {
		return err
	}
	return printRuns(os.Stdout, runs)
}

// printRuns renders run summaries as a table.
func printRuns(w io.Writer, runs []store.RunSummary) error {
	if len(runs) == 0 {
		_, err := fmt.Fprintln(w, "No archived runs")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSCANNED\tSITES\tFAILED\tAPIS")
	for _, r := range runs {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%d\n",
			r.ID, r.ScanTimestamp.UTC().Format(time.RFC3339), r.Sites, r.FailedSites, r.TotalAPIs)
	}
	return tw.Flush()
}

func runInitConfig(cmd *cobra.Command, args []string) error {
	if err := discovery.DefaultConfig().SaveToFile(args[0]); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Default configuration written to %s\n", args[0])
	return nil
}

// readURLs reads one URL per line, ignoring blank lines and # comments.
func readURLs(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input file: %w", err)
	}
	defer f.Close()

	var urls []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	return urls, sc.Err()
}

// normalizeTargets adds missing schemes and separates invalid URLs.
// Blank entries are dropped.
func normalizeTargets(raw []string) (valid, invalid []string) {
	for _, r := range raw {
		if strings.TrimSpace(r) == "" {
			continue
		}
		u, err := scope.NormalizeSeed(r)
		if err != nil {
			invalid = append(invalid, r)
			continue
		}
		valid = append(valid, u)
	}
	return valid, invalid
}
