package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/mikey/inbox-sweeper/internal/adapters/export"
	"github.com/mikey/inbox-sweeper/internal/adapters/gmail"
	"github.com/mikey/inbox-sweeper/internal/config"
	"github.com/mikey/inbox-sweeper/internal/core"
	"github.com/mikey/inbox-sweeper/internal/di"
	"github.com/mikey/inbox-sweeper/internal/factory"
	"github.com/mikey/inbox-sweeper/internal/utils"
	"github.com/mikey/inbox-sweeper/internal/whitelist"
)

const (
	exitOK        = 0
	exitError     = 1
	exitPartial   = 2
	exitCancelled = 3
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		printUsage(os.Stderr)
		return exitError
	}

	switch args[0] {
	case "scan":
		return runScan(args[1:])
	case "clean":
		return runClean(args[1:])
	case "export":
		return runExport(args[1:])
	case "cache":
		return runCache(args[1:])
	case "history":
		return runHistory(args[1:])
	case "auth":
		return runAuth(args[1:])
	case "help", "-h", "--help":
		printUsage(os.Stdout)
		return exitOK
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", args[0])
		printUsage(os.Stderr)
		return exitError
	}
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `inbox-sweeper finds bulk and automated senders in a Gmail mailbox and
moves their mail to trash on request.

Usage:
  inbox-sweeper <command> [flags]

Commands:
  scan     Scan the mailbox and rank senders by bulk-mail score
  clean    Review high-scoring senders and move their mail to trash
  export   Write the latest scan result as CSV or JSON
  cache    Inspect or clear cached scan results (info|clear)
  history  Show the trash audit log
  auth     Run the OAuth flow and show the authorized account

Common flags:
  -config FILE  Path to config file
  -verbose      Enable verbose logging
  -json-log     Output logs in JSON format

Run 'inbox-sweeper <command> -h' for command-specific flags.
`)
}

// addCommonFlags registers the flags every subcommand accepts.
func addCommonFlags(fs *flag.FlagSet, flags *di.CLIFlags) {
	fs.BoolVar(&flags.Verbose, "verbose", false, "Enable verbose logging")
	fs.BoolVar(&flags.JSONLog, "json-log", false, "Output logs in JSON format")
	fs.StringVar(&flags.ConfigFile, "config", "", "Path to config file")
}

// parseFlags parses args into fs, mapping -h to a clean exit.
func parseFlags(fs *flag.FlagSet, args []string) (int, bool) {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK, false
		}
		return exitError, false
	}
	return exitOK, true
}

func newContainer(flags *di.CLIFlags) (*dig.Container, int) {
	container, err := di.BuildContainer(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build dependency container: %v\n", err)
		return nil, exitError
	}
	return container, exitOK
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	return ctx, cancel
}

// reportFatal prints err for the user and maps it to an exit code.
func reportFatal(err error) int {
	err = dig.RootCause(err)

	var authErr *core.AuthError
	if errors.As(err, &authErr) {
		fmt.Fprintf(os.Stderr, "Authorization failed: %s\n", authErr.Reason)
		if authErr.Remediation != "" {
			fmt.Fprintf(os.Stderr, "  %s\n", authErr.Remediation)
		}
		return exitError
	}
	if errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, "Interrupted")
		return exitCancelled
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	return exitError
}

func runScan(args []string) int {
	flags := &di.CLIFlags{}
	fs := flag.NewFlagSet("scan", flag.ContinueOnError)
	fs.StringVar(&flags.Query, "query", "", "Gmail search query (empty scans the whole mailbox)")
	fs.StringVar(&flags.Query, "q", "", "Short form of -query")
	fs.IntVar(&flags.MaxMessages, "max-messages", 0, "Maximum messages to scan (0 uses the configured default)")
	fs.BoolVar(&flags.NoCache, "no-cache", false, "Ignore cached results and scan fresh")
	fs.Float64Var(&flags.MinScore, "min-score", -1, "Minimum score to display (negative uses the uncertain threshold)")
	addCommonFlags(fs, flags)
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}

	container, code := newContainer(flags)
	if code != exitOK {
		return code
	}

	code = exitOK
	err := container.Invoke(func(
		logger *zap.Logger,
		cfg *config.Config,
		mailboxFactory *factory.MailboxFactory,
		cache core.ScanCache,
		cacheEnabled bool,
		scorer *core.Scorer,
	) error {
		defer logger.Sync()
		defer cache.Close()

		ctx, cancel := signalContext()
		defer cancel()

		client, err := mailboxFactory.CreateClient(ctx)
		if err != nil {
			return err
		}

		scanCfg := cfg.GetScan()
		query := flags.Query
		if query == "" {
			query = scanCfg.Query
		}
		maxMessages := flags.MaxMessages
		if maxMessages <= 0 {
			maxMessages = scanCfg.MaxMessages
		}

		service := core.NewScanService(client, cache, scorer, logger, cacheEnabled, scanCfg.SampleSubjects)
		result, scanErr := service.Scan(ctx, core.ScanOptions{
			Query:       query,
			MaxMessages: maxMessages,
			ForceFresh:  flags.NoCache,
			Progress:    progressPrinter(),
		})
		if result == nil {
			return scanErr
		}
		if scanErr != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", scanErr)
			code = exitPartial
		}
		if result.Unreadable > 0 {
			code = exitPartial
		}

		minScore := flags.MinScore
		if minScore < 0 {
			minScore = scorer.UncertainThreshold()
		}
		printScanResult(result, minScore)
		return nil
	})
	if err != nil {
		return reportFatal(err)
	}
	return code
}

func runClean(args []string) int {
	flags := &di.CLIFlags{}
	fs := flag.NewFlagSet("clean", flag.ContinueOnError)
	fs.Float64Var(&flags.MinScore, "min-score", -1, "Minimum score for cleanup candidates (negative uses the configured default)")
	fs.BoolVar(&flags.Execute, "execute", false, "Move messages to trash (default is a dry run)")
	addCommonFlags(fs, flags)
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}

	container, code := newContainer(flags)
	if code != exitOK {
		return code
	}

	code = exitOK
	err := container.Invoke(func(
		logger *zap.Logger,
		cfg *config.Config,
		mailboxFactory *factory.MailboxFactory,
		cache core.ScanCache,
		cacheEnabled bool,
		scorer *core.Scorer,
		auditLog core.AuditLog,
		guard *whitelist.Checker,
	) error {
		defer logger.Sync()
		defer cache.Close()

		ctx, cancel := signalContext()
		defer cancel()

		// Reuse the latest cached scan when one exists, otherwise scan first.
		needFresh := false
		result, latestErr := cache.Latest(ctx)
		if latestErr != nil {
			if !errors.Is(latestErr, core.ErrCacheMiss) {
				logger.Warn("Ignoring unreadable cached scan", zap.Error(latestErr))
			}
			needFresh = true
		}

		var client *gmail.Client
		if needFresh || flags.Execute {
			var err error
			client, err = mailboxFactory.CreateClient(ctx)
			if err != nil {
				return err
			}
		}

		scanCfg := cfg.GetScan()
		if needFresh {
			fmt.Println("No cached scan found, scanning mailbox first...")
			service := core.NewScanService(client, cache, scorer, logger, cacheEnabled, scanCfg.SampleSubjects)
			var scanErr error
			result, scanErr = service.Scan(ctx, core.ScanOptions{
				Query:       scanCfg.Query,
				MaxMessages: scanCfg.MaxMessages,
				Progress:    progressPrinter(),
			})
			if result == nil {
				return scanErr
			}
			if scanErr != nil {
				fmt.Fprintf(os.Stderr, "Warning: %v\n", scanErr)
			}
		} else {
			fmt.Printf("Using cached scan from %s (%d messages, %d senders)\n",
				result.ScannedAt.Local().Format(time.RFC1123),
				result.TotalMessages, len(result.Profiles))
		}

		cleanCfg := cfg.GetClean()
		minScore := flags.MinScore
		if minScore < 0 {
			minScore = cleanCfg.MinScore
		}

		var mailbox core.Mailbox
		if flags.Execute {
			mailbox = client
		}
		workflow := core.NewCleanupWorkflow(mailbox, auditLog, guard, scorer, logger, core.CleanupOptions{
			MinScore:     minScore,
			ConfirmToken: cleanCfg.ConfirmationToken,
			DryRun:       !flags.Execute,
		})

		candidates, err := workflow.Present(result)
		if err != nil {
			return err
		}
		effective := minScore
		if t := scorer.UncertainThreshold(); t > effective {
			effective = t
		}
		if len(candidates) == 0 {
			fmt.Printf("No senders at or above score %.2f.\n", effective)
			return nil
		}
		printCandidates(candidates, effective)

		stdin := bufio.NewScanner(os.Stdin)
		for {
			fmt.Print("\nSelect senders to trash (e.g. 1,3 or 'all', empty cancels): ")
			input, ok := readLine(stdin)
			if !ok || input == "" {
				workflow.Cancel()
				fmt.Println("Cancelled.")
				code = exitCancelled
				return nil
			}
			if _, err := workflow.Select(input); err != nil {
				if core.IsInvalidSelection(err) {
					fmt.Printf("Invalid selection: %v\n", err)
					continue
				}
				return err
			}
			break
		}

		selected := workflow.Selected()
		fmt.Printf("\nSelected %d senders, %d messages.\n", len(selected), workflow.SelectedMessageCount())

		if !flags.Execute {
			report, err := workflow.Execute(ctx, nil)
			if err != nil {
				return err
			}
			printCleanupReport(report)
			fmt.Println("\nDry run only. Re-run with -execute to move messages to trash.")
			return nil
		}

		if err := workflow.RequestConfirmation(); err != nil {
			return err
		}
		fmt.Printf("\nThis will move %d messages from %d senders to the trash.\n",
			workflow.SelectedMessageCount(), len(selected))
		fmt.Printf("Type %s to confirm: ", cleanCfg.ConfirmationToken)
		token, _ := readLine(stdin)
		if err := workflow.Confirm(token); err != nil {
			if errors.Is(err, core.ErrConfirmationMismatch) {
				fmt.Println("Confirmation did not match, nothing was trashed.")
				code = exitCancelled
				return nil
			}
			return err
		}

		report, execErr := workflow.Execute(ctx, progressPrinter())
		if report != nil {
			printCleanupReport(report)
			if report.TotalFailed > 0 {
				code = exitPartial
			}
		}
		return execErr
	})
	if err != nil {
		return reportFatal(err)
	}
	return code
}

func runExport(args []string) int {
	flags := &di.CLIFlags{}
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	fs.StringVar(&flags.Format, "format", "csv", "Export format (csv or json)")
	fs.StringVar(&flags.Output, "output", "", "Output file (empty writes to stdout)")
	fs.Float64Var(&flags.MinScore, "min-score", -1, "Minimum score to include (negative uses the uncertain threshold)")
	addCommonFlags(fs, flags)
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}

	container, code := newContainer(flags)
	if code != exitOK {
		return code
	}

	err := container.Invoke(func(
		logger *zap.Logger,
		cache core.ScanCache,
		scorer *core.Scorer,
		exporter *export.Exporter,
	) error {
		defer logger.Sync()
		defer cache.Close()

		ctx, cancel := signalContext()
		defer cancel()

		format, err := export.ParseFormat(flags.Format)
		if err != nil {
			return err
		}

		result, err := cache.Latest(ctx)
		if err != nil {
			if errors.Is(err, core.ErrCacheMiss) {
				return fmt.Errorf("no cached scan found: run 'inbox-sweeper scan' first")
			}
			return err
		}

		minScore := flags.MinScore
		if minScore < 0 {
			minScore = scorer.UncertainThreshold()
		}

		if flags.Output == "" {
			return exporter.Write(os.Stdout, result, format, minScore)
		}
		if err := exporter.WriteFile(flags.Output, result, format, minScore); err != nil {
			return err
		}
		fmt.Printf("Exported %d senders to %s\n", len(result.FilterProfiles(minScore)), flags.Output)
		return nil
	})
	if err != nil {
		return reportFatal(err)
	}
	return exitOK
}

func runCache(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: inbox-sweeper cache <info|clear> [flags]")
		return exitError
	}
	sub := args[0]
	if sub != "info" && sub != "clear" {
		fmt.Fprintf(os.Stderr, "Unknown cache command: %s (want info or clear)\n", sub)
		return exitError
	}

	flags := &di.CLIFlags{}
	fs := flag.NewFlagSet("cache "+sub, flag.ContinueOnError)
	addCommonFlags(fs, flags)
	if code, ok := parseFlags(fs, args[1:]); !ok {
		return code
	}

	container, code := newContainer(flags)
	if code != exitOK {
		return code
	}

	err := container.Invoke(func(logger *zap.Logger, cfg *config.Config, cache core.ScanCache) error {
		defer logger.Sync()
		defer cache.Close()

		ctx, cancel := signalContext()
		defer cancel()

		switch sub {
		case "info":
			info, err := cache.Info(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("=== Cache ===\n")
			fmt.Printf("Backend: %s\n", cfg.GetCache().Type)
			fmt.Printf("Cached scans: %d\n", info.Entries)
			if info.SizeBytes > 0 {
				fmt.Printf("Size: %s\n", formatBytes(info.SizeBytes))
			}
			if !info.LastScan.IsZero() {
				fmt.Printf("Last scan: %s\n", info.LastScan.Local().Format(time.RFC1123))
			}
			return nil
		default:
			if err := cache.Clear(ctx); err != nil {
				return err
			}
			fmt.Println("Cache cleared.")
			return nil
		}
	})
	if err != nil {
		return reportFatal(err)
	}
	return exitOK
}

func runHistory(args []string) int {
	flags := &di.CLIFlags{}
	var limit int
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	fs.IntVar(&limit, "limit", 20, "Maximum entries to show, newest first (0 shows all)")
	addCommonFlags(fs, flags)
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}

	container, code := newContainer(flags)
	if code != exitOK {
		return code
	}

	err := container.Invoke(func(logger *zap.Logger, auditLog core.AuditLog) error {
		defer logger.Sync()

		ctx, cancel := signalContext()
		defer cancel()

		entries, err := auditLog.Entries(ctx)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("No trash history recorded.")
			return nil
		}

		totalMessages := 0
		for _, e := range entries {
			totalMessages += e.MessageCount
		}

		fmt.Printf("=== Trash History ===\n")
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "WHEN\tSENDER\tMESSAGES\tQUERY")
		shown := 0
		for i := len(entries) - 1; i >= 0; i-- {
			if limit > 0 && shown >= limit {
				break
			}
			e := entries[i]
			query := e.QueryContext
			if query == "" {
				query = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\n",
				e.Timestamp.Local().Format("2006-01-02 15:04"),
				utils.Truncate(displayName(e.SenderName, e.SenderEmail), 50),
				e.MessageCount,
				utils.Truncate(query, 30))
			shown++
		}
		w.Flush()
		fmt.Printf("\n%d cleanups recorded, %d messages trashed in total.\n", len(entries), totalMessages)
		return nil
	})
	if err != nil {
		return reportFatal(err)
	}
	return exitOK
}

func runAuth(args []string) int {
	flags := &di.CLIFlags{}
	fs := flag.NewFlagSet("auth", flag.ContinueOnError)
	addCommonFlags(fs, flags)
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}

	container, code := newContainer(flags)
	if code != exitOK {
		return code
	}

	err := container.Invoke(func(logger *zap.Logger, mailboxFactory *factory.MailboxFactory) error {
		defer logger.Sync()

		ctx, cancel := signalContext()
		defer cancel()

		client, err := mailboxFactory.CreateClient(ctx)
		if err != nil {
			return err
		}
		email, err := client.Profile(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Authorized as %s\n", email)
		return nil
	})
	if err != nil {
		return reportFatal(err)
	}
	return exitOK
}

// progressPrinter writes stage progress to stderr on a single rewritten line.
func progressPrinter() core.ProgressFunc {
	return func(p core.Progress) {
		fmt.Fprintf(os.Stderr, "\r%s: %d/%d", p.Stage, p.Done, p.Total)
		if p.Total > 0 && p.Done >= p.Total {
			fmt.Fprintln(os.Stderr)
		}
	}
}

func readLine(r *bufio.Scanner) (string, bool) {
	if !r.Scan() {
		return "", false
	}
	return strings.TrimSpace(r.Text()), true
}

func displayName(name, email string) string {
	if name == "" {
		return email
	}
	return fmt.Sprintf("%s <%s>", name, email)
}

func printScanResult(result *core.ScanResult, minScore float64) {
	profiles := result.FilterProfiles(minScore)

	fmt.Printf("\n=== Scan Summary ===\n")
	if result.Query != "" {
		fmt.Printf("Query: %s\n", result.Query)
	}
	fmt.Printf("Scanned at: %s\n", result.ScannedAt.Local().Format(time.RFC1123))
	fmt.Printf("Messages scanned: %d\n", result.TotalMessages)
	if result.Unreadable > 0 {
		fmt.Printf("Unreadable messages: %d\n", result.Unreadable)
	}
	fmt.Printf("Distinct senders: %d\n", len(result.Profiles))

	counts := make(map[core.Classification]int)
	for _, p := range result.Profiles {
		counts[p.Classification]++
	}
	fmt.Printf("Newsletter: %d  Likely: %d  Uncertain: %d  Personal: %d\n",
		counts[core.ClassNewsletter], counts[core.ClassLikelyNewsletter],
		counts[core.ClassUncertain], counts[core.ClassPersonal])

	if len(profiles) == 0 {
		fmt.Printf("\nNo senders at or above score %.2f.\n", minScore)
		return
	}

	fmt.Printf("\n=== Senders (score >= %.2f) ===\n", minScore)
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "#\tSCORE\tCLASS\tMESSAGES\tSENDER\tSAMPLE SUBJECT")
	for i, p := range profiles {
		sample := ""
		if len(p.SampleSubjects) > 0 {
			sample = utils.Truncate(p.SampleSubjects[0], 48)
		}
		fmt.Fprintf(w, "%d\t%.2f\t%s\t%d\t%s\t%s\n",
			i+1, p.Score, p.Classification, p.MessageCount,
			utils.Truncate(displayName(p.Name, p.Email), 50), sample)
	}
	w.Flush()
}

func printCandidates(candidates []*core.SenderProfile, minScore float64) {
	fmt.Printf("\n=== Cleanup Candidates (score >= %.2f) ===\n", minScore)
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "#\tSCORE\tCLASS\tMESSAGES\tSENDER\tSAMPLE SUBJECT")
	for i, p := range candidates {
		sample := ""
		if len(p.SampleSubjects) > 0 {
			sample = utils.Truncate(p.SampleSubjects[0], 48)
		}
		fmt.Fprintf(w, "%d\t%.2f\t%s\t%d\t%s\t%s\n",
			i+1, p.Score, p.Classification, p.MessageCount,
			utils.Truncate(displayName(p.Name, p.Email), 50), sample)
	}
	w.Flush()
}

func printCleanupReport(report *core.CleanupReport) {
	fmt.Printf("\n=== Cleanup Report ===\n")
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SENDER\tREQUESTED\tTRASHED\tFAILED")
	for _, s := range report.Senders {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\n",
			utils.Truncate(displayName(s.Name, s.Email), 50), s.Requested, s.Trashed, s.Failed)
	}
	w.Flush()

	if report.DryRun {
		fmt.Printf("\nWould trash %d messages from %d senders.\n",
			report.TotalRequested, len(report.Senders))
		return
	}
	fmt.Printf("\nTrashed %d of %d messages", report.TotalTrashed, report.TotalRequested)
	if report.TotalFailed > 0 {
		fmt.Printf(" (%d failed)", report.TotalFailed)
	}
	fmt.Println()
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
