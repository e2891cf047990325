// ABOUTME: Admin CLI for the meeting-assistant exchange ledger
// ABOUTME: Looks up failures by correlation id, lists recent exchanges and checks the agent

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/2389/meeting-assistant/internal/a2a"
	"github.com/2389/meeting-assistant/internal/config"
	"github.com/2389/meeting-assistant/internal/store"
)

const banner = `
                _     _                     _           _
  __ _ ___ ___(_)___| |_ __ _ _ __ | |_        __ _  __| |_ __ ___ (_)_ __
 / _' / __/ __| / __| __/ _' | '_ \| __|_____ / _' |/ _' | '_ ' _ \| | '_ \
| (_| \__ \__ \ \__ \ || (_| | | | | ||_____| (_| | (_| | | | | | | | | | |
 \__,_|___/___/_|___/\__\__,_|_| |_|\__|      \__,_|\__,_|_| |_| |_|_|_| |_|
`

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stdout)
		os.Exit(1)
	}

	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "lookup":
		err = cmdLookup(ctx, os.Stdout, args)
	case "recent":
		err = cmdRecent(ctx, os.Stdout, args)
	case "stats":
		err = cmdStats(ctx, os.Stdout, args)
	case "health":
		err = cmdHealth(ctx, os.Stdout, args)
	case "help", "-h", "--help":
		printUsage(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage(os.Stderr)
		os.Exit(1)
	}

	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage(w io.Writer) {
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	cyan.Fprint(w, banner)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: assistant-admin <command> [flags]")
	fmt.Fprintln(w)
	yellow.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  lookup <correlation-id>   Show the exchange behind an error id users report")
	fmt.Fprintln(w, "  recent                    List recent exchanges (--owner, --outcome, --limit)")
	fmt.Fprintln(w, "  stats                     Count outcomes (--since, default 24h)")
	fmt.Fprintln(w, "  health                    Check the configured agent endpoint")
	fmt.Fprintln(w)
	yellow.Fprintln(w, "Common flags:")
	fmt.Fprintln(w, "  -c, --config PATH         Config file (default: $ASSISTANT_CONFIG or XDG path)")
	fmt.Fprintln(w, "      --db PATH             Ledger database, overrides database.path")
	fmt.Fprintln(w)
	yellow.Fprintln(w, "Examples:")
	fmt.Fprintln(w, "  assistant-admin lookup 3f9a1c2e")
	fmt.Fprintln(w, "  assistant-admin recent --owner 'matrix:@alice:example.org' --limit 5")
	fmt.Fprintln(w, "  assistant-admin stats --since 168h")
	fmt.Fprintln(w)
}

// commonFlags are accepted by every command.
type commonFlags struct {
	configPath string
	dbPath     string
}

func newFlagSet(name string, common *commonFlags) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.StringVarP(&common.configPath, "config", "c", "", "config file")
	fs.StringVar(&common.dbPath, "db", "", "ledger database path")
	return fs
}

func defaultConfigPath() string {
	if envPath := os.Getenv("ASSISTANT_CONFIG"); envPath != "" {
		return envPath
	}
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "meeting-assistant", "config.yaml")
}

func (c commonFlags) loadConfig() (*config.Config, error) {
	path := c.configPath
	if path == "" {
		path = defaultConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config from %s: %w", path, err)
	}
	return cfg, nil
}

// openStore opens the ledger named by --db, or by the config file.
func (c commonFlags) openStore() (*store.SQLiteStore, error) {
	path := c.dbPath
	if path == "" {
		cfg, err := c.loadConfig()
		if err != nil {
			return nil, err
		}
		path = cfg.Database.Path
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("ledger %s: %w", path, err)
	}
	s, err := store.NewSQLiteStore(path)
	if err != nil {
		return nil, fmt.Errorf("opening ledger: %w", err)
	}
	return s, nil
}

func cmdLookup(ctx context.Context, w io.Writer, args []string) error {
	var common commonFlags
	fs := newFlagSet("lookup", &common)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: assistant-admin lookup <correlation-id>")
	}

	s, err := common.openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	return lookup(ctx, w, s, fs.Arg(0))
}

func lookup(ctx context.Context, w io.Writer, s store.Store, correlationID string) error {
	e, err := s.GetExchangeByCorrelationID(ctx, strings.TrimSpace(correlationID))
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("no exchange with correlation id %q", correlationID)
	}
	if err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	fmt.Fprintln(w)
	cyan.Fprintln(w, "  Exchange")
	cyan.Fprintln(w, "  --------")
	fmt.Fprintf(w, "  ID:          %s\n", e.ID)
	fmt.Fprintf(w, "  Correlation: %s\n", e.CorrelationID)
	fmt.Fprintf(w, "  Owner:       %s\n", e.Owner)
	fmt.Fprintf(w, "  Chat:        %s\n", e.ChatID)
	fmt.Fprintf(w, "  Trigger:     %s\n", e.Trigger)
	fmt.Fprintf(w, "  Outcome:     %s\n", outcomeColor(e.Outcome).Sprint(e.Outcome))
	fmt.Fprintf(w, "  Attempts:    %d\n", e.Attempts)
	fmt.Fprintf(w, "  Started:     %s\n", e.StartedAt.Local().Format(time.DateTime))
	fmt.Fprintf(w, "  Duration:    %s\n", e.Duration().Round(time.Millisecond))
	fmt.Fprintln(w)
	cyan.Fprintln(w, "  Query")
	fmt.Fprintln(w, indent(e.Query))
	fmt.Fprintln(w)
	cyan.Fprintln(w, "  Reply")
	fmt.Fprintln(w, indent(e.Reply))
	fmt.Fprintln(w)
	return nil
}

func cmdRecent(ctx context.Context, w io.Writer, args []string) error {
	var common commonFlags
	var filter store.ExchangeFilter
	var outcome string

	fs := newFlagSet("recent", &common)
	fs.StringVar(&filter.Owner, "owner", "", "only this owner (transport:user)")
	fs.StringVar(&outcome, "outcome", "", "only this outcome (delivered, failed, cancelled, undelivered)")
	fs.IntVarP(&filter.Limit, "limit", "n", 20, "maximum rows")
	if err := fs.Parse(args); err != nil {
		return err
	}
	filter.Outcome = store.Outcome(outcome)

	s, err := common.openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	return recent(ctx, w, s, filter)
}

func recent(ctx context.Context, w io.Writer, s store.Store, filter store.ExchangeFilter) error {
	exchanges, err := s.ListExchanges(ctx, filter)
	if err != nil {
		return fmt.Errorf("listing exchanges: %w", err)
	}
	if len(exchanges) == 0 {
		fmt.Fprintln(w, "No exchanges found.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FINISHED\tOWNER\tTRIGGER\tOUTCOME\tID\tQUERY")
	for _, e := range exchanges {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.FinishedAt.Local().Format(time.DateTime),
			e.Owner,
			e.Trigger,
			e.Outcome,
			orDash(e.CorrelationID),
			summarize(e.Query, 40),
		)
	}
	return tw.Flush()
}

func cmdStats(ctx context.Context, w io.Writer, args []string) error {
	var common commonFlags
	fs := newFlagSet("stats", &common)
	since := fs.Duration("since", 24*time.Hour, "window to count")
	if err := fs.Parse(args); err != nil {
		return err
	}

	s, err := common.openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	return stats(ctx, w, s, *since, time.Now())
}

func stats(ctx context.Context, w io.Writer, s store.Store, window time.Duration, now time.Time) error {
	counts, err := s.CountOutcomes(ctx, now.Add(-window))
	if err != nil {
		return fmt.Errorf("counting outcomes: %w", err)
	}

	fmt.Fprintf(w, "Exchanges in the last %s: %d\n", window, counts.Total())
	for _, o := range []store.Outcome{store.OutcomeDelivered, store.OutcomeFailed, store.OutcomeCancelled, store.OutcomeUndelivered} {
		fmt.Fprintf(w, "  %-12s %d\n", o, counts[o])
	}
	return nil
}

func cmdHealth(ctx context.Context, w io.Writer, args []string) error {
	var common commonFlags
	fs := newFlagSet("health", &common)
	url := fs.String("url", "", "agent URL, overrides agent.url")
	if err := fs.Parse(args); err != nil {
		return err
	}

	endpoint := *url
	if endpoint == "" {
		cfg, err := common.loadConfig()
		if err != nil {
			return err
		}
		endpoint = cfg.Agent.URL
	}
	return health(ctx, w, endpoint)
}

func health(ctx context.Context, w io.Writer, endpoint string) error {
	client, err := a2a.NewClient(a2a.Config{Endpoint: endpoint})
	if err != nil {
		return err
	}
	defer client.Close()

	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)

	fmt.Fprintf(w, "  Agent: %s ", client.Endpoint())
	if client.HealthCheck(ctx) {
		green.Fprintln(w, "OK")
		return nil
	}
	red.Fprintln(w, "UNHEALTHY")
	return errors.New("agent health check failed")
}

func outcomeColor(o store.Outcome) *color.Color {
	switch o {
	case store.OutcomeDelivered:
		return color.New(color.FgGreen)
	case store.OutcomeCancelled:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgRed)
	}
}

func indent(s string) string {
	if s == "" {
		return "    (empty)"
	}
	return "    " + strings.ReplaceAll(s, "\n", "\n    ")
}

// summarize flattens s to one line of at most n runes.
func summarize(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-1]) + "…"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
