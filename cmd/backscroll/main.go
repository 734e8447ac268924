package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/backscroll/backscroll/internal/config"
	"github.com/backscroll/backscroll/internal/daemon"
	"github.com/backscroll/backscroll/internal/embed"
	"github.com/backscroll/backscroll/internal/lock"
	"github.com/backscroll/backscroll/internal/ratelimit"
	"github.com/backscroll/backscroll/internal/search"
	"github.com/backscroll/backscroll/internal/slackapi"
	"github.com/backscroll/backscroll/internal/status"
	"github.com/backscroll/backscroll/internal/store"
	intsync "github.com/backscroll/backscroll/internal/sync"
	"github.com/backscroll/backscroll/internal/workspace"
	"go.uber.org/zap"
)

func main() {
	workspaceFlag := flag.String("workspace", "", "workspace name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	name := workspace.Resolve(*workspaceFlag)
	if err := workspace.ValidateName(name); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	config.LoadEnv()
	cfg, err := config.Load(workspace.ConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	switch args[0] {
	case "sync":
		cmdSync(name, cfg, args[1:], *jsonFlag)
	case "status":
		cmdStatus(name, args[1:], *jsonFlag)
	case "search":
		cmdSearch(name, cfg, args[1:], *jsonFlag)
	case "channels":
		cmdChannels(name, *jsonFlag)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: backscroll [--workspace <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  sync [--channel <id>]      Run one sync cycle")
	fmt.Fprintln(os.Stderr, "  status [--hours <n>]       Show prioritized attention items")
	fmt.Fprintln(os.Stderr, "  search <query> [--limit n] Search mirrored messages")
	fmt.Fprintln(os.Stderr, "  channels                   List mirrored channels")
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func openStore(name string) *store.DB {
	db, err := store.Open(workspace.MirrorDBPath(name))
	if err != nil {
		fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		_ = db.Close()
		fatal(err)
	}
	return db
}

func printJSON(v any) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fatal(err)
	}
	fmt.Println(string(out))
}

func cmdSync(name string, cfg *config.Config, args []string, asJSON bool) {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	channel := fs.String("channel", "", "sync only this channel ID")
	_ = fs.Parse(args)

	if err := workspace.EnsureDir(name); err != nil {
		fatal(err)
	}
	lk, err := lock.Acquire(workspace.Dir(name))
	if err != nil {
		fatal(err)
	}
	defer func() { _ = lk.Release() }()

	db := openStore(name)
	defer func() { _ = db.Close() }()

	token := cfg.Token()
	if token == "" {
		fatal(fmt.Errorf("no Slack token: set SLACK_TOKEN or slack_token in %s", workspace.ConfigPath()))
	}
	limiter := ratelimit.New(ratelimit.Config{
		HistoryPerMinute:  cfg.RateLimit.HistoryPerMinute,
		HistoryBurst:      cfg.RateLimit.HistoryBurst,
		MetadataPerMinute: cfg.RateLimit.MetadataPerMinute,
		MetadataBurst:     cfg.RateLimit.MetadataBurst,
		MaxWait:           time.Duration(cfg.RateLimit.AcquireTimeoutSeconds) * time.Second,
	})
	client := slackapi.New(token, limiter, zap.NewNop(), slackapi.Options{PageSize: cfg.Sync.PageSize})

	ctx := context.Background()
	id, err := client.Authenticate(ctx)
	if err != nil {
		fatal(err)
	}
	if err := daemon.PersistIdentity(db, id); err != nil {
		fatal(err)
	}

	scheduler := intsync.NewScheduler(db, client, client, nil, zap.NewNop(), daemon.SchedulerOptions(cfg))
	summary, err := scheduler.RunOnce(ctx, *channel)
	if err != nil {
		fatal(err)
	}

	if asJSON {
		printJSON(summary)
		return
	}
	fmt.Printf("run %s: %d synced, %d skipped, %d failed, %d partial\n",
		summary.RunID, summary.Synced, summary.Skipped, summary.Failed, summary.Partial)
	fmt.Printf("%d pages, %d records in %s\n", summary.Pages, summary.Records, summary.Duration.Round(time.Millisecond))
	for _, res := range summary.Channels {
		if res.Outcome == intsync.OutcomeFailed {
			fmt.Printf("  %s: failed: %s\n", res.ChannelID, res.Err)
		}
	}
	if summary.Failed > 0 {
		os.Exit(1)
	}
}

func cmdStatus(name string, args []string, asJSON bool) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	hours := fs.Int("hours", 24, "look-back window in hours")
	_ = fs.Parse(args)

	db := openStore(name)
	defer func() { _ = db.Close() }()

	agg := status.NewAggregator(db, zap.NewNop())
	rep, err := agg.Report(time.Now().Add(-time.Duration(*hours) * time.Hour))
	if err != nil {
		fatal(err)
	}

	if asJSON {
		printJSON(rep)
		return
	}
	fmt.Printf("since %s: %d mentions, %d pending DMs, %d active threads\n",
		rep.Since.Format(time.RFC3339), rep.Mentions, rep.PendingDMs, rep.ActiveThreads)
	for _, item := range rep.Items {
		fmt.Printf("[%s] %s - %s: %s\n", item.Priority, item.Channel, item.Sender, firstLine(item.Text))
		fmt.Printf("         %s\n", item.Permalink)
	}
}

func cmdSearch(name string, cfg *config.Config, args []string, asJSON bool) {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	limit := fs.Int("limit", 10, "maximum results")
	_ = fs.Parse(args)
	if fs.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: backscroll search <query> [--limit n]")
		os.Exit(1)
	}
	query := strings.Join(fs.Args(), " ")

	db := openStore(name)
	defer func() { _ = db.Close() }()

	embedder, err := embed.New(cfg.Embedding)
	if err != nil {
		fatal(err)
	}
	s := search.New(db, embedder, zap.NewNop())
	results, err := s.Search(context.Background(), query, *limit)
	if err != nil {
		fatal(err)
	}

	if asJSON {
		printJSON(results)
		return
	}
	if len(results) == 0 {
		fmt.Println("no matches")
		return
	}
	for _, r := range results {
		fmt.Printf("%.4f [%s] %s - %s: %s\n", r.Score, r.Match, r.Channel, r.Sender, firstLine(r.Message.Text))
		fmt.Printf("       %s\n", r.Permalink)
	}
}

func cmdChannels(name string, asJSON bool) {
	db := openStore(name)
	defer func() { _ = db.Close() }()

	channels, err := db.ListChannels()
	if err != nil {
		fatal(err)
	}

	type row struct {
		ID       string
		Name     string
		Kind     string
		Archived bool
		Messages int64
	}
	rows := make([]row, 0, len(channels))
	for _, ch := range channels {
		display, err := db.ChannelDisplayName(ch.ID)
		if err != nil {
			fatal(err)
		}
		count, err := db.ChannelMessageCount(ch.ID)
		if err != nil {
			fatal(err)
		}
		rows = append(rows, row{ID: ch.ID, Name: display, Kind: ch.Kind, Archived: ch.IsArchived, Messages: count})
	}

	if asJSON {
		printJSON(rows)
		return
	}
	for _, r := range rows {
		archived := ""
		if r.Archived {
			archived = " (archived)"
		}
		fmt.Printf("%-12s %-8s %6d  %s%s\n", r.ID, r.Kind, r.Messages, r.Name, archived)
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + "..."
	}
	return s
}
