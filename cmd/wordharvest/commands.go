package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/cognicore/wordharvest/internal/httpapi"
	"github.com/cognicore/wordharvest/pkg/wordharvest"
	"github.com/cognicore/wordharvest/pkg/wordharvest/internalerr"
	"github.com/cognicore/wordharvest/pkg/wordharvest/maintenance"
	"github.com/cognicore/wordharvest/pkg/wordharvest/report"
)

const (
	formatText = "text"
	formatJSON = "json"
	formatCSV  = "csv"
)

func newScrapeCmd(a *app) *cobra.Command {
	var (
		limit    int
		interval time.Duration
		analyze  bool
		fromFile string
	)

	cmd := &cobra.Command{
		Use:   "scrape <subreddit>...",
		Short: "Fetch the newest posts of one or more subreddits",
		Long:  "Fetch the newest posts of each subreddit and store the ones not seen before. With --interval the scrape repeats until interrupted.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if interval < 0 {
				return fmt.Errorf("interval %s: %w", interval, internalerr.ErrInvalidInput)
			}
			if limit <= 0 {
				limit = a.cfg.DefaultLimit
			}

			ctx := cmd.Context()
			h, err := a.open(ctx, a.fetcher(fromFile))
			if err != nil {
				return err
			}
			defer h.Close()

			round := func() error {
				return scrapeRound(ctx, h, cmd.OutOrStdout(), args, limit, analyze)
			}
			if interval == 0 {
				return round()
			}

			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				if err := round(); err != nil {
					a.logger.Error().Err(err).Msg("scrape round failed")
				}
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
				}
			}
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "l", 0, "Posts to fetch per subreddit (default WH_DEFAULT_LIMIT)")
	cmd.Flags().DurationVar(&interval, "interval", 0, "Repeat every interval until interrupted (e.g. 60m)")
	cmd.Flags().BoolVar(&analyze, "analyze", false, "Run incremental analysis after each round")
	cmd.Flags().StringVar(&fromFile, "from-file", "", "Read items from a JSONL dump instead of Reddit")

	return cmd
}

// scrapeRound scrapes every source once. One failing source does not stop
// the others; their errors are joined.
func scrapeRound(ctx context.Context, h *wordharvest.Harvester, out io.Writer, sources []string, limit int, analyze bool) error {
	var errs []error
	for _, src := range sources {
		res, err := h.Scrape(ctx, src, limit)
		if res.SessionID == "" && err != nil {
			errs = append(errs, fmt.Errorf("scrape %s: %w", src, err))
			continue
		}
		fmt.Fprintf(out, "r/%s: %s, fetched %d, new %d, duplicates %d, malformed %d\n",
			res.Source, res.Status, res.Fetched, res.New, res.Duplicates, res.Malformed)
		if err != nil {
			errs = append(errs, fmt.Errorf("scrape %s: %w", src, err))
		}
	}
	if analyze {
		outcome, err := h.Analyze(ctx, "", false)
		if err != nil {
			errs = append(errs, err)
		} else {
			fmt.Fprintf(out, "analyzed %d new posts\n", outcome.ItemsProcessed)
		}
	}
	return errors.Join(errs...)
}

func newAnalyzeCmd(a *app) *cobra.Command {
	var full bool

	cmd := &cobra.Command{
		Use:   "analyze [subreddit]",
		Short: "Update word statistics from stored posts",
		Long:  "Fold posts stored since the last analysis into the word statistics. Without a subreddit every subreddit and the combined view are analyzed.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			h, err := a.open(ctx, nil)
			if err != nil {
				return err
			}
			defer h.Close()

			outcome, err := h.Analyze(ctx, firstArg(args), full)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: %d posts, %d words, cursor %d\n", outcome.Source, outcome.ItemsProcessed, outcome.WordsTouched, outcome.Cursor)
			for _, sub := range outcome.PerSource {
				if sub.Source == outcome.Source {
					continue
				}
				fmt.Fprintf(out, "  r/%s: %d posts, %d words\n", sub.Source, sub.ItemsProcessed, sub.WordsTouched)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&full, "full", false, "Discard existing statistics and rebuild from every stored post")

	return cmd
}

func newTopCmd(a *app) *cobra.Command {
	var (
		n      int
		format string
	)

	cmd := &cobra.Command{
		Use:   "top [subreddit]",
		Short: "Show the most frequent words",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			h, err := a.open(ctx, nil)
			if err != nil {
				return err
			}
			defer h.Close()

			ranking, err := h.Top(ctx, n, firstArg(args))
			if err != nil {
				return err
			}
			return writeRanking(cmd.OutOrStdout(), format, ranking)
		},
	}

	cmd.Flags().IntVarP(&n, "number", "n", 20, "Number of words")
	cmd.Flags().StringVarP(&format, "format", "f", formatText, "Output format: text, json or csv")

	return cmd
}

func newWordCmd(a *app) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "word <word> [subreddit]",
		Short: "Show statistics and contexts of one word",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			h, err := a.open(ctx, nil)
			if err != nil {
				return err
			}
			defer h.Close()

			detail, err := h.Word(ctx, strings.ToLower(args[0]), firstArg(args[1:]))
			if err != nil {
				return err
			}
			if format == formatJSON {
				return report.WriteJSON(cmd.OutOrStdout(), detail)
			}
			return report.WriteDetailText(cmd.OutOrStdout(), detail)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", formatText, "Output format: text or json")

	return cmd
}

func newSearchCmd(a *app) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "search <text> [subreddit]",
		Short: "Find words containing text",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			h, err := a.open(ctx, nil)
			if err != nil {
				return err
			}
			defer h.Close()

			matches, err := h.Search(ctx, args[0], firstArg(args[1:]))
			if err != nil {
				return err
			}
			if format == formatJSON {
				return report.WriteJSON(cmd.OutOrStdout(), matches)
			}
			return report.WriteMatchesText(cmd.OutOrStdout(), matches)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", formatText, "Output format: text or json")

	return cmd
}

func newSourcesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "List scraped subreddits",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			h, err := a.open(ctx, nil)
			if err != nil {
				return err
			}
			defer h.Close()

			sources, err := h.Sources(ctx)
			if err != nil {
				return err
			}
			if len(sources) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No subreddits scraped yet.")
				return nil
			}
			for _, src := range sources {
				fmt.Fprintf(cmd.OutOrStdout(), "r/%s\n", src)
			}
			return nil
		},
	}
}

func newSessionsCmd(a *app) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "sessions [subreddit]",
		Short: "List scraping sessions, newest first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			h, err := a.open(ctx, nil)
			if err != nil {
				return err
			}
			defer h.Close()

			sessions, err := h.Sessions(ctx, firstArg(args), limit)
			if err != nil {
				return err
			}
			return report.WriteSessions(cmd.OutOrStdout(), sessions)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "l", 20, "Maximum sessions to list (0 for all)")

	return cmd
}

func newStatsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show database statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			h, err := a.open(ctx, nil)
			if err != nil {
				return err
			}
			defer h.Close()

			st, err := h.Stats(ctx)
			if err != nil {
				return err
			}
			return report.WriteStats(cmd.OutOrStdout(), st, time.Now())
		},
	}
}

func newCleanCmd(a *app) *cobra.Command {
	var (
		subreddit string
		days      int
		force     bool
	)

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Delete posts and sessions by subreddit and/or age",
		Long:  "Delete posts (and the sessions that produced them) for a subreddit and/or older than a number of days, then rebuild the word statistics.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if subreddit == "" && days == 0 && !force {
				return fmt.Errorf("clean without --subreddit or --days removes everything; pass --force: %w", internalerr.ErrInvalidInput)
			}

			target := "all subreddits"
			if subreddit != "" {
				target = "r/" + subreddit
			}
			if days > 0 {
				target += fmt.Sprintf(" older than %d days", days)
			}
			if !force {
				ok, err := confirm(cmd.InOrStdin(), cmd.OutOrStdout(), "Delete posts and sessions of "+target+"?")
				if err != nil || !ok {
					fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
					return err
				}
			}

			ctx := cmd.Context()
			h, err := a.open(ctx, nil)
			if err != nil {
				return err
			}
			defer h.Close()

			res, err := h.Clean(ctx, maintenance.Request{Source: subreddit, OlderThanDays: days})
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d posts and %d sessions", res.PostsDeleted, res.SessionsDeleted)
			if res.Rebuilt {
				fmt.Fprint(cmd.OutOrStdout(), "; statistics rebuilt")
			}
			fmt.Fprintln(cmd.OutOrStdout())
			return err
		},
	}

	cmd.Flags().StringVarP(&subreddit, "subreddit", "s", "", "Only clean this subreddit")
	cmd.Flags().IntVarP(&days, "days", "d", 0, "Only clean posts older than this many days")
	cmd.Flags().BoolVar(&force, "force", false, "Do not ask for confirmation")

	return cmd
}

func newResetCmd(a *app) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete all stored data",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force {
				ok, err := confirm(cmd.InOrStdin(), cmd.OutOrStdout(), "Delete ALL posts, sessions and statistics?")
				if err != nil || !ok {
					fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
					return err
				}
			}

			ctx := cmd.Context()
			h, err := a.open(ctx, nil)
			if err != nil {
				return err
			}
			defer h.Close()

			if err := h.Reset(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "All data deleted.")
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Do not ask for confirmation")

	return cmd
}

func newExportCmd(a *app) *cobra.Command {
	var (
		n      int
		format string
		output string
	)

	cmd := &cobra.Command{
		Use:   "export [subreddit]",
		Short: "Export the top words as JSON or CSV",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != formatJSON && format != formatCSV {
				return fmt.Errorf("export format %q: %w", format, internalerr.ErrInvalidInput)
			}

			ctx := cmd.Context()
			h, err := a.open(ctx, nil)
			if err != nil {
				return err
			}
			defer h.Close()

			ranking, err := h.Top(ctx, n, firstArg(args))
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("create %s: %w", output, err)
				}
				defer f.Close()
				w = f
			}
			if err := writeRanking(w, format, ranking); err != nil {
				return err
			}
			if output != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d words to %s\n", len(ranking.Rows), output)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&n, "number", "n", 100, "Number of words")
	cmd.Flags().StringVarP(&format, "format", "f", formatJSON, "Output format: json or csv")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write to this file instead of stdout")

	return cmd
}

func newServeCmd(a *app) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			h, err := a.open(ctx, a.fetcher(""))
			if err != nil {
				return err
			}
			defer h.Close()

			if addr == "" {
				addr = a.cfg.HTTPAddr
			}
			srv := httpapi.NewServer(h, a.logger.With().Str("component", "httpapi").Logger(), httpapi.Options{
				Addr:         addr,
				DefaultLimit: a.cfg.DefaultLimit,
			})
			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default WH_HTTP_ADDR)")

	return cmd
}

func writeRanking(w io.Writer, format string, r report.Ranking) error {
	switch format {
	case formatText, "":
		return report.WriteText(w, r)
	case formatJSON:
		return report.WriteJSON(w, r)
	case formatCSV:
		return report.WriteCSV(w, r)
	default:
		return fmt.Errorf("output format %q: %w", format, internalerr.ErrInvalidInput)
	}
}

// confirm asks a yes/no question on out and reads the answer from in.
func confirm(in io.Reader, out io.Writer, question string) (bool, error) {
	fmt.Fprintf(out, "%s [y/N] ", question)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}
