// galacticctl is the operator's CLI: seed the exchange, force a price tick,
// preview ticker symbols, and print the leaderboard without going through
// the chat platform.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"galactic/internal/config"
	"galactic/internal/db"
	"galactic/internal/ledger"
	"galactic/internal/market"
	"galactic/internal/names"
	"galactic/internal/ticker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := &cobra.Command{
		Use:           "galacticctl",
		Short:         "Operate the galactic stock game from the command line",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(tickCmd(), seedCmd(), tickersCmd(), leaderboardCmd())

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// openStore connects to Postgres using the shared env config and ensures the
// schema exists. Callers own the returned store's lifetime.
func openStore(ctx context.Context) (*ledger.Postgres, error) {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	store := ledger.NewPostgres(pool, logger)
	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

func newEngine(store ledger.Store) *market.Engine {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	return market.NewEngine(store, market.NewRandomWalk(nil), logger, market.Options{})
}

func tickCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tick",
		Short: "Run one price-update cycle against the ledger",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			engine := newEngine(store)
			if err := engine.Initialize(ctx, nil, nil); err != nil {
				return err
			}
			if err := engine.Tick(ctx); err != nil {
				return err
			}
			for _, q := range engine.Stocks() {
				fmt.Printf("%-6s %10.2f\n", q.Symbol, q.Price)
			}
			return nil
		},
	}
}

func seedCmd() *cobra.Command {
	var namesFile string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "List every company from a names file on the exchange",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if namesFile == "" {
				cfg, err := config.LoadFromEnv()
				if err != nil {
					return err
				}
				namesFile = cfg.NamesFile
			}
			companies, err := names.Load(namesFile)
			if err != nil {
				return err
			}

			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			engine := newEngine(store)
			if err := engine.Initialize(ctx, nil, companies); err != nil {
				return err
			}
			fmt.Printf("seeded %d companies from %s\n", len(companies), namesFile)
			return nil
		},
	}
	cmd.Flags().StringVar(&namesFile, "names", "", "path to the company names file (defaults to GALACTIC_NAMES_FILE)")
	return cmd
}

func tickersCmd() *cobra.Command {
	var maxLen int
	cmd := &cobra.Command{
		Use:   "tickers <names-file>",
		Short: "Preview the ticker symbols a names file would produce",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			companies, err := names.Load(args[0])
			if err != nil {
				return err
			}
			symbols := ticker.Generate(companies, maxLen)
			for _, name := range companies {
				fmt.Printf("%s,%s\n", symbols[name], name)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&maxLen, "max-len", ticker.DefaultMaxLen, "maximum symbol length")
	return cmd
}

func leaderboardCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "leaderboard",
		Short: "Print the top players by balance",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			rows, err := store.Leaderboard(ctx, limit)
			if err != nil {
				return err
			}
			if len(rows) == 0 {
				fmt.Println("no players yet")
				return nil
			}

			gain := color.New(color.FgGreen)
			loss := color.New(color.FgRed)
			for _, row := range rows {
				ret := gain
				if row.Return24h < 0 {
					ret = loss
				}
				fmt.Printf("%2d. %-24s %14.2f %s\n",
					row.Rank, row.Username, row.Balance, ret.Sprintf("%+.2f%%", row.Return24h))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "number of rows to print")
	return cmd
}
