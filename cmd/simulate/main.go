// simulate builds one structure toward a target tier from a fixed volume
// budget and prints the result as JSON. Optionally it audits the final
// tree, scores the canonical scenarios for the same budget and archives
// the run to a SQLite file.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"
	"github.com/warp/compplan/archive"
	"github.com/warp/compplan/audit"
	"github.com/warp/compplan/factory"
	"github.com/warp/compplan/network"
	"github.com/warp/compplan/optimizer"
	"github.com/warp/compplan/plan"
	"github.com/warp/compplan/scenario"
	"github.com/warp/compplan/store/sqlite"
)

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if err == pflag.ErrHelp {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// output is everything the command prints.
type output struct {
	Build     optimizer.Result    `json:"build"`
	Audit     *audit.Report       `json:"audit,omitempty"`
	Scenarios []scenario.Scenario `json:"scenarios,omitempty"`
	Run       *archive.Summary    `json:"run,omitempty"`
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var (
		budgetFlag   string
		target       string
		strategyFlag string
		region       string
		planPath     string
		withAudit    bool
		withScenario bool
		archivePath  string
		label        string
		verbose      bool
	)

	flagSet := pflag.NewFlagSet("simulate", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVar(&budgetFlag, "budget", "10000", "total volume budget")
	flagSet.StringVar(&target, "target", "M3", "target tier")
	flagSet.StringVar(&strategyFlag, "strategy", "balanced", "aggressive, balanced or conservative")
	flagSet.StringVar(&region, "region", "", "root region (default: the plan's default region)")
	flagSet.StringVar(&planPath, "plan", "", "YAML or JSON plan overlay")
	flagSet.BoolVar(&withAudit, "audit", false, "audit the final tree")
	flagSet.BoolVar(&withScenario, "scenarios", false, "score the canonical scenarios for the budget")
	flagSet.StringVar(&archivePath, "archive", "", "archive the run into this SQLite file")
	flagSet.StringVar(&label, "label", "", "label of the archived run")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "log engine progress to stderr")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return fmt.Errorf("unexpected argument: %s", rest[0])
	}

	level := slog.LevelWarn
	if verbose {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	budget, err := decimal.NewFromString(budgetFlag)
	if err != nil {
		return fmt.Errorf("invalid budget %q: %w", budgetFlag, err)
	}
	strategy, err := optimizer.ParseStrategy(strategyFlag)
	if err != nil {
		return err
	}
	cfg := plan.Default()
	if planPath != "" {
		if cfg, err = factory.NewPlanFactory().Load(planPath); err != nil {
			return err
		}
	}

	opts := []network.Option{network.WithLogger(logger)}
	if region != "" {
		opts = append(opts, network.WithRegion(region))
	}
	tree, err := network.NewTree(cfg, budget, opts...)
	if err != nil {
		return err
	}

	var out output
	out.Build, err = optimizer.NewBuilder(logger).Build(ctx, tree, optimizer.Options{
		Target:   plan.Tier(target),
		Strategy: strategy,
	})
	if err != nil {
		return err
	}

	if withAudit {
		report, err := audit.NewAuditor(logger).Audit(tree)
		if err != nil {
			return err
		}
		out.Audit = &report
	}

	if withScenario {
		out.Scenarios, err = scenario.NewAnalyzer(cfg, scenario.WithLogger(logger)).Generate(ctx, budget)
		if err != nil {
			return err
		}
	}

	if archivePath != "" {
		if label == "" {
			label = fmt.Sprintf("%s %s %s", target, strategy, budget)
		}
		sum, err := archiveRun(ctx, archivePath, tree, label)
		if err != nil {
			return err
		}
		out.Run = &sum
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func archiveRun(ctx context.Context, path string, tree *network.Tree, label string) (archive.Summary, error) {
	store, err := sqlite.New(path)
	if err != nil {
		return archive.Summary{}, err
	}
	defer store.Close()

	run, err := archive.FromTree(tree, label)
	if err != nil {
		return archive.Summary{}, err
	}
	if err := store.Save(ctx, run); err != nil {
		return archive.Summary{}, err
	}
	return run.Summary(), nil
}
