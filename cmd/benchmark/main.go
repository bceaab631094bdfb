// Command benchmark times grounded detection over a set of scenarios and saves the results.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.viam.com/rdk/logging"

	"github.com/mcvella/grounding-dino/benchmark"
	"github.com/mcvella/grounding-dino/inference"
	"github.com/mcvella/grounding-dino/inference/detectors"
	"github.com/mcvella/grounding-dino/inference/providers"
	"github.com/mcvella/grounding-dino/models"
	"github.com/mcvella/grounding-dino/models/model"
)

type options struct {
	modelID   string
	precision string
	device    string
	images    string
	output    string
	scenarios string
	queries   []string
	set       string
	timeout   time.Duration
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := options{}
	cmd := &cobra.Command{
		Use:   "benchmark",
		Short: "Benchmark grounded detection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			ctx, cancel := context.WithTimeout(ctx, opts.timeout)
			defer cancel()
			return run(ctx, opts, logging.NewLogger("benchmark"))
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.modelID, "model-id", models.DefaultModelID, "hub model id or local model directory")
	flags.StringVar(&opts.precision, "precision", "", "graph precision")
	flags.StringVar(&opts.device, "device", "", "execution device (auto, cpu, cuda, coreml, openvino)")
	flags.StringVar(&opts.images, "images", "", "test image file or directory")
	flags.StringVar(&opts.output, "output", "./benchmark_results", "output directory for results")
	flags.StringVar(&opts.scenarios, "scenarios", "", "scenario set JSON file; overrides --set")
	flags.StringSliceVar(&opts.queries, "query", []string{"a person."}, "queries to benchmark")
	flags.StringVar(&opts.set, "set", "quick", "predefined scenarios: quick, resolutions or query-length")
	flags.DurationVar(&opts.timeout, "timeout", 30*time.Minute, "overall timeout")
	_ = cmd.MarkFlagRequired("images")

	return cmd
}

func scenarioSet(opts options) (*benchmark.ScenarioSet, error) {
	if opts.scenarios != "" {
		return benchmark.LoadScenarioSet(opts.scenarios)
	}
	switch opts.set {
	case "quick":
		return benchmark.QuickScenarios(opts.queries), nil
	case "resolutions":
		return benchmark.ResolutionScenarios(opts.queries[0]), nil
	case "query-length":
		objects := make([]string, 0, len(opts.queries))
		for _, q := range opts.queries {
			objects = append(objects, strings.TrimSuffix(strings.TrimSpace(q), "."))
		}
		return benchmark.QueryLengthScenarios(objects, benchmark.CommonResolutions[0]), nil
	default:
		return nil, fmt.Errorf("unknown scenario set %q", opts.set)
	}
}

func run(ctx context.Context, opts options, logger logging.Logger) error {
	if len(opts.queries) == 0 {
		return fmt.Errorf("at least one --query is required")
	}
	set, err := scenarioSet(opts)
	if err != nil {
		return err
	}
	backend, err := providers.ParseBackend(opts.device)
	if err != nil {
		return err
	}

	engine, err := inference.Load(ctx, inference.LoadArgs{
		Source:   models.Source{ModelID: opts.modelID, Precision: model.Precision(opts.precision)},
		Backend:  backend,
		Detector: detectors.DefaultConfig(),
	}, logger)
	if err != nil {
		return err
	}
	defer engine.Close()

	suite := benchmark.NewSuite(benchmark.NewSuiteArgs{Engine: engine, OutputDir: opts.output, Logger: logger})
	if err := suite.LoadFrames(opts.images); err != nil {
		return err
	}
	for _, s := range set.Scenarios {
		suite.AddScenario(s)
	}

	logger.Infow("running scenarios", "set", set.Name, "count", len(set.Scenarios))
	if err := suite.RunAll(ctx); err != nil {
		return err
	}
	path, err := suite.SaveResults()
	if err != nil {
		return err
	}
	logger.Infow("results saved", "path", path)
	return nil
}
