package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"agentflow/internal/cache"
	"agentflow/internal/config"
	"agentflow/internal/llm"
	"agentflow/internal/metrics"
	"agentflow/internal/pipeline"
	"agentflow/internal/scheduler"
	"agentflow/internal/state"
	"agentflow/pkg/models"
)

var (
	runRequestFile string
	runOperations  []string
	runTargets     []string
	runNoHistory   bool
	runMetricsAddr string
)

var runCmd = &cobra.Command{
	Use:   "run [input]",
	Short: "Run a pipeline over the given input",
	Long: `Run the four-stage pipeline over an input.

The input can be given inline as an argument, or as a YAML request file
via --request:

  id: nightly-deploy
  input: "deploy the payments service to staging"
  operations: [deploy]
  targets: [payments]
  validation_steps: [syntax, consistency, safety, completeness]

Stage results are printed as they complete and the run is recorded in
the history database.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := buildRequest(args)
		if err != nil {
			return err
		}
		return runPipeline(cmd.Context(), req)
	},
}

func init() {
	runCmd.Flags().StringVarP(&runRequestFile, "request", "r", "", "YAML request file")
	runCmd.Flags().StringSliceVar(&runOperations, "op", nil, "Operation the run intends to perform (repeatable)")
	runCmd.Flags().StringSliceVar(&runTargets, "target", nil, "Target the operations act on (repeatable)")
	runCmd.Flags().BoolVar(&runNoHistory, "no-history", false, "Skip recording the run in the history database")
	runCmd.Flags().StringVar(&runMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address for the duration of the run")
}

func buildRequest(args []string) (pipeline.Request, error) {
	var req pipeline.Request

	if runRequestFile != "" {
		raw, err := os.ReadFile(runRequestFile)
		if err != nil {
			return req, fmt.Errorf("read request file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &req); err != nil {
			return req, fmt.Errorf("parse request file: %w", err)
		}
	}

	if len(args) == 1 {
		req.Input = args[0]
	}
	if len(runOperations) > 0 {
		req.Operations = runOperations
	}
	if len(runTargets) > 0 {
		req.Targets = runTargets
	}

	if req.Input == "" {
		return req, fmt.Errorf("no input: pass it as an argument or via --request")
	}
	return req, nil
}

func runPipeline(ctx context.Context, req pipeline.Request) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg)

	client, err := llm.NewClient(llm.Config{
		Model:         cfg.Anthropic.Model,
		APIKey:        cfg.Anthropic.APIKey,
		UseAWSBedrock: cfg.Anthropic.UseAWSBedrock,
		AWSRegion:     cfg.Anthropic.AWSRegion,
		AWSProfile:    cfg.Anthropic.AWSProfile,
	})
	if err != nil {
		return err
	}

	registry := scheduler.NewRegistry()
	llm.RegisterAll(registry, client)

	decisions := cache.NewDecisionCache(cfg.Cache.MaxSize, cfg.Cache.TTL)
	semantic := cache.NewSemanticCache(cfg.Cache.MaxSize, cfg.Cache.TTL, cfg.Cache.SimilarityThreshold)

	typeLimits := make(map[models.TaskType]int64, len(cfg.Scheduler.TypeLimits))
	for name, limit := range cfg.Scheduler.TypeLimits {
		typeLimits[models.TaskType(name)] = limit
	}

	sched := scheduler.New(registry, scheduler.Options{
		DefaultTimeout:       cfg.Scheduler.DefaultTimeout,
		MaxConcurrentPerType: cfg.Scheduler.MaxConcurrentPerType,
		TypeLimits:           typeLimits,
		Decisions:            decisions,
		Logger:               log,
	})

	agg := metrics.NewAggregator()
	coord := pipeline.New(sched, decisions, semantic, agg, log)

	janitor := cache.NewJanitor(log, decisions, semantic)
	if err := janitor.Start(cfg.Cache.PurgeInterval); err != nil {
		return err
	}
	defer janitor.Stop()

	if runMetricsAddr != "" {
		reg := prometheus.NewRegistry()
		if err := reg.Register(metrics.NewCollector(agg)); err != nil {
			return err
		}
		srv := &http.Server{Addr: runMetricsAddr, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("metrics server failed")
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Info().Str("addr", runMetricsAddr).Msg("serving metrics")
	}

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	result, err := coord.Run(ctx, req)
	if err != nil {
		return err
	}

	printResult(result)
	printUsage(client.Usage())

	if !runNoHistory {
		if err := recordRun(cfg, req, result); err != nil {
			log.Warn().Err(err).Msg("failed to record run history")
		}
	}

	if !result.Success {
		return fmt.Errorf("pipeline run %s failed", result.ID)
	}
	return nil
}

func recordRun(cfg *config.Config, req pipeline.Request, result *models.PipelineResult) error {
	path := cfg.History.Path
	if path == "" {
		path = state.DefaultPath()
	}
	history, err := state.Open(path)
	if err != nil {
		return err
	}
	defer history.Close()

	return history.Record(state.Run{
		ID:        result.ID,
		Input:     req.Input,
		Success:   result.Success,
		Stages:    result.Stages,
		Duration:  result.Duration,
		CreatedAt: result.StartedAt,
	})
}

func printResult(result *models.PipelineResult) {
	bold := color.New(color.Bold)
	pass := color.New(color.FgGreen)
	fail := color.New(color.FgRed)
	dim := color.New(color.Faint)

	bold.Printf("run %s\n", result.ID)
	for _, stage := range result.Stages {
		mark := pass.Sprint("PASS")
		if !stage.Success {
			mark = fail.Sprint("FAIL")
		}
		note := ""
		if stage.CacheHit {
			note = dim.Sprint(" (cached)")
		}
		fmt.Printf("  %-12s %s  %s%s\n", stage.Stage, mark, stage.Duration.Round(time.Millisecond), note)
		if stage.Error != "" {
			fail.Printf("    %s\n", stage.Error)
		}
		for _, step := range stage.Steps {
			stepMark := pass.Sprint("pass")
			if !step.Success {
				stepMark = fail.Sprint("fail")
			}
			fmt.Printf("    %-10s %s\n", step.Name, stepMark)
		}
	}

	if result.Success {
		pass.Printf("completed in %s\n", result.Duration.Round(time.Millisecond))
	} else {
		fail.Printf("failed after %s\n", result.Duration.Round(time.Millisecond))
	}
}

func printUsage(usage *llm.Usage) {
	in, out := usage.Total()
	if usage.Calls() == 0 {
		return
	}
	color.New(color.Faint).Printf("%d API calls, %d input tokens, %d output tokens\n", usage.Calls(), in, out)
}
