package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/civictwin/Main/simulation/internal/logging"
	"github.com/civictwin/Main/simulation/internal/models"
	"github.com/civictwin/Main/simulation/internal/runner"
	"github.com/civictwin/Main/simulation/internal/service"
	"github.com/civictwin/Main/simulation/internal/store"
)

var (
	runConfigPath string
	runRulesPath  string
	runLogLevel   string
	runFlags      = models.DefaultSimulationConfig()
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one simulation and print its time series",
	Long: "run executes a single simulation in-process and writes the job, including its\n" +
		"resolved parameters and metric time series, to stdout as JSON.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := runConfig(cmd)
		if err != nil {
			return err
		}
		resolver, err := newResolver(runRulesPath)
		if err != nil {
			return err
		}
		logger := logging.New(runLogLevel, cmd.ErrOrStderr())
		st := store.NewMemoryStore(store.MemoryConfig{})
		svc := service.New(st, resolver, runner.New(runner.Config{Logger: logger}), service.Options{Logger: logger})

		job, err := svc.Submit(context.Background(), cfg)
		if err != nil {
			return err
		}
		if err := writeJob(cmd.OutOrStdout(), job); err != nil {
			return err
		}
		if job.Status == models.StatusFailed {
			return errors.New(job.Error)
		}
		return nil
	},
}

// runConfig starts from the YAML file, if any, and lets explicitly set
// flags override it.
func runConfig(cmd *cobra.Command) (models.SimulationConfig, error) {
	cfg := models.DefaultSimulationConfig()
	if runConfigPath != "" {
		data, err := os.ReadFile(runConfigPath)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}
	flags := cmd.Flags()
	if flags.Changed("n") {
		cfg.N = runFlags.N
	}
	if flags.Changed("steps") {
		cfg.Steps = runFlags.Steps
	}
	if flags.Changed("strictness") {
		cfg.Strictness = runFlags.Strictness
	}
	if flags.Changed("infra-spending") {
		cfg.InfraSpending = runFlags.InfraSpending
	}
	if flags.Changed("subsidy") {
		cfg.Subsidy = runFlags.Subsidy
	}
	if flags.Changed("training-budget") {
		cfg.TrainingBudget = runFlags.TrainingBudget
	}
	if flags.Changed("job-creation-rate") {
		cfg.JobCreationRate = runFlags.JobCreationRate
	}
	if flags.Changed("description") {
		cfg.Description = runFlags.Description
	}
	if flags.Changed("seed") {
		cfg.Seed = runFlags.Seed
	}
	return cfg, nil
}

func writeJob(w io.Writer, job models.Job) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(job)
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runConfigPath, "config", "", "YAML file with simulation settings")
	f.StringVar(&runRulesPath, "rules", "", "YAML policy rule table (defaults to the built-in rules)")
	f.StringVar(&runLogLevel, "log-level", "warn", "log level: debug, info, warn, error")
	f.IntVar(&runFlags.N, "n", runFlags.N, "population size")
	f.IntVar(&runFlags.Steps, "steps", runFlags.Steps, "number of ticks")
	f.Float64Var(&runFlags.Strictness, "strictness", runFlags.Strictness, "enforcement level in [0,1]")
	f.Float64Var(&runFlags.InfraSpending, "infra-spending", runFlags.InfraSpending, "infrastructure spending")
	f.Float64Var(&runFlags.Subsidy, "subsidy", runFlags.Subsidy, "per-tick subsidy paid to the unemployed")
	f.Float64Var(&runFlags.TrainingBudget, "training-budget", runFlags.TrainingBudget, "training budget")
	f.Float64Var(&runFlags.JobCreationRate, "job-creation-rate", runFlags.JobCreationRate, "base hiring rate")
	f.StringVar(&runFlags.Description, "description", "", "free-text policy description")
	f.Int64Var(&runFlags.Seed, "seed", 0, "random seed (0 picks one)")
}
