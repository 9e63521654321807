package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	elasticerrors "github.com/Fly365/elastic-job/internal/errors"
	"github.com/Fly365/elastic-job/internal/jobconfig"
	"github.com/Fly365/elastic-job/internal/lifecycle"
	"github.com/Fly365/elastic-job/internal/producer"
	"github.com/Fly365/elastic-job/internal/scheduling"
	"github.com/Fly365/elastic-job/internal/store/boltstore"
)

var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Manage job definitions in the coordination store",
}

func init() {
	jobCmd.AddCommand(jobRegisterCmd)
	jobCmd.AddCommand(jobUpdateCmd)
	jobCmd.AddCommand(jobDeregisterCmd)
	jobCmd.AddCommand(jobListCmd)

	jobRegisterCmd.Flags().String("file", "", "Path to a YAML job definition")
	jobRegisterCmd.MarkFlagRequired("file")

	jobUpdateCmd.Flags().String("file", "", "Path to a YAML job definition")
	jobUpdateCmd.MarkFlagRequired("file")
}

// openManager opens the coordination store and wires just enough of the
// Producer Manager to run one admin operation. The cron trigger and
// scheduler engine are not started here; this is a one-shot CLI command,
// not the long-running process (see runCmd).
func openManager(cmd *cobra.Command) (*producer.Manager, *boltstore.DB, error) {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("create data dir: %w", err)
	}
	db, err := boltstore.Open(dataDir)
	if err != nil {
		return nil, nil, fmt.Errorf("open coordination store: %w", err)
	}

	driver := scheduling.LoggingDriver{}
	lc := lifecycle.New(db.RunningService(), driver)
	// No broker: one-shot admin commands exit before anything could
	// subscribe, so job lifecycle events have nowhere to go.
	mgr := producer.New(db.ConfigService(), db.ReadyService(), db.RunningService(), lc, nil)
	return mgr, db, nil
}

func loadJobConfigFile(path string) (jobconfig.JobConfig, error) {
	var cfg jobconfig.JobConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

var jobRegisterCmd = &cobra.Command{
	Use:   "register",
	Short: "Register a new job definition",
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		cfg, err := loadJobConfigFile(file)
		if err != nil {
			return err
		}

		mgr, db, err := openManager(cmd)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := mgr.Register(cfg); err != nil {
			if elasticerrors.Is(err, elasticerrors.ErrAlreadyExists) {
				return fmt.Errorf("job %q already registered", cfg.JobName)
			}
			return err
		}
		fmt.Printf("registered job %q (%s, %d shards)\n", cfg.JobName, cfg.ExecutionType, cfg.ShardingTotalCount)
		return nil
	},
}

var jobUpdateCmd = &cobra.Command{
	Use:   "update",
	Short: "Update an existing job definition and tear down its in-flight work",
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		cfg, err := loadJobConfigFile(file)
		if err != nil {
			return err
		}

		mgr, db, err := openManager(cmd)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := mgr.Update(cfg); err != nil {
			if elasticerrors.Is(err, elasticerrors.ErrNotFound) {
				return fmt.Errorf("job %q not registered", cfg.JobName)
			}
			return err
		}
		fmt.Printf("updated job %q\n", cfg.JobName)
		return nil
	},
}

var jobDeregisterCmd = &cobra.Command{
	Use:   "deregister NAME",
	Short: "Remove a job definition and kill its running tasks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		jobName := args[0]

		mgr, db, err := openManager(cmd)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := mgr.Deregister(jobName); err != nil {
			return err
		}
		fmt.Printf("deregistered job %q\n", jobName)
		return nil
	},
}

var jobListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered job definitions",
	RunE: func(cmd *cobra.Command, args []string) error {
		dataDir, _ := cmd.Flags().GetString("data-dir")
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
		db, err := boltstore.Open(dataDir)
		if err != nil {
			return fmt.Errorf("open coordination store: %w", err)
		}
		defer db.Close()

		configs, err := db.ConfigService().LoadAll()
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "JOB\tTYPE\tSHARDS\tCPU\tMEMORY_MB\tCRON")
		for _, cfg := range configs {
			fmt.Fprintf(w, "%s\t%s\t%d\t%.2f\t%.0f\t%s\n",
				cfg.JobName, cfg.ExecutionType, cfg.ShardingTotalCount, cfg.CPUCount, cfg.MemoryMB, cfg.Cron)
		}
		return w.Flush()
	},
}
