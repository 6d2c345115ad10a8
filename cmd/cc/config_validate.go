package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/oriys/cc/internal/config"
)

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config validate",
		Short: "Load and validate the config file, then print the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configOverrideFile, configFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			fmt.Printf("nodes:              %d\n", len(cfg.Nodes))
			fmt.Printf("sched_policy:       %s\n", cfg.SchedPolicy)
			fmt.Printf("power_idlethresh:   %s\n", cfg.PowerIdleThresh)
			fmt.Printf("power_wakethresh:   %s\n", cfg.PowerWakeThresh)
			fmt.Printf("nc_polling_freq:    %s\n", cfg.NCPollingFrequency)
			fmt.Printf("instance_timeout:   %s\n", cfg.InstanceTimeout)
			fmt.Printf("state_dir:          %s\n", cfg.StateDir)
			fmt.Printf("metrics_addr:       %s\n", cfg.MetricsAddr)
			fmt.Printf("tracing.enabled:    %v\n", cfg.Tracing.Enabled)
			fmt.Printf("redis.enabled:      %v\n", cfg.Redis.Enabled)
			return nil
		},
	}
}
