package main

import (
	"github.com/spf13/cobra"
	"github.com/srg/hrmon/pkg/config"
)

// loadConfig returns the defaults, overlaid by the file named via --config.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		return config.DefaultConfig(), nil
	}
	return config.LoadFile(path)
}
