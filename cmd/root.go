package main

import (
	"github.com/spf13/cobra"
)

const configFlag = "config-file-path"

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "path-proxy",
		Short: "Path-based HTTP/1.1 reverse proxy",
		Long: `path-proxy accepts plaintext HTTP/1.1 requests over TCP, resolves the
request path to an application by prefix, picks one of the application's
backends and relays the backend's response. One request per connection.

Example:
  path-proxy --config-file-path /etc/path-proxy/config.yaml`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, configFlag, "c", "", "path to the YAML configuration file")
	_ = cmd.MarkFlagRequired(configFlag)

	return cmd
}
