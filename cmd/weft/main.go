package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/weftql/weft/server"
)

const version = "0.1.0"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the weft version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("weft " + version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter weft.yaml in the working directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		return server.Init()
	},
}

func main() {
	var configPath string
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the federation gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return server.Run(configPath)
		},
	}
	serveCmd.Flags().StringVar(&configPath, "config", "weft.yaml", "path to the gateway config file")

	rootCmd := &cobra.Command{
		Use:   "weft",
		Short: "weft is a GraphQL federation gateway",
	}
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(serveCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
