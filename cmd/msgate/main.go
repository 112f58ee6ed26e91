package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/amoylab/msgate/internal/common/cnst"
	"github.com/amoylab/msgate/internal/common/config"
	"github.com/amoylab/msgate/pkg/version"
)

var (
	configPath string
	pidFile    string
	hashCost   int
	longVer    bool

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of msgate",
		Run: func(cmd *cobra.Command, args []string) {
			v := version.Get()
			if longVer {
				v = version.Long()
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s version %s\n", cnst.AppName, v)
		},
	}

	hashPasswordCmd = &cobra.Command{
		Use:   "hash-password <password>",
		Short: "Print a bcrypt hash for super_admin.password_hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := bcrypt.GenerateFromPassword([]byte(args[0]), hashCost)
			if err != nil {
				return fmt.Errorf("hashing password: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(hash))
			return nil
		},
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway (default command)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
	}

	checkCmd = &cobra.Command{
		Use:   "check",
		Short: "Load and validate the configuration file, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, path, err := config.LoadConfig(configPath)
			if err != nil {
				return fmt.Errorf("config %s: %w", path, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "configuration %s is valid\n", path)
			return nil
		},
	}

	rootCmd = &cobra.Command{
		Use:   cnst.AppName,
		Short: "Multi-tenant messaging session gateway",
		Long:  `msgate hosts messaging sessions behind an authenticated REST API and pushes their lifecycle events to subscribers over a websocket`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
		SilenceUsage: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "conf", "c", cnst.AppName+".yaml", "path to configuration file")
	rootCmd.PersistentFlags().StringVar(&pidFile, "pid", "", "path to PID file")
	versionCmd.Flags().BoolVar(&longVer, "long", false, "include commit and build details")
	hashPasswordCmd.Flags().IntVar(&hashCost, "cost", bcrypt.DefaultCost, "bcrypt cost")
	rootCmd.AddCommand(serveCmd, versionCmd, hashPasswordCmd, checkCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
