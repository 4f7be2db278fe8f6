package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/thatsimonsguy/sprinkler-controller/db"
	"github.com/thatsimonsguy/sprinkler-controller/internal/config"
	"github.com/thatsimonsguy/sprinkler-controller/system/startup"
)

var configFile string

func main() {
	if err := BuildCLI().Execute(); err != nil {
		os.Exit(1)
	}
}

func BuildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "sprinkler-debug",
		Short:        "Operator tools for the sprinkler controller",
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "config.yaml", "config file path")

	rootCmd.AddCommand(buildValidateCommand())
	rootCmd.AddCommand(buildRunsCommand())
	rootCmd.AddCommand(buildInstallCommand())

	return rootCmd
}

func buildValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check a config file without touching hardware",
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateConfig(cmd.OutOrStdout(), configFile)
		},
	}
}

func validateConfig(w io.Writer, path string) error {
	cfg, err := config.LoadFile(path)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	fmt.Fprintf(w, "%s: ok (%d outputs, %d zones, %d plans, pump on output %d)\n",
		path, cfg.ShiftRegister.Outputs, len(cfg.Zones), len(cfg.Plans), cfg.Pump.Pin)
	return nil
}

func buildRunsCommand() *cobra.Command {
	var dbPath string
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Show recent runs from the journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			if dbPath == "" {
				cfg, err := config.LoadFile(configFile)
				if err != nil {
					return err
				}
				dbPath = cfg.Database.Path
			}
			return db.PrintRecentRunsCLI(cmd.OutOrStdout(), dbPath, limit)
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "Path to the SQLite database file (defaults to the config's database.path)")
	cmd.Flags().IntVar(&limit, "limit", 20, "Number of runs to show")

	return cmd
}

func buildInstallCommand() *cobra.Command {
	paths := startup.DefaultPaths()
	var runNow bool

	cmd := &cobra.Command{
		Use:   "install",
		Short: "Write the boot script and systemd units",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFile(configFile)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := startup.Install(paths, cfg.ShiftRegister); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s, %s, %s\n", paths.BootScript, paths.BootService, paths.MainService)

			if runNow {
				return startup.RunStartupScript(paths)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&paths.BootScript, "boot-script", paths.BootScript, "Boot script destination")
	cmd.Flags().StringVar(&paths.BootService, "boot-unit", paths.BootService, "Boot systemd unit destination")
	cmd.Flags().StringVar(&paths.MainService, "controller-unit", paths.MainService, "Controller systemd unit destination")
	cmd.Flags().StringVar(&paths.User, "user", paths.User, "User the controller runs as")
	cmd.Flags().StringVar(&paths.WorkDir, "workdir", paths.WorkDir, "Controller working directory")
	cmd.Flags().StringVar(&paths.ControllerExec, "exec", paths.ControllerExec, "Controller command line")
	cmd.Flags().BoolVar(&runNow, "run", false, "Run the boot script once after installing")

	return cmd
}
