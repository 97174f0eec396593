package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/inconshreveable/log15"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	Version = "0.1.0"
)

var (
	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "singleton",
		Short: "one master process per name, every other process a client",
		Long: fmt.Sprintf(`singleton (v%s)

Runs at most one master process per name on this machine. Later processes
joining the same name connect to the master over a unix socket and exchange
JSON messages with it. Flags can also be set as SINGLETON_<flag> environment
variables (e.g. SINGLETON_LOG_LEVEL=debug).`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of singleton",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "singleton v%s\n", Version)
		},
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	RootCmd.AddCommand(addressCmd)
	RootCmd.AddCommand(joinCmd)
	RootCmd.AddCommand(versionCmd)

	key := "dir"
	RootCmd.PersistentFlags().String(key, "", "directory holding the socket, pid and lock files (default: the system temp dir)")
	key = "log-level"
	RootCmd.PersistentFlags().String(key, "warn", "level at which logs are written to stderr (debug, info, warn, error, crit)")
}

// initConfig loads .env files and binds environment variables.
func initConfig() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix("singleton")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// bindFlags makes viper aware of the flags of the command being run.
func bindFlags(cmd *cobra.Command, _ []string) error {
	return viper.BindPFlags(cmd.Flags())
}

func newLogger() (log15.Logger, error) {
	lvl, err := log15.LvlFromString(viper.GetString("log-level"))
	if err != nil {
		return nil, errors.Errorf("invalid log level %q", viper.GetString("log-level"))
	}
	l := log15.New()
	l.SetHandler(log15.LvlFilterHandler(lvl, log15.StreamHandler(os.Stderr, log15.LogfmtFormat())))
	return l, nil
}

// Execute runs the root command. It only needs to happen once.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
