// persona-voice runs the Adina and Rafa voice agents: an HTTP API that
// starts persona bots in real-time rooms and a text chat endpoint over the
// same prompt pipeline.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-persona/internal/config"
)

var version = "dev"

var (
	v       = config.NewViper()
	cfgFile string

	rootCmd = &cobra.Command{
		Use:           "persona-voice",
		Short:         "Persona voice agents for real-time rooms",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")
	flags.String("log-level", config.DefaultLogLevel, "log level: debug, info, warn, error")
	flags.String("persona-dir", "", "directory of persona YAML overrides")

	if err := v.BindPFlag("log_level", flags.Lookup("log-level")); err != nil {
		panic(err)
	}
	if err := v.BindPFlag("persona_dir", flags.Lookup("persona-dir")); err != nil {
		panic(err)
	}

	rootCmd.AddCommand(serveCmd, personasCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// loadConfig reads configuration once flags are parsed.
func loadConfig() (*config.Config, error) {
	return config.Load(v, cfgFile)
}
