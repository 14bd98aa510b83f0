package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/danielpatrickdp/companion-kernel/internal/config"
	"github.com/danielpatrickdp/companion-kernel/internal/logging"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "companion",
	Short: "Companion kernel - affect, identity and decision pipeline for a personal agent",
	Long: `companion runs the decision kernel of a personal AI companion.

It keeps the agent's affective state and identity on disk, turns each message
into one reply through the cognitive pipeline, and consolidates experience in
periodic maintenance cycles. Language models, memory and tools are reached
over gRPC.

Example:
  companion chat --codec-addr localhost:50051`,
	SilenceUsage: true,
}

// Execute runs the root command until it returns or the process is
// interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .companion.yaml)")
	rootCmd.PersistentFlags().String("data-dir", "", "directory holding the records and database")
	rootCmd.PersistentFlags().String("codec-addr", "", "collaborator service address")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("dev", false, "human-readable development logs")
	_ = viper.BindPFlag("data.dir", rootCmd.PersistentFlags().Lookup("data-dir"))
	_ = viper.BindPFlag("codec.address", rootCmd.PersistentFlags().Lookup("codec-addr"))
	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log.development", rootCmd.PersistentFlags().Lookup("dev"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		cwd, err := os.Getwd()
		if err != nil {
			fmt.Fprintln(os.Stderr, "Error getting working directory:", err)
			os.Exit(1)
		}

		viper.AddConfigPath(cwd)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".companion")
	}

	viper.SetEnvPrefix("COMPANION")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	_ = viper.ReadInConfig()
}

// loadRunner builds the configuration, logger and stores for a subcommand.
func loadRunner() (*Runner, error) {
	cfg, err := config.Load(nil)
	if err != nil {
		return nil, err
	}
	log, err := logging.NewLogger(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return nil, err
	}
	return OpenRunner(cfg, afero.NewOsFs(), log)
}

// render writes v as YAML or JSON.
func render(out io.Writer, format string, v any) error {
	switch format {
	case "json":
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal json: %w", err)
		}
		_, err = fmt.Fprintln(out, string(data))
		return err
	case "yaml", "":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("marshal yaml: %w", err)
		}
		return enc.Close()
	}
	return fmt.Errorf("unknown format %q (want yaml or json)", format)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
