package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/panyam/authgate/config"
)

var (
	cfgFile string
	v       *viper.Viper = config.New()
)

var rootCmd = &cobra.Command{
	Use:   "authgate",
	Short: "Session login with passwords, passkeys and OAuth2",
	Long: `authgate serves password, WebAuthn passkey and OAuth2 login endpoints
that all end in the same server side session.

Settings come from --config, AUTHGATE_* environment variables and defaults.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, toml or json)")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn or error")
	rootCmd.PersistentFlags().String("dsn", "", "database dsn")
	_ = v.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = v.BindPFlag("database.dsn", rootCmd.PersistentFlags().Lookup("dsn"))
}

// loadConfig reads the configuration and installs the process logger.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(v, cfgFile)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(cfg.Log.NewLogger(os.Stderr))
	return cfg, nil
}
