package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	configFilename = ".ddbkeys.yaml"
	envPrefix      = "DDBKEYS"
)

// Config holds the settings shared by every command. Flags take precedence
// over DDBKEYS_ environment variables, which take precedence over the
// config file.
type Config struct {
	// Table overrides the table name declared by the schema file.
	Table    string
	Region   string
	Endpoint string
	// Local is a badger directory used instead of DynamoDB.
	Local    string
	LogLevel string
}

// bindConfig registers the persistent flags of cmd with v.
func bindConfig(cmd *cobra.Command, v *viper.Viper) {
	flags := cmd.PersistentFlags()
	flags.String("config", "", "config file (default: "+configFilename+" in the current or a parent directory)")
	flags.String("table", "", "table name, overrides the schema file")
	flags.String("region", "", "AWS region")
	flags.String("endpoint", "", "DynamoDB endpoint URL, e.g. http://localhost:8000")
	flags.String("local", "", "use the badger database in this directory instead of DynamoDB")
	flags.String("log-level", "warn", "log level: trace, debug, info, warn, error")

	_ = v.BindPFlag("table", flags.Lookup("table"))
	_ = v.BindPFlag("region", flags.Lookup("region"))
	_ = v.BindPFlag("endpoint", flags.Lookup("endpoint"))
	_ = v.BindPFlag("local", flags.Lookup("local"))
	_ = v.BindPFlag("log.level", flags.Lookup("log-level"))

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// loadConfig reads the config file, if any, and resolves the settings.
func loadConfig(cmd *cobra.Command, v *viper.Viper) (Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}
	return Config{
		Table:    v.GetString("table"),
		Region:   v.GetString("region"),
		Endpoint: v.GetString("endpoint"),
		Local:    v.GetString("local"),
		LogLevel: v.GetString("log.level"),
	}, nil
}

// findConfigFile searches for .ddbkeys.yaml walking up from the current
// directory. Returns "" if not found.
func findConfigFile() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		path := filepath.Join(dir, configFilename)
		if _, err := os.Stat(path); err == nil {
			return path
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

func newLogger(w io.Writer, level string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: w, NoColor: true}).
		Level(lvl).
		With().Timestamp().Str("app", "ddbkeys").Logger(), nil
}
