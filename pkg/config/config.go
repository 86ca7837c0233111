// Quizlet uses flags for configuration. Every flag can also be set from a config file (.env by default, any format
// viper reads) or from an environment variable named after the flag in upper case, e.g. --auth_domain from
// AUTH_DOMAIN. Precedence: command line, then environment, then config file, then the flag default.

package config

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

var configFilePath = flag.String("config_file", ".env", "Path to an optional config file; .env, yaml, toml or json.")

// flagNamePattern is the shape every flag name must have so it maps to an environment variable.
var flagNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// InitFlags parses the command line, then fills every flag that wasn't given on it from the environment or the
// config file given by --config_file. It should be called after defining all flags and before using them.
func InitFlags() error {
	return initFlagsWith(flag.CommandLine, os.Args[1:], viper.New())
}

// initFlagsWith does InitFlags' work over the given flag set and arguments.
func initFlagsWith(flags *flag.FlagSet, args []string, v *viper.Viper) error {
	if err := flags.Parse(args); err != nil {
		return err
	}
	explicit := make(map[string]bool)
	flags.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	if err := readConfigFile(flags, v); err != nil {
		return err
	}
	v.AutomaticEnv()

	var err error
	flags.VisitAll(func(f *flag.Flag) {
		if err != nil || explicit[f.Name] || !v.IsSet(f.Name) {
			return
		}
		if setErr := flags.Set(f.Name, v.GetString(f.Name)); setErr != nil {
			err = fmt.Errorf("failed to set flag %s from config: %w", f.Name, setErr)
		}
	})
	return err
}

// readConfigFile loads the --config_file of `flags` into `v`. A missing file is fine.
func readConfigFile(flags *flag.FlagSet, v *viper.Viper) error {
	pathFlag := flags.Lookup("config_file")
	if pathFlag == nil || pathFlag.Value.String() == "" {
		slog.Debug("Config file not specified. Skipping config file.")
		return nil
	}
	path := pathFlag.Value.String()
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		slog.Debug("Config file does not exist.", "path", path)
		return nil
	}
	v.SetConfigFile(path)
	if filepath.Ext(path) == "" || filepath.Base(path) == ".env" || filepath.Ext(path) == ".env" {
		v.SetConfigType("env")
	}
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	slog.Debug("Config file loaded.", "path", path)
	return nil
}

// InvalidFlagNames reports every flag of `flags` whose name can't be mapped to an environment variable.
func InvalidFlagNames(flags *flag.FlagSet) []error {
	var errs []error
	flags.VisitAll(func(f *flag.Flag) {
		if strings.HasPrefix(f.Name, "test.") { // Registered by the testing package.
			return
		}
		if !flagNamePattern.MatchString(f.Name) {
			errs = append(errs, fmt.Errorf("flag %q must be lower snake case", f.Name))
		}
	})
	return errs
}

// SetTestFlag sets a flag to a specific value for the duration of the test.
func SetTestFlag(t *testing.T, name, value string) {
	t.Helper()
	flagHolder := flag.Lookup(name)
	require.NotNil(t, flagHolder, "Flag %s not found", name)
	if flagHolder != nil { // Revert the flag value back to its original when the test is done.
		prevValue := flagHolder.Value.String()
		t.Cleanup(func() { require.NoError(t, flag.Set(name, prevValue)) })
	}
	require.NoError(t, flag.Set(name, value))
}
