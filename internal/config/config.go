// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/envscout/envscout/internal/issue"
	"github.com/envscout/envscout/pkg/platform"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/spf13/viper"
)

const (
	// AppName is the application name.
	AppName = "envscout"
	// ConfigFileName is the name of the config file (without extension).
	ConfigFileName = "config"
	// ConfigFileExt is the config file extension.
	ConfigFileExt = "cue"
	// EnvPrefix is the prefix of environment variable overrides.
	EnvPrefix = "ENVSCOUT"

	// maxConfigFileSize rejects unreasonably large config files before parsing.
	maxConfigFileSize = 1 << 20
)

var (
	//go:embed config_schema.cue
	configSchema string

	// configDirOverride, cacheDirOverride and stateDirOverride let tests
	// bypass os.UserHomeDir(), which ignores HOME on some platforms.
	configDirOverride string
	cacheDirOverride  string
	stateDirOverride  string
)

// SetConfigDirOverride sets a custom config directory path (tests only).
func SetConfigDirOverride(dir string) { configDirOverride = dir }

// SetCacheDirOverride sets a custom cache directory path (tests only).
func SetCacheDirOverride(dir string) { cacheDirOverride = dir }

// SetStateDirOverride sets a custom state directory path (tests only).
func SetStateDirOverride(dir string) { stateDirOverride = dir }

// Reset clears test overrides. Call from test cleanup to restore defaults.
func Reset() {
	configDirOverride = ""
	cacheDirOverride = ""
	stateDirOverride = ""
}

// ConfigDir returns the envscout configuration directory using platform-specific
// conventions: Windows uses %APPDATA%, macOS uses ~/Library/Application Support,
// and Linux/others use $XDG_CONFIG_HOME (defaulting to ~/.config).
//
//nolint:revive // ConfigDir is more descriptive than Dir for external callers
func ConfigDir() (string, error) {
	if configDirOverride != "" {
		return configDirOverride, nil
	}
	return platformDir("APPDATA", filepath.Join("AppData", "Roaming"), "Application Support", "XDG_CONFIG_HOME", ".config")
}

// CacheDir returns the directory holding the environment cache:
// %LOCALAPPDATA% on Windows, ~/Library/Caches on macOS and
// $XDG_CACHE_HOME (defaulting to ~/.cache) elsewhere.
func CacheDir() (string, error) {
	if cacheDirOverride != "" {
		return cacheDirOverride, nil
	}
	return platformDir("LOCALAPPDATA", filepath.Join("AppData", "Local"), "Caches", "XDG_CACHE_HOME", ".cache")
}

// StateDir returns the directory holding the persisted selection and the
// serve PID file. On Linux it follows $XDG_STATE_HOME (~/.local/state).
func StateDir() (string, error) {
	if stateDirOverride != "" {
		return stateDirOverride, nil
	}
	return platformDir("LOCALAPPDATA", filepath.Join("AppData", "Local"), "Application Support", "XDG_STATE_HOME", filepath.Join(".local", "state"))
}

func platformDir(winEnv, winFallback, darwinLibrary, xdgEnv, xdgFallback string) (string, error) {
	var base string
	switch runtime.GOOS {
	case platform.Windows:
		base = os.Getenv(winEnv)
		if base == "" {
			base = filepath.Join(os.Getenv("USERPROFILE"), winFallback)
		}
	case platform.Darwin:
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		base = filepath.Join(home, "Library", darwinLibrary)
	default:
		base = os.Getenv(xdgEnv)
		if base == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			base = filepath.Join(home, xdgFallback)
		}
	}
	return filepath.Join(base, AppName), nil
}

// ConfigFilePath returns the default config file location.
func ConfigFilePath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, ConfigFileName+"."+ConfigFileExt), nil
}

// loadWithOptions performs option-driven config loading without mutating
// package-level state.
func loadWithOptions(ctx context.Context, opts LoadOptions) (*Config, string, error) {
	select {
	case <-ctx.Done():
		return nil, "", fmt.Errorf("load config canceled: %w", ctx.Err())
	default:
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	resolvedPath := ""
	if opts.ConfigFilePath != "" {
		if !fileExists(opts.ConfigFilePath) {
			return nil, "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(opts.ConfigFilePath).
				WithSuggestion("Verify the file path is correct").
				WithSuggestion("Use 'envscout config show' to see the default configuration").
				Wrap(fmt.Errorf("config file not found: %s", opts.ConfigFilePath)).
				BuildError()
		}
		resolvedPath = opts.ConfigFilePath
	} else {
		cfgDir := opts.ConfigDirPath
		if cfgDir == "" {
			dir, err := ConfigDir()
			if err != nil {
				return nil, "", err
			}
			cfgDir = dir
		}
		if p := filepath.Join(cfgDir, ConfigFileName+"."+ConfigFileExt); fileExists(p) {
			resolvedPath = p
		}
		// No config file means defaults plus environment overrides.
	}

	if resolvedPath != "" {
		if err := loadCUEIntoViper(v, resolvedPath); err != nil {
			return nil, "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(resolvedPath).
				WithSuggestion("Check that the file contains valid CUE syntax").
				WithSuggestion("Verify the configuration values match the expected schema").
				WithSuggestion("Run 'envscout config init' to write a fresh default file").
				Wrap(err).
				BuildError()
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", fmt.Errorf("failed to parse config: %w", err)
	}

	if valid, errs := cfg.IsValid(); !valid {
		return nil, "", issue.NewErrorContext().
			WithOperation("validate configuration").
			WithResource(resolvedPath).
			WithSuggestion("Check ENVSCOUT_* environment variables for typos").
			Wrap(errors.Join(flattenFieldErrors(errs)...)).
			BuildError()
	}

	return &cfg, resolvedPath, nil
}

func flattenFieldErrors(errs []error) []error {
	var out []error
	for _, err := range errs {
		var ice *InvalidConfigError
		if errors.As(err, &ice) {
			out = append(out, ice.FieldErrors...)
			continue
		}
		out = append(out, err)
	}
	return out
}

func setDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("toolchain.executable", d.Toolchain.Executable)
	v.SetDefault("toolchain.distribution", d.Toolchain.Distribution)
	v.SetDefault("toolchain.install_url", d.Toolchain.InstallURL)
	v.SetDefault("discovery.workspaces", d.Discovery.Workspaces)
	v.SetDefault("discovery.env_names", d.Discovery.EnvNames)
	v.SetDefault("discovery.registry_file", d.Discovery.RegistryFile)
	v.SetDefault("discovery.registry_roots", d.Discovery.RegistryRoots)
	v.SetDefault("discovery.max_registry_envs", d.Discovery.MaxRegistryEnvs)
	v.SetDefault("discovery.walk_max_depth", d.Discovery.WalkMaxDepth)
	v.SetDefault("discovery.walk_budget", d.Discovery.WalkBudget)
	v.SetDefault("discovery.fast_search", d.Discovery.FastSearch)
	v.SetDefault("discovery.stale_after", string(d.Discovery.StaleAfter))
	v.SetDefault("discovery.extra_stores", d.Discovery.ExtraStores)
	v.SetDefault("discovery.cache_dir", d.Discovery.CacheDir)
	v.SetDefault("watch.enabled", d.Watch.Enabled)
	v.SetDefault("watch.settle_delay", string(d.Watch.SettleDelay))
	v.SetDefault("watch.debounce", string(d.Watch.Debounce))
	v.SetDefault("watch.pinpoint_timeout", string(d.Watch.PinpointTimeout))
	v.SetDefault("server.command", d.Server.Command)
	v.SetDefault("server.stop_grace", string(d.Server.StopGrace))
	v.SetDefault("ui.color_scheme", string(d.UI.ColorScheme))
	v.SetDefault("ui.verbose", d.UI.Verbose)
	v.SetDefault("ui.accessible", d.UI.Accessible)
	v.SetDefault("ui.theme", d.UI.Theme)
	v.SetDefault("log.level", string(d.Log.Level))
}

// loadCUEIntoViper parses a CUE file, validates it against the #Config schema,
// and merges its contents into Viper.
//
// The value is decoded into a map rather than a struct so that Viper keeps
// applying defaults and environment overrides on top of it.
func loadCUEIntoViper(v *viper.Viper, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if len(data) > maxConfigFileSize {
		return fmt.Errorf("%s: file size %d exceeds limit of %d bytes", path, len(data), maxConfigFileSize)
	}

	ctx := cuecontext.New()
	schemaValue := ctx.CompileString(configSchema)
	if schemaValue.Err() != nil {
		return fmt.Errorf("internal error: failed to compile config schema: %w", schemaValue.Err())
	}

	userValue := ctx.CompileBytes(data, cue.Filename(path))
	if userValue.Err() != nil {
		return formatCUEError(userValue.Err(), path)
	}

	schema := schemaValue.LookupPath(cue.ParsePath("#Config"))
	unified := schema.Unify(userValue)
	if err := unified.Validate(cue.Concrete(false)); err != nil {
		return formatCUEError(err, path)
	}

	var configMap map[string]any
	if err := unified.Decode(&configMap); err != nil {
		return formatCUEError(err, path)
	}
	if err := v.MergeConfigMap(configMap); err != nil {
		return fmt.Errorf("failed to merge config: %w", err)
	}
	return nil
}

// formatCUEError flattens a CUE error list into one line per problem, each
// prefixed with the CUE path of the offending field.
func formatCUEError(err error, path string) error {
	var lines []string
	for _, e := range cueerrors.Errors(err) {
		format, args := e.Msg()
		msg := fmt.Sprintf(format, args...)
		if p := e.Path(); len(p) > 0 {
			msg = strings.Join(p, ".") + ": " + msg
		}
		lines = append(lines, msg)
	}
	if len(lines) == 0 {
		return fmt.Errorf("%s: %w", path, err)
	}
	return fmt.Errorf("%s: %s", path, strings.Join(lines, "; "))
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// EnsureConfigDir creates the config directory if it doesn't exist.
func EnsureConfigDir() error {
	cfgDir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(cfgDir, 0o755)
}

// CreateDefaultConfig writes a default config file unless one exists.
// It returns the file path and whether a new file was written.
func CreateDefaultConfig() (string, bool, error) {
	cfgPath, err := ConfigFilePath()
	if err != nil {
		return "", false, err
	}
	if _, err := os.Stat(cfgPath); err == nil {
		return cfgPath, false, nil
	}
	if err := Save(DefaultConfig()); err != nil {
		return "", false, err
	}
	return cfgPath, true, nil
}

// Save writes cfg to the default config file location.
func Save(cfg *Config) error {
	if err := EnsureConfigDir(); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	cfgPath, err := ConfigFilePath()
	if err != nil {
		return err
	}
	if err := os.WriteFile(cfgPath, []byte(GenerateCUE(cfg)), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GenerateCUE generates a CUE representation of the configuration.
func GenerateCUE(cfg *Config) string {
	var sb strings.Builder

	sb.WriteString("// envscout configuration file\n\n")

	sb.WriteString("toolchain: {\n")
	fmt.Fprintf(&sb, "\texecutable: %q\n", cfg.Toolchain.Executable)
	if cfg.Toolchain.Distribution != "" {
		fmt.Fprintf(&sb, "\tdistribution: %q\n", cfg.Toolchain.Distribution)
	}
	if cfg.Toolchain.InstallURL != "" {
		fmt.Fprintf(&sb, "\tinstall_url: %q\n", cfg.Toolchain.InstallURL)
	}
	sb.WriteString("}\n")

	d := cfg.Discovery
	sb.WriteString("\ndiscovery: {\n")
	writeList(&sb, "workspaces", d.Workspaces)
	writeList(&sb, "env_names", d.EnvNames)
	if d.RegistryFile != "" {
		fmt.Fprintf(&sb, "\tregistry_file: %q\n", d.RegistryFile)
	}
	writeList(&sb, "registry_roots", d.RegistryRoots)
	fmt.Fprintf(&sb, "\tmax_registry_envs: %d\n", d.MaxRegistryEnvs)
	fmt.Fprintf(&sb, "\twalk_max_depth: %d\n", d.WalkMaxDepth)
	fmt.Fprintf(&sb, "\twalk_budget: %d\n", d.WalkBudget)
	fmt.Fprintf(&sb, "\tfast_search: %v\n", d.FastSearch)
	if d.StaleAfter != "" {
		fmt.Fprintf(&sb, "\tstale_after: %q\n", d.StaleAfter)
	}
	writeList(&sb, "extra_stores", d.ExtraStores)
	if d.CacheDir != "" {
		fmt.Fprintf(&sb, "\tcache_dir: %q\n", d.CacheDir)
	}
	sb.WriteString("}\n")

	w := cfg.Watch
	sb.WriteString("\nwatch: {\n")
	fmt.Fprintf(&sb, "\tenabled: %v\n", w.Enabled)
	for _, kv := range [][2]string{
		{"settle_delay", string(w.SettleDelay)},
		{"debounce", string(w.Debounce)},
		{"pinpoint_timeout", string(w.PinpointTimeout)},
	} {
		if kv[1] != "" {
			fmt.Fprintf(&sb, "\t%s: %q\n", kv[0], kv[1])
		}
	}
	sb.WriteString("}\n")

	sb.WriteString("\nserver: {\n")
	if cfg.Server.Command != "" {
		fmt.Fprintf(&sb, "\tcommand: %q\n", cfg.Server.Command)
	}
	if cfg.Server.StopGrace != "" {
		fmt.Fprintf(&sb, "\tstop_grace: %q\n", cfg.Server.StopGrace)
	}
	sb.WriteString("}\n")

	sb.WriteString("\nui: {\n")
	if cfg.UI.ColorScheme != "" {
		fmt.Fprintf(&sb, "\tcolor_scheme: %q\n", cfg.UI.ColorScheme)
	}
	fmt.Fprintf(&sb, "\tverbose: %v\n", cfg.UI.Verbose)
	fmt.Fprintf(&sb, "\taccessible: %v\n", cfg.UI.Accessible)
	if cfg.UI.Theme != "" {
		fmt.Fprintf(&sb, "\ttheme: %q\n", cfg.UI.Theme)
	}
	sb.WriteString("}\n")

	if cfg.Log.Level != "" {
		fmt.Fprintf(&sb, "\nlog: level: %q\n", cfg.Log.Level)
	}

	return sb.String()
}

func writeList(sb *strings.Builder, key string, values []string) {
	if len(values) == 0 {
		return
	}
	fmt.Fprintf(sb, "\t%s: [", key)
	for i, v := range values {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(sb, "%q", v)
	}
	sb.WriteString("]\n")
}
