// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// ColorSchemeAuto detects the terminal color scheme automatically.
	ColorSchemeAuto ColorScheme = "auto"
	// ColorSchemeDark forces dark color scheme.
	ColorSchemeDark ColorScheme = "dark"
	// ColorSchemeLight forces light color scheme.
	ColorSchemeLight ColorScheme = "light"

	// LogLevelDebug enables debug output.
	LogLevelDebug LogLevel = "debug"
	// LogLevelInfo is the default log level.
	LogLevelInfo LogLevel = "info"
	// LogLevelWarn logs warnings and errors only.
	LogLevelWarn LogLevel = "warn"
	// LogLevelError logs errors only.
	LogLevelError LogLevel = "error"

	// DefaultExecutable is the toolchain binary searched for when none is configured.
	DefaultExecutable = "python"
	// DefaultInstallURL is opened when no environment can be found.
	DefaultInstallURL = "https://www.python.org/downloads/"
	// DefaultMaxRegistryEnvs caps registry candidates before any binary check.
	DefaultMaxRegistryEnvs = 30
	// DefaultWalkMaxDepth bounds the workspace walk.
	DefaultWalkMaxDepth = 3
	// DefaultWalkBudget bounds the number of directories visited by the workspace walk.
	DefaultWalkBudget = 500
)

var (
	// ErrInvalidColorScheme is returned when a ColorScheme value is not recognized.
	ErrInvalidColorScheme = errors.New("invalid color scheme")
	// ErrInvalidLogLevel is returned when a LogLevel value is not recognized.
	ErrInvalidLogLevel = errors.New("invalid log level")
	// ErrInvalidDuration is returned when a Duration does not parse or is not positive.
	ErrInvalidDuration = errors.New("invalid duration")
	// ErrInvalidToolchain is returned when the toolchain section is unusable.
	ErrInvalidToolchain = errors.New("invalid toolchain config")
	// ErrInvalidConfig is the sentinel error wrapped by InvalidConfigError.
	ErrInvalidConfig = errors.New("invalid config")

	// DefaultEnvNames are the conventional in-workspace environment directory names.
	DefaultEnvNames = []string{".venv", "venv", "env", ".env"}
)

type (
	// ColorScheme specifies the terminal color scheme preference.
	ColorScheme string

	// InvalidColorSchemeError is returned when a ColorScheme value is not recognized.
	// It wraps ErrInvalidColorScheme for errors.Is() compatibility.
	InvalidColorSchemeError struct {
		Value ColorScheme
	}

	// LogLevel is the minimum level written by the CLI logger.
	LogLevel string

	// InvalidLogLevelError is returned when a LogLevel value is not recognized.
	InvalidLogLevelError struct {
		Value LogLevel
	}

	// Duration is a Go duration string such as "500ms" or "30s".
	// The zero value means "use the built-in default".
	Duration string

	// InvalidDurationError is returned when a Duration cannot be parsed.
	InvalidDurationError struct {
		Field string
		Value Duration
	}

	// InvalidConfigError is returned when a Config has invalid fields.
	// It wraps ErrInvalidConfig for errors.Is() compatibility and collects
	// field-level validation errors from all sections.
	InvalidConfigError struct {
		FieldErrors []error
	}

	// ToolchainConfig describes the executable being located.
	ToolchainConfig struct {
		// Executable is the binary base name without platform suffix.
		Executable string `json:"executable" mapstructure:"executable"`
		// Distribution is a package whose installed version ranks environments.
		// Empty means the interpreter version is used.
		Distribution string `json:"distribution" mapstructure:"distribution"`
		// InstallURL is opened when the user asks for the install page.
		InstallURL string `json:"install_url" mapstructure:"install_url"`
	}

	// DiscoveryConfig tunes the locators.
	DiscoveryConfig struct {
		// Workspaces are the project roots searched for in-tree environments.
		// Empty means the current working directory.
		Workspaces []string `json:"workspaces" mapstructure:"workspaces"`
		// EnvNames are conventional environment directory names checked first.
		EnvNames []string `json:"env_names" mapstructure:"env_names"`
		// RegistryFile overrides the conda environments.txt location.
		RegistryFile string `json:"registry_file" mapstructure:"registry_file"`
		// RegistryRoots are extra package-manager install roots.
		RegistryRoots []string `json:"registry_roots" mapstructure:"registry_roots"`
		// MaxRegistryEnvs caps registry candidates.
		MaxRegistryEnvs int `json:"max_registry_envs" mapstructure:"max_registry_envs"`
		// WalkMaxDepth bounds the workspace fallback walk.
		WalkMaxDepth int `json:"walk_max_depth" mapstructure:"walk_max_depth"`
		// WalkBudget bounds the directories the fallback walk may visit.
		WalkBudget int `json:"walk_budget" mapstructure:"walk_budget"`
		// FastSearch enables the OS file index during the workspace fallback.
		FastSearch bool `json:"fast_search" mapstructure:"fast_search"`
		// StaleAfter is the age after which a completed run is redone.
		StaleAfter Duration `json:"stale_after" mapstructure:"stale_after"`
		// ExtraStores are flat directories of environments scanned by the home locator.
		ExtraStores []string `json:"extra_stores" mapstructure:"extra_stores"`
		// CacheDir overrides the directory holding environments.json.
		CacheDir string `json:"cache_dir" mapstructure:"cache_dir"`
	}

	// WatchConfig tunes the filesystem watcher.
	WatchConfig struct {
		Enabled         bool     `json:"enabled" mapstructure:"enabled"`
		SettleDelay     Duration `json:"settle_delay" mapstructure:"settle_delay"`
		Debounce        Duration `json:"debounce" mapstructure:"debounce"`
		PinpointTimeout Duration `json:"pinpoint_timeout" mapstructure:"pinpoint_timeout"`
	}

	// ServerConfig describes the downstream process restarted on selection.
	ServerConfig struct {
		// Command is a shell-quoted command line. $ENVSCOUT_PYTHON and
		// $ENVSCOUT_ENV expand to the selected binary and its environment.
		Command string `json:"command" mapstructure:"command"`
		// StopGrace is how long to wait after an interrupt before killing.
		StopGrace Duration `json:"stop_grace" mapstructure:"stop_grace"`
	}

	// UIConfig contains UI preferences.
	UIConfig struct {
		ColorScheme ColorScheme `json:"color_scheme" mapstructure:"color_scheme"`
		Verbose     bool        `json:"verbose" mapstructure:"verbose"`
		// Accessible forces line-oriented prompts.
		Accessible bool `json:"accessible" mapstructure:"accessible"`
		// Theme is the huh form theme name.
		Theme string `json:"theme" mapstructure:"theme"`
	}

	// LogConfig controls the CLI logger.
	LogConfig struct {
		Level LogLevel `json:"level" mapstructure:"level"`
	}

	// Config holds the application configuration.
	Config struct {
		Toolchain ToolchainConfig `json:"toolchain" mapstructure:"toolchain"`
		Discovery DiscoveryConfig `json:"discovery" mapstructure:"discovery"`
		Watch     WatchConfig     `json:"watch" mapstructure:"watch"`
		Server    ServerConfig    `json:"server" mapstructure:"server"`
		UI        UIConfig        `json:"ui" mapstructure:"ui"`
		Log       LogConfig       `json:"log" mapstructure:"log"`
	}
)

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Toolchain: ToolchainConfig{
			Executable: DefaultExecutable,
			InstallURL: DefaultInstallURL,
		},
		Discovery: DiscoveryConfig{
			Workspaces:      []string{},
			EnvNames:        append([]string(nil), DefaultEnvNames...),
			RegistryRoots:   []string{},
			MaxRegistryEnvs: DefaultMaxRegistryEnvs,
			WalkMaxDepth:    DefaultWalkMaxDepth,
			WalkBudget:      DefaultWalkBudget,
			FastSearch:      true,
			StaleAfter:      "30s",
			ExtraStores:     []string{},
		},
		Watch: WatchConfig{
			Enabled:         true,
			SettleDelay:     "1s",
			Debounce:        "500ms",
			PinpointTimeout: "30s",
		},
		Server: ServerConfig{
			StopGrace: "5s",
		},
		UI: UIConfig{
			ColorScheme: ColorSchemeAuto,
			Theme:       "default",
		},
		Log: LogConfig{
			Level: LogLevelInfo,
		},
	}
}

// IsValid returns whether the Config has valid fields.
// It delegates to every section and collects all field errors.
func (c Config) IsValid() (bool, []error) {
	var errs []error
	if strings.TrimSpace(c.Toolchain.Executable) == "" || strings.ContainsAny(c.Toolchain.Executable, `/\`) {
		errs = append(errs, fmt.Errorf("%w: executable %q must be a bare file name", ErrInvalidToolchain, c.Toolchain.Executable))
	}
	durations := []struct {
		field string
		value Duration
	}{
		{"discovery.stale_after", c.Discovery.StaleAfter},
		{"watch.settle_delay", c.Watch.SettleDelay},
		{"watch.debounce", c.Watch.Debounce},
		{"watch.pinpoint_timeout", c.Watch.PinpointTimeout},
		{"server.stop_grace", c.Server.StopGrace},
	}
	for _, d := range durations {
		if _, err := d.value.Parse(d.field); err != nil {
			errs = append(errs, err)
		}
	}
	if valid, fieldErrs := c.UI.ColorScheme.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if valid, fieldErrs := c.Log.Level.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if len(errs) > 0 {
		return false, []error{&InvalidConfigError{FieldErrors: errs}}
	}
	return true, nil
}

// Error implements the error interface for InvalidConfigError.
func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("invalid config: %d field error(s)", len(e.FieldErrors))
}

// Unwrap returns ErrInvalidConfig for errors.Is() compatibility.
func (e *InvalidConfigError) Unwrap() error { return ErrInvalidConfig }

// String returns the string representation of the ColorScheme.
func (cs ColorScheme) String() string { return string(cs) }

// IsValid returns whether the ColorScheme is one of the defined color schemes.
// The zero value is treated as "auto".
func (cs ColorScheme) IsValid() (bool, []error) {
	switch cs {
	case "", ColorSchemeAuto, ColorSchemeDark, ColorSchemeLight:
		return true, nil
	default:
		return false, []error{&InvalidColorSchemeError{Value: cs}}
	}
}

// Error implements the error interface for InvalidColorSchemeError.
func (e *InvalidColorSchemeError) Error() string {
	return fmt.Sprintf("invalid color scheme %q (valid: auto, dark, light)", e.Value)
}

// Unwrap returns ErrInvalidColorScheme for errors.Is() compatibility.
func (e *InvalidColorSchemeError) Unwrap() error { return ErrInvalidColorScheme }

// String returns the string representation of the LogLevel.
func (l LogLevel) String() string { return string(l) }

// IsValid returns whether the LogLevel is recognized. The zero value means "info".
func (l LogLevel) IsValid() (bool, []error) {
	switch l {
	case "", LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return true, nil
	default:
		return false, []error{&InvalidLogLevelError{Value: l}}
	}
}

// Error implements the error interface for InvalidLogLevelError.
func (e *InvalidLogLevelError) Error() string {
	return fmt.Sprintf("invalid log level %q (valid: debug, info, warn, error)", e.Value)
}

// Unwrap returns ErrInvalidLogLevel for errors.Is() compatibility.
func (e *InvalidLogLevelError) Unwrap() error { return ErrInvalidLogLevel }

// Parse converts the Duration. The zero value parses to 0 so callers can
// substitute their own default; negative values are rejected.
func (d Duration) Parse(field string) (time.Duration, error) {
	if d == "" {
		return 0, nil
	}
	v, err := time.ParseDuration(string(d))
	if err != nil || v < 0 {
		return 0, &InvalidDurationError{Field: field, Value: d}
	}
	return v, nil
}

// Or returns the parsed duration, or def when the value is empty or invalid.
func (d Duration) Or(def time.Duration) time.Duration {
	v, err := d.Parse("")
	if err != nil || v == 0 {
		return def
	}
	return v
}

// Error implements the error interface for InvalidDurationError.
func (e *InvalidDurationError) Error() string {
	return fmt.Sprintf("%s: invalid duration %q", e.Field, e.Value)
}

// Unwrap returns ErrInvalidDuration for errors.Is() compatibility.
func (e *InvalidDurationError) Unwrap() error { return ErrInvalidDuration }
