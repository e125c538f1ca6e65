// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/envscout/envscout/internal/config"
	"github.com/envscout/envscout/internal/envcache"
	"github.com/envscout/envscout/internal/envmgr"
	"github.com/envscout/envscout/internal/issue"
	"github.com/envscout/envscout/internal/locator"
	"github.com/envscout/envscout/internal/probe"
	"github.com/envscout/envscout/internal/scan"
	"github.com/envscout/envscout/internal/selection"
	"github.com/envscout/envscout/internal/server"
	"github.com/envscout/envscout/internal/state"
	"github.com/envscout/envscout/internal/tui"
	"github.com/envscout/envscout/internal/version"
	"github.com/envscout/envscout/internal/watch"

	"github.com/charmbracelet/log"
)

type (
	// App wires CLI services and shared dependencies. It is the composition root for
	// the CLI layer: every Cobra command handler receives an App reference.
	App struct {
		Config ConfigProvider
		ui     tui.Config
		stdout io.Writer
		stderr io.Writer
	}

	// Dependencies defines the injection points for building an App. Nil fields are
	// replaced with production defaults by NewApp.
	Dependencies struct {
		Config ConfigProvider
		Stdout io.Writer
		Stderr io.Writer
	}

	// ConfigProvider loads configuration using explicit options.
	ConfigProvider interface {
		LoadWithPath(ctx context.Context, opts config.LoadOptions) (*config.Config, string, error)
	}

	// rootFlagValues holds the persistent flags shared by all commands.
	rootFlagValues struct {
		configPath string
		verbose    bool
		workspaces []string
	}

	// session is everything one command invocation needs, built from config.
	session struct {
		cfg      *config.Config
		cfgPath  string
		logger   *log.Logger
		verbose  bool
		target   scan.Target
		env      locator.Env
		settings locator.Settings
		cache    *envcache.Cache
		state    *state.Store
		manager  *envmgr.Manager
		reader   version.Reader
		stateDir string
	}
)

// NewApp creates an App, filling nil dependencies with production defaults.
func NewApp(deps Dependencies) *App {
	if deps.Config == nil {
		deps.Config = config.NewProvider()
	}
	if deps.Stdout == nil {
		deps.Stdout = os.Stdout
	}
	if deps.Stderr == nil {
		deps.Stderr = os.Stderr
	}
	return &App{
		Config: deps.Config,
		ui:     tui.DefaultConfig(),
		stdout: deps.Stdout,
		stderr: deps.Stderr,
	}
}

// loadConfig loads the configuration named by --config, or the default file.
func (a *App) loadConfig(ctx context.Context, flags *rootFlagValues) (*config.Config, string, error) {
	cfg, path, err := a.Config.LoadWithPath(ctx, config.LoadOptions{ConfigFilePath: flags.configPath})
	if err != nil {
		return nil, "", newServiceError(err, issue.ConfigLoadFailedId)
	}
	a.ui = tui.FromConfig(cfg.UI)
	return cfg, path, nil
}

// newSession loads the configuration and wires the discovery stack.
// restarter may be nil.
func (a *App) newSession(ctx context.Context, flags *rootFlagValues, restarter envmgr.Restarter) (*session, error) {
	cfg, cfgPath, err := a.loadConfig(ctx, flags)
	if err != nil {
		return nil, err
	}

	verbose := flags.verbose || cfg.UI.Verbose
	logger := newLogger(a.stderr, cfg.Log.Level, verbose)

	env := locator.HostEnv()
	target := scan.DefaultTarget(cfg.Toolchain.Executable)

	workspaces := flags.workspaces
	if len(workspaces) == 0 {
		workspaces = cfg.Discovery.Workspaces
	}
	if len(workspaces) == 0 {
		if wd, wdErr := os.Getwd(); wdErr == nil {
			workspaces = []string{wd}
		}
	}
	resolved := make([]string, 0, len(workspaces))
	for _, ws := range workspaces {
		if abs, absErr := filepath.Abs(selection.ExpandHome(ws, env.Home)); absErr == nil {
			resolved = append(resolved, abs)
		}
	}

	registryFile := cfg.Discovery.RegistryFile
	if registryFile == "" {
		registryFile = locator.RegistryManifest(env)
	}

	var fast *scan.FastSearcher
	if cfg.Discovery.FastSearch {
		fast = scan.NewFastSearcher()
	}

	settings := locator.Settings{
		Env:             env,
		Target:          target,
		Workspaces:      resolved,
		EnvNames:        cfg.Discovery.EnvNames,
		RegistryFile:    registryFile,
		RegistryRoots:   cfg.Discovery.RegistryRoots,
		MaxRegistryEnvs: cfg.Discovery.MaxRegistryEnvs,
		Walk: scan.WalkOptions{
			MaxDepth: cfg.Discovery.WalkMaxDepth,
			Budget:   cfg.Discovery.WalkBudget,
		},
		Fast:        fast,
		ExtraStores: cfg.Discovery.ExtraStores,
		Logger:      logger,
	}

	cachePath, err := cacheFilePath(cfg)
	if err != nil {
		return nil, err
	}
	stateDir, err := config.StateDir()
	if err != nil {
		return nil, err
	}

	cache := envcache.New(cachePath, logger.WithPrefix("cache"))
	store := state.New(filepath.Join(stateDir, state.FileName), logger.WithPrefix("state"))
	reader := version.Reader{
		EnvDir:       target.EnvDir,
		Executable:   target.Executable,
		Distribution: cfg.Toolchain.Distribution,
	}

	manager := envmgr.New(envmgr.Options{
		Locators:  locator.New(settings),
		Cache:     cache,
		State:     store,
		Validate:  probe.Validate,
		Version:   reader.Read,
		Restarter: restarter,
		Metrics:   envmgr.NewMetrics(),
		Logger:    logger.WithPrefix("discovery"),
	})

	return &session{
		cfg:      cfg,
		cfgPath:  cfgPath,
		logger:   logger,
		verbose:  verbose,
		target:   target,
		env:      env,
		settings: settings,
		cache:    cache,
		state:    store,
		manager:  manager,
		reader:   reader,
		stateDir: stateDir,
	}, nil
}

// cacheFilePath honors discovery.cache_dir before the platform cache directory.
func cacheFilePath(cfg *config.Config) (string, error) {
	dir := cfg.Discovery.CacheDir
	if dir == "" {
		var err error
		if dir, err = config.CacheDir(); err != nil {
			return "", err
		}
	}
	return filepath.Join(dir, envcache.FileName), nil
}

// pidFile is where `envscout serve` records its process ID.
func (s *session) pidFile() string {
	return filepath.Join(s.stateDir, server.PIDFileName)
}

// watchConfig maps the session's discovery targets to the watcher.
func (s *session) watchConfig(cb envmgr.Callbacks) watch.Config {
	stores := locator.HomeStores(s.env, s.settings.ExtraStores)
	watched := make([]watch.Store, 0, len(stores))
	for _, st := range stores {
		watched = append(watched, watch.Store{Dir: st.Dir, Depth: st.Depth()})
	}
	return watch.Config{
		Workspaces:        s.settings.Workspaces,
		Stores:            watched,
		PathDirs:          probe.SearchPath(),
		RegistryFile:      s.settings.RegistryFile,
		Target:            s.target,
		SettleDelay:       s.cfg.Watch.SettleDelay.Or(watch.DefaultSettleDelay),
		Debounce:          s.cfg.Watch.Debounce.Or(watch.DefaultDebounce),
		PinpointTimeout:   s.cfg.Watch.PinpointTimeout.Or(watch.DefaultPinpointTimeout),
		OnCreated:         cb.OnCreated,
		OnDeleted:         cb.OnDeleted,
		OnRegistryChanged: cb.OnRegistryChanged,
		Logger:            s.logger.WithPrefix("watch"),
	}
}

func (s *session) close() {
	s.manager.Close()
}

// newLogger builds the CLI logger. Verbose forces debug output.
func newLogger(w io.Writer, level config.LogLevel, verbose bool) *log.Logger {
	lvl := log.WarnLevel
	if level != "" {
		if parsed, err := log.ParseLevel(string(level)); err == nil {
			lvl = parsed
		}
	}
	if verbose {
		lvl = log.DebugLevel
	}
	return log.NewWithOptions(w, log.Options{Level: lvl, Prefix: "envscout"})
}
