// SPDX-License-Identifier: MPL-2.0

package locator

import (
	"github.com/envscout/envscout/internal/scan"

	"github.com/charmbracelet/log"
)

// Settings configures the full locator set.
type Settings struct {
	Env             Env
	Target          scan.Target
	Workspaces      []string
	EnvNames        []string
	RegistryFile    string
	RegistryRoots   []string
	MaxRegistryEnvs int
	Walk            scan.WalkOptions
	// Fast enables the file-index fallback in workspaces; nil disables it.
	Fast        *scan.FastSearcher
	ExtraStores []string
	Logger      *log.Logger
}

// New returns one locator per kind, in Kinds() order.
func New(s Settings) []Locator {
	logger := orDiscard(s.Logger)
	return []Locator{
		&PathLocator{Executable: s.Target.Executable},
		NewRegistryLocator(s.Env, s.Target, s.RegistryFile, s.RegistryRoots, s.MaxRegistryEnvs, logger.WithPrefix("registry")),
		&WorkspaceLocator{
			Target:   s.Target,
			Roots:    s.Workspaces,
			EnvNames: s.EnvNames,
			Walk:     s.Walk,
			Fast:     s.Fast,
			Logger:   logger.WithPrefix("workspace"),
		},
		&HomeLocator{
			Target: s.Target,
			Stores: HomeStores(s.Env, s.ExtraStores),
			Logger: logger.WithPrefix("home"),
		},
	}
}
