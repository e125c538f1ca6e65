// SPDX-License-Identifier: MPL-2.0

package tui

import (
	"github.com/envscout/envscout/internal/config"
	"github.com/envscout/envscout/internal/issue"
)

// GlamourStyle maps a color scheme to a glamour style name. Accessible
// output is never styled.
func GlamourStyle(scheme config.ColorScheme, accessible bool) string {
	if accessible {
		return "notty"
	}
	switch scheme {
	case config.ColorSchemeDark:
		return "dark"
	case config.ColorSchemeLight:
		return "light"
	default:
		return "auto"
	}
}

// RenderIssue renders a guidance page from the issue catalog. Rendering
// failures fall back to the raw Markdown.
func RenderIssue(cfg Config, id issue.Id) string {
	page := issue.Get(id)
	if page == nil {
		return ""
	}
	out, err := page.Render(GlamourStyle(cfg.ColorScheme, cfg.Accessible))
	if err != nil {
		return page.Markdown()
	}
	return out
}
