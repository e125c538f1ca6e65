// SPDX-License-Identifier: MPL-2.0

package server

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os/exec"
	"runtime"

	"github.com/envscout/envscout/pkg/platform"
)

// ErrUnsupportedURL is returned for anything but an http(s) URL.
var ErrUnsupportedURL = errors.New("only http and https URLs can be opened")

// Opener opens URLs with the desktop's default handler.
type Opener struct {
	goos string
	run  func(ctx context.Context, name string, args ...string) error
}

// NewOpener creates an Opener for the current platform.
func NewOpener() *Opener {
	return &Opener{goos: runtime.GOOS, run: startDetached}
}

// Open launches rawURL in the browser. It does not wait for the browser.
func (o *Opener) Open(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("%w: %q", ErrUnsupportedURL, rawURL)
	}
	name, args := openCommand(o.goos, u.String())
	name, args = platform.HostCommand(name, args...)
	return o.run(ctx, name, args...)
}

func openCommand(goos, target string) (string, []string) {
	switch goos {
	case platform.Darwin:
		return "open", []string{target}
	case platform.Windows:
		return "rundll32", []string{"url.dll,FileProtocolHandler", target}
	default:
		return "xdg-open", []string{target}
	}
}

// startDetached launches the handler without tying it to ctx, so the
// browser outlives the command that opened it.
func startDetached(ctx context.Context, name string, args ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cmd := exec.Command(name, args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("open browser: %w", err)
	}
	go func() { _ = cmd.Wait() }()
	return nil
}
