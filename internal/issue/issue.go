// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"slices"
	"strings"

	"github.com/charmbracelet/glamour"
)

const (
	NoEnvironmentFoundId Id = iota + 1
	InvalidInterpreterId
	ConfigLoadFailedId
	WatchLimitReachedId
	ServeNotRunningId
	ServerStartFailedId
)

type (
	// Id identifies a catalog entry.
	Id int

	// MarkdownMsg is Markdown rendered to the terminal with glamour.
	MarkdownMsg string

	// HttpLink is an external documentation link.
	HttpLink string

	// Issue is a guidance page for a recognized failure.
	Issue struct {
		id       Id
		mdMsg    MarkdownMsg
		extLinks []HttpLink
	}
)

func (i *Issue) Id() Id { return i.id }

func (i *Issue) MarkdownMsg() MarkdownMsg { return i.mdMsg }

func (i *Issue) ExtLinks() []HttpLink { return slices.Clone(i.extLinks) }

// Markdown returns the page including the "See also" link list.
func (i *Issue) Markdown() string {
	var sb strings.Builder
	sb.WriteString(string(i.mdMsg))
	if len(i.extLinks) > 0 {
		sb.WriteString("\n\n## See also\n")
		for _, link := range i.extLinks {
			sb.WriteString("- <" + string(link) + ">\n")
		}
	}
	return sb.String()
}

// Render renders the page with a glamour style ("dark", "light", "notty", ...).
func (i *Issue) Render(style string) (string, error) {
	return render(i.Markdown(), style)
}

var (
	render = glamour.Render

	noEnvironmentFoundIssue = &Issue{
		id: NoEnvironmentFoundId,
		mdMsg: `
# No environment found

envscout searched your PATH, package-manager registries, the workspace and the
usual per-user stores, and found no usable interpreter.

## Things you can try
- Install an interpreter and run the search again:
~~~
$ envscout discover
~~~
- Point envscout at an interpreter you already have:
~~~
$ envscout select ~/path/to/bin/python
~~~
- Add the directory holding your environments to ` + "`discovery.extra_stores`" + `
  in the config file.`,
		extLinks: []HttpLink{"https://www.python.org/downloads/"},
	}

	invalidInterpreterIssue = &Issue{
		id: InvalidInterpreterId,
		mdMsg: `
# Interpreter rejected

The path you entered does not point to an existing executable.

## Things you can try
- Pass the interpreter binary itself, not its environment directory
- Use an absolute path or a name resolvable on your PATH
- A leading ` + "`~`" + ` is expanded to your home directory`,
	}

	configLoadFailedIssue = &Issue{
		id: ConfigLoadFailedId,
		mdMsg: `
# Configuration could not be loaded

The config file is not valid CUE or does not match the expected schema.

## Things you can try
- Show the effective configuration and its location:
~~~
$ envscout config path
$ envscout config show
~~~
- Write a fresh default file next to the broken one and compare:
~~~
$ envscout config init
~~~`,
	}

	watchLimitReachedIssue = &Issue{
		id: WatchLimitReachedId,
		mdMsg: `
# File watch limit reached

The operating system refused more file watches, so envscout stopped watching
for new environments. Discovery still works; results refresh on the next run.

## Things you can try
- Raise the inotify limit on Linux:
~~~
$ sudo sysctl fs.inotify.max_user_watches=524288
~~~
- Narrow ` + "`discovery.workspaces`" + ` to the projects you actually use`,
	}

	serveNotRunningIssue = &Issue{
		id: ServeNotRunningId,
		mdMsg: `
# No server to restart

The selection was saved, but no ` + "`envscout serve`" + ` process is running,
so there is no downstream server to restart.

## Things you can try
- Start the supervisor with the configured ` + "`server.command`" + `:
~~~
$ envscout serve
~~~`,
	}

	serverStartFailedIssue = &Issue{
		id: ServerStartFailedId,
		mdMsg: `
# Server failed to start

The command configured in ` + "`server.command`" + ` could not be started with
the selected environment.

## Things you can try
- Check that the command is installed inside the selected environment
- ` + "`$ENVSCOUT_PYTHON`" + ` and ` + "`$ENVSCOUT_ENV`" + ` expand to the selected
  interpreter and its environment directory`,
	}

	issues = map[Id]*Issue{
		noEnvironmentFoundIssue.Id(): noEnvironmentFoundIssue,
		invalidInterpreterIssue.Id(): invalidInterpreterIssue,
		configLoadFailedIssue.Id():   configLoadFailedIssue,
		watchLimitReachedIssue.Id():  watchLimitReachedIssue,
		serveNotRunningIssue.Id():    serveNotRunningIssue,
		serverStartFailedIssue.Id():  serverStartFailedIssue,
	}
)

// Get returns the catalog entry for id, or nil.
func Get(id Id) *Issue {
	return issues[id]
}
