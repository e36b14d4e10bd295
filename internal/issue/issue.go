// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"cmp"
	"maps"
	"slices"
	"strings"

	"github.com/charmbracelet/glamour"
)

const (
	// ConfigLoadFailedId is a config file that could not be read or parsed.
	ConfigLoadFailedId Id = iota + 1
	// ConfigInvalidId is a config file that violates the schema.
	ConfigInvalidId
	// RequestFileInvalidId is a request file given to `funcbox run` that is unreadable.
	RequestFileInvalidId
	// TransportStartFailedId is a transport that could not bind.
	TransportStartFailedId
	// SSHTokenMissingId is an SSH transport started without a token.
	SSHTokenMissingId
	// RedisUnavailableId is a worker that cannot reach Redis.
	RedisUnavailableId
	// ExecutionFailedId is a `funcbox run` whose function did not succeed.
	ExecutionFailedId
)

type (
	// Id identifies a catalog entry.
	Id int //nolint:revive

	// MarkdownMsg is the Markdown body of a guide.
	MarkdownMsg string

	// HttpLink is a documentation URL.
	HttpLink string //nolint:revive

	// Issue is a troubleshooting guide.
	Issue struct {
		id       Id
		mdMsg    MarkdownMsg
		docLinks []HttpLink
	}
)

// Id returns the catalog id.
func (i *Issue) Id() Id { return i.id } //nolint:revive

// MarkdownMsg returns the Markdown body.
func (i *Issue) MarkdownMsg() MarkdownMsg { return i.mdMsg }

// DocLinks returns a copy of the documentation links.
func (i *Issue) DocLinks() []HttpLink { return slices.Clone(i.docLinks) }

// Render renders the guide for a terminal with the given Glamour style.
func (i *Issue) Render(style string) (string, error) {
	var md strings.Builder
	md.WriteString(string(i.mdMsg))
	if len(i.docLinks) > 0 {
		md.WriteString("\n\n## See also\n")
		for _, link := range i.docLinks {
			md.WriteString("- <" + string(link) + ">\n")
		}
	}
	return render(md.String(), style)
}

var (
	render = glamour.Render

	issues = map[Id]*Issue{
		ConfigLoadFailedId: {
			id: ConfigLoadFailedId,
			mdMsg: `
# Configuration could not be loaded

funcbox reads ` + "`config.cue`" + ` from its config directory, then from the current
directory. A file was found but it could not be read or parsed as CUE.

## Things you can try
- Print the effective configuration with defaults:
~~~
$ funcbox config show
~~~
- Write a fresh file and edit it:
~~~
$ funcbox config init
~~~`,
		},
		ConfigInvalidId: {
			id: ConfigInvalidId,
			mdMsg: `
# Configuration does not match the schema

A value has the wrong type or is out of range. Common causes:
- ` + "`before_failure_policy`" + ` must be ` + "`\"abort\"`" + ` or ` + "`\"continue\"`" + `;
- ` + "`codec`" + ` must be ` + "`\"json\"`" + ` or ` + "`\"cbor\"`" + `;
- timeouts are milliseconds and must be positive, with ` + "`default_timeout_ms <= max_timeout_ms`" + `.`,
		},
		RequestFileInvalidId: {
			id: RequestFileInvalidId,
			mdMsg: `
# Request file is invalid

` + "`funcbox run`" + ` expects one request object in JSON. Comments and trailing
commas are allowed. The ` + "`executionId`" + ` may be omitted; one is generated.

~~~json
{
  // resolver returning a constant
  "kind": "resolver",
  "mainFunction": {"code": "function main() { return 42 }", "handlerName": "main"},
}
~~~`,
		},
		TransportStartFailedId: {
			id: TransportStartFailedId,
			mdMsg: `
# Transport failed to start

The listener could not bind. Check that the address is free and that you may
bind to the port, or choose another one with ` + "`--ssh-port`" + ` or ` + "`--http-address`" + `.`,
		},
		SSHTokenMissingId: {
			id: SSHTokenMissingId,
			mdMsg: `
# SSH transport needs a token

Clients authenticate with a shared token as their password. Set ` + "`ssh.token`" + ` in
the config file or export ` + "`FUNCBOX_SSH_TOKEN`" + `.`,
		},
		RedisUnavailableId: {
			id: RedisUnavailableId,
			mdMsg: `
# Redis is not reachable

The worker pings Redis before consuming the queue. Check ` + "`redis.address`" + ` and
that the server accepts connections:
~~~
$ redis-cli -h <host> -p <port> ping
~~~`,
		},
		ExecutionFailedId: {
			id: ExecutionFailedId,
			mdMsg: `
# The function did not succeed

The result carries an ` + "`errorKind`" + `:
- ` + "`loadError`" + `: the source does not parse or the handler is not a function;
- ` + "`userCodeException`" + `: the function or a before function threw;
- ` + "`invalidReturnType`" + `: the return value does not fit the function kind;
- ` + "`killedExecution`" + `: the execution was killed;
- ` + "`sandboxError`" + `: an internal fault.

A ` + "`timeout`" + ` outcome means the budget ran out; raise ` + "`timeoutMs`" + ` up to ` + "`max_timeout_ms`" + `.`,
		},
	}
)

// Values returns every catalog entry ordered by id.
func Values() []*Issue {
	return slices.SortedFunc(maps.Values(issues), func(a, b *Issue) int {
		return cmp.Compare(a.id, b.id)
	})
}

// Get returns the entry for id, or nil.
func Get(id Id) *Issue {
	return issues[id]
}
