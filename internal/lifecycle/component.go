// Package lifecycle starts and stops long-running components in dependency
// order.
package lifecycle

import "context"

// Component is a long-running part of the process such as the MCP
// transport, the metrics listener or a file watcher.
type Component interface {
	// Start brings the component up. It must not block once the component
	// is serving.
	Start(ctx context.Context) error

	// Stop shuts the component down within the deadline of ctx.
	Stop(ctx context.Context) error

	// Name is used in logs and errors. It must not be empty.
	Name() string
}
