package immich

import (
	"context"

	"github.com/dustin/go-humanize"
)

// ClientDiagnostics holds the information from the call to [Diagnostics].
type ClientDiagnostics struct {
	InMemoryConfigured   bool   `json:"in_memory_configured"`
	RemoteConfigured     bool   `json:"remote_configured"`
	RemoteConnectedError string `json:"remote_connected_error,omitempty"`
	CachedItems          int    `json:"cached_items"`
	CachedBytes          string `json:"cached_bytes"`
}

// Diagnostics reports how the client is configured, how much content is
// cached and checks if the remote is connected.
func (c *Client) Diagnostics(ctx context.Context) ClientDiagnostics {
	_, noopCache := c.cache.(noopClient)
	_, noopRemote := c.remote.(noopClient)
	items, bytes := c.cache.Usage()
	diagnostics := ClientDiagnostics{
		InMemoryConfigured: !noopCache,
		RemoteConfigured:   !noopRemote,
		CachedItems:        items,
		CachedBytes:        humanize.Bytes(bytes),
	}
	if err := c.remote.IsConnected(ctx); err != nil {
		diagnostics.RemoteConnectedError = err.Error()
	}
	return diagnostics
}
