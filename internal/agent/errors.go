package agent

import "errors"

// ErrAdapterNotFound is returned when neither the requested agent id nor a
// registry default resolves to an adapter.
var ErrAdapterNotFound = errors.New("agent adapter not found")

// ErrAgentUnavailable is returned when an adapter resolves but its underlying
// CLI is not invokable. No retry happens at this layer.
var ErrAgentUnavailable = errors.New("agent unavailable")
