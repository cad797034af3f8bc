// Package chat implements the in-process fan-out core: per-connection
// outbound queues, the presence and room registries, ephemeral typing
// state, and the router that dispatches inbound events to room
// audiences. The package holds no transport or storage concerns; the
// websocket gateway feeds it decoded events and drains its queues.
package chat
