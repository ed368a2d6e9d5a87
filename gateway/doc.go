// Package gateway invokes agents over their advertised protocols.
//
// The gateway holds a protocol-to-transport table fixed at construction.
// HTTP-style protocols POST one JSON request; the WebSocket transport
// exchanges a single request/reply frame pair per invocation. Protocols
// without a transport fail fast with an unsupported error, and offline
// agents are refused before any traffic is sent.
package gateway
