// Package hub is the relay between one automation controller and any number
// of editor agents connected over WebSocket.
//
// Commands are broadcast to every live connection. Each connection has its
// own bounded send buffer drained by a dedicated write loop, so a slow agent
// can never hold up the others: when its buffer is full it is removed as if
// it had disconnected.
//
// Snapshot requests are correlated by request id through a
// correlator.Correlator; the first current_code reply wins and later replies
// are discarded.
package hub
