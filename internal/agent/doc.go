// Package agent is the client half of the bridge: it runs beside the editor,
// keeps one WebSocket session with the relay hub and carries out its commands.
//
// # Lifecycle
//
// An Agent starts in StatusWaiting and polls its Driver until the editor is
// detected (StatusDetected) or the detection budget runs out (StatusTimeout).
// Either way it then connects:
//
//	waiting -> detected|timeout -> connecting -> connected
//	connected -> disconnected -> connecting (after backoff)
//	disconnected -> error (reconnect budget spent)
//
// The wait before reconnect attempt n is min(Base*n, Cap). A successful
// connect resets n. StatusError is left only through Reconnect.
//
// # Session
//
// Each connected period runs a reader, a writer and a health ticker under
// one errgroup. The first message of every session is browser_ready. Writes
// go through a buffered outbox, so handlers never block on the socket.
//
// # Commands
//
// execute_code and stop_all become tasks on a queue.Queue and run strictly
// one at a time. Snapshot requests are read-only and answered directly,
// keyed by their request id.
package agent
