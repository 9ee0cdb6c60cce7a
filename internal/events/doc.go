// Package events fans hub lifecycle events (accept, close, ready, results)
// out to in-process subscribers such as the ledger recorder.
package events
