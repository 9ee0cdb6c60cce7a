// ABOUTME: Ledger recorder that persists hub events into the store
// ABOUTME: Also keeps the gRPC health status in step with agent presence

package gateway

import (
	"context"
	"encoding/json"
	"time"

	"github.com/2389/strudel-bridge/internal/events"
	"github.com/2389/strudel-bridge/internal/store"
)

const recordTimeout = 2 * time.Second

// runRecorder consumes feed until it is closed.
func (g *Gateway) runRecorder(feed <-chan events.Event) {
	defer close(g.recorderDone)
	for ev := range feed {
		g.record(ev)
	}
}

func (g *Gateway) record(ev events.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	var err error
	switch ev.Kind {
	case events.KindConnected:
		err = g.store.RecordConnection(ctx, &store.ConnectionEvent{
			ID: ev.ID, ConnID: ev.ConnID, Kind: store.ConnectionOpened, At: ev.At,
		})
		g.updateHealth()

	case events.KindDisconnected:
		err = g.store.RecordConnection(ctx, &store.ConnectionEvent{
			ID: ev.ID, ConnID: ev.ConnID, Kind: store.ConnectionClosed, At: ev.At,
		})
		g.updateHealth()

	case events.KindReady:
		var detail []byte
		if ev.Ready != nil {
			detail, err = json.Marshal(ev.Ready)
			if err != nil {
				g.logger.Warn("failed to encode ready metadata", "conn_id", ev.ConnID, "error", err)
			}
		}
		err = g.store.RecordConnection(ctx, &store.ConnectionEvent{
			ID: ev.ID, ConnID: ev.ConnID, Kind: store.ConnectionReady, Detail: string(detail), At: ev.At,
		})

	case events.KindResult:
		if ev.Result == nil {
			return
		}
		err = g.store.RecordResult(ctx, &store.ResultRecord{
			ID:         ev.ID,
			ConnID:     ev.ConnID,
			Success:    ev.Result.Success,
			Action:     ev.Result.Action,
			Error:      ev.Result.Error,
			Timestamp:  ev.Result.Timestamp,
			RecordedAt: ev.At,
		})
	}

	if err != nil {
		g.logger.Error("failed to record hub event", "kind", ev.Kind, "conn_id", ev.ConnID, "error", err)
	}
}
