package history

import (
	"context"
	"time"

	"github.com/yllada/tunnelbar/common"
	"github.com/yllada/tunnelbar/tunnel"
)

// StatusSource is implemented by *tunnel.Manager.
type StatusSource interface {
	ObserveStatus(fn func(tunnel.StatusChange)) *tunnel.Subscription
}

// Track records every status change reported by src until the returned
// subscription is cancelled. Write errors are logged.
func Track(src StatusSource, l *Log) *tunnel.Subscription {
	return src.ObserveStatus(func(c tunnel.StatusChange) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := l.Record(ctx, Event{
			TunnelID: c.Tunnel.ID(),
			Tunnel:   c.Tunnel.Name(),
			From:     c.From.String(),
			To:       c.To.String(),
		})
		if err != nil {
			common.LogWarn("History: %v", err)
		}
	})
}
