package notifications

import (
	"context"
	"time"

	"github.com/cabinetmed/cabinet-portal/internal/upstream"
	"github.com/cabinetmed/cabinet-portal/pkg/logging"
)

// SourceFactory builds a notification source bound to one session's
// credential. The returned function runs until its context is cancelled,
// delivering notifications as they appear.
type SourceFactory func(cred upstream.Credential, deliver func(Notification)) func(ctx context.Context)

// PollSource builds sources that poll the backend feed.
func PollSource(fetch Fetcher, interval time.Duration, backoffAfter int, backoffInterval time.Duration, logger *logging.Logger) SourceFactory {
	return func(cred upstream.Credential, deliver func(Notification)) func(ctx context.Context) {
		seen := make(map[int64]struct{})
		sink := func(batch []Notification) {
			for _, n := range batch {
				if _, ok := seen[n.ID]; ok {
					continue
				}
				seen[n.ID] = struct{}{}
				deliver(n)
			}
		}
		poller := NewPoller(fetch, cred, sink, logger).
			WithInterval(interval).
			WithBackoff(backoffAfter, backoffInterval)
		return poller.Run
	}
}

// StreamSource builds sources that ride the backend websocket feed.
func StreamSource(url string, logger *logging.Logger) SourceFactory {
	return func(cred upstream.Credential, deliver func(Notification)) func(ctx context.Context) {
		stream := NewStream(url, cred, deliver, logger)
		return func(ctx context.Context) {
			if err := stream.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Component("notify-stream").Warn("stream source stopped", "error", err)
			}
		}
	}
}
