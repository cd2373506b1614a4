package notifications

import (
	"context"
	"testing"
	"time"
)

func TestPollSourceDeliversEachNotificationOnce(t *testing.T) {
	f := &scriptedFetcher{items: []Notification{
		{ID: 1, Message: "lab results ready"},
		{ID: 2, Message: "appointment confirmed"},
	}}
	factory := PollSource(f, 5*time.Millisecond, 3, time.Minute, nil)

	delivered := make(chan Notification, 16)
	run := factory(nil, func(n Notification) { delivered <- n })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		run(ctx)
		close(done)
	}()

	seen := map[int64]int{}
	deadline := time.After(2 * time.Second)
	for len(seen) < 2 {
		select {
		case n := <-delivered:
			seen[n.ID]++
		case <-deadline:
			t.Fatalf("timed out waiting for deliveries, got %v", seen)
		}
	}

	// Let a few more polls run; the unread set has not changed, so no
	// notification may be delivered twice.
	time.Sleep(30 * time.Millisecond)
	cancel()
	<-done
	close(delivered)
	for n := range delivered {
		seen[n.ID]++
	}
	for id, count := range seen {
		if count != 1 {
			t.Errorf("notification %d delivered %d times", id, count)
		}
	}
}
