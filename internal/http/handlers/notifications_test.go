package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cabinetmed/cabinet-portal/internal/auth"
	"github.com/cabinetmed/cabinet-portal/internal/http/middleware"
	"github.com/cabinetmed/cabinet-portal/internal/notifications"
	"github.com/cabinetmed/cabinet-portal/internal/upstream"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestPushSharesOneSourceAcrossTabs(t *testing.T) {
	var starts, stops atomic.Int32
	source := func(cred upstream.Credential, deliver func(notifications.Notification)) func(context.Context) {
		return func(ctx context.Context) {
			starts.Add(1)
			<-ctx.Done()
			stops.Add(1)
		}
	}

	hub := notifications.NewHub(nil)
	h := NewNotificationsHandler(auth.NewService(nil, nil, nil), nil, hub, source, nil)

	sess := &auth.Session{ID: "sess-1"}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.Push(w, r.WithContext(middleware.WithSession(r.Context(), sess)))
	}))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	first, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial first tab: %v", err)
	}
	second, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial second tab: %v", err)
	}

	waitFor(t, "the source to start", func() bool { return starts.Load() == 1 })
	time.Sleep(20 * time.Millisecond)
	if got := starts.Load(); got != 1 {
		t.Fatalf("a second tab must not start another source, got %d", got)
	}

	first.Close()
	time.Sleep(20 * time.Millisecond)
	if stops.Load() != 0 {
		t.Fatal("source must keep running while a tab is still open")
	}

	second.Close()
	waitFor(t, "the source to stop with the last tab", func() bool { return stops.Load() == 1 })
}
