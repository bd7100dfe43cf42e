package gateway_test

import (
	"context"
	"io"
	"log"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/smartstache/keychain/internal/gateway"
	"github.com/smartstache/keychain/internal/marketplace"
)

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/events"
}

func waitEvent(t *testing.T, events <-chan marketplace.Event) marketplace.Event {
	t.Helper()
	select {
	case ev, ok := <-events:
		if !ok {
			t.Fatal("event channel closed")
		}
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return marketplace.Event{}
}

func TestHub_BroadcastsToSubscribers(t *testing.T) {
	logger := log.New(io.Discard, "", 0)
	hub := gateway.NewHub(nil, logger)
	defer hub.Close()

	ts := httptest.NewServer(hub)
	defer ts.Close()

	ctx := context.Background()
	subA, err := gateway.NewSubscriber(ctx, "ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	if err != nil {
		t.Fatalf("NewSubscriber: %v", err)
	}
	defer subA.Close()
	subB, err := gateway.NewSubscriber(ctx, "ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	if err != nil {
		t.Fatalf("NewSubscriber: %v", err)
	}
	defer subB.Close()

	// Connection registration races with the first publish; give the
	// server a moment to upgrade both clients.
	time.Sleep(100 * time.Millisecond)

	hub.Publish(marketplace.Event{Type: marketplace.EventListingCreated, At: 42})

	for _, sub := range []*gateway.Subscriber{subA, subB} {
		ev := waitEvent(t, sub.Events())
		if ev.Type != marketplace.EventListingCreated || ev.At != 42 {
			t.Errorf("event = %+v, want listing.created at 42", ev)
		}
	}
}

func TestGateway_EventStream(t *testing.T) {
	e := newTestEnv(t, "events")

	logger := log.New(io.Discard, "", 0)
	hub := gateway.NewHub(nil, logger)
	defer hub.Close()

	// Rebuild the stack with the hub as the service's event sink and
	// mounted on the server.
	svc := marketplace.NewService(e.ledger, nil,
		marketplace.WithLogger(logger),
		marketplace.WithEventSink(hub),
	)
	ts := httptest.NewServer(gateway.NewServer(svc, hub, logger))
	defer ts.Close()
	client := gateway.NewClient(ts.URL)

	ctx := context.Background()
	sub, err := gateway.NewSubscriber(ctx, wsURL(ts), nil)
	if err != nil {
		t.Fatalf("NewSubscriber: %v", err)
	}
	defer sub.Close()
	time.Sleep(100 * time.Millisecond)

	if _, err := client.CreateDomain(ctx, gateway.CreateDomainRequest{
		Name:      "shop",
		Treasury:  e.treasury,
		Authority: e.admin,
	}); err != nil {
		t.Fatalf("CreateDomain: %v", err)
	}

	ev := waitEvent(t, sub.Events())
	if ev.Type != marketplace.EventDomainCreated {
		t.Errorf("event type = %q, want %q", ev.Type, marketplace.EventDomainCreated)
	}
}

func TestHub_CloseDisconnectsSubscribers(t *testing.T) {
	logger := log.New(io.Discard, "", 0)
	hub := gateway.NewHub(nil, logger)

	ts := httptest.NewServer(hub)
	defer ts.Close()

	sub, err := gateway.NewSubscriber(context.Background(), "ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	if err != nil {
		t.Fatalf("NewSubscriber: %v", err)
	}
	defer sub.Close()
	time.Sleep(100 * time.Millisecond)

	hub.Close()
	sub.Close()

	select {
	case _, ok := <-sub.Events():
		if ok {
			// Drain anything in flight; the channel must close soon after.
			for range sub.Events() {
			}
		}
	case <-time.After(5 * time.Second):
		t.Fatal("event channel not closed after hub shutdown")
	}
}
