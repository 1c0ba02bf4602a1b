package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/saltfish/freqsweep/internal/domain"
	"github.com/saltfish/freqsweep/internal/events"
	"github.com/saltfish/freqsweep/internal/parser"
	"github.com/saltfish/freqsweep/internal/pipeline"
)

func newTestClient(hub *Hub) *Client {
	return &Client{
		hub:           hub,
		send:          make(chan []byte, sendBufferSize),
		subscriptions: make(map[string]bool),
		logger:        zap.NewNop(),
	}
}

func startHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(zap.NewNop())
	go hub.Run()
	t.Cleanup(hub.Shutdown)
	return hub
}

func receive(t *testing.T, client *Client) WSMessage {
	t.Helper()
	select {
	case raw := <-client.send:
		var msg WSMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			t.Fatalf("Failed to unmarshal message: %v", err)
		}
		return msg
	case <-time.After(time.Second):
		t.Fatal("Timeout waiting for message")
		return WSMessage{}
	}
}

func expectNone(t *testing.T, client *Client) {
	t.Helper()
	select {
	case raw := <-client.send:
		t.Errorf("Unexpected message: %s", raw)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_ClientRegistration(t *testing.T) {
	hub := startHub(t)
	client := newTestClient(hub)

	hub.register <- client
	time.Sleep(10 * time.Millisecond)

	if count := hub.GetClientCount(); count != 1 {
		t.Errorf("Expected 1 client, got %d", count)
	}

	hub.unregister <- client
	time.Sleep(10 * time.Millisecond)

	if count := hub.GetClientCount(); count != 0 {
		t.Errorf("Expected 0 clients, got %d", count)
	}
}

func TestHub_BroadcastEvent(t *testing.T) {
	hub := startHub(t)
	fixed := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	hub.now = func() time.Time { return fixed }

	client := newTestClient(hub)
	hub.register <- client
	time.Sleep(10 * time.Millisecond)

	hub.BroadcastEvent(events.RoutingKeyUnitFinished, map[string]interface{}{"unit": "GodStra_4h"})

	msg := receive(t, client)
	if msg.Type != events.RoutingKeyUnitFinished {
		t.Errorf("Expected type %s, got %s", events.RoutingKeyUnitFinished, msg.Type)
	}
	if !msg.Timestamp.Equal(fixed) {
		t.Errorf("Expected timestamp %v, got %v", fixed, msg.Timestamp)
	}
	data, ok := msg.Data.(map[string]interface{})
	if !ok || data["unit"] != "GodStra_4h" {
		t.Errorf("Unexpected data: %v", msg.Data)
	}
}

func TestClient_Subscriptions(t *testing.T) {
	hub := startHub(t)
	client := newTestClient(hub)
	hub.register <- client
	time.Sleep(10 * time.Millisecond)

	client.handleMessage([]byte(`{"action":"subscribe","event_types":["unit.finished"]}`))

	hub.BroadcastEvent(events.RoutingKeyUnitStarted, nil)
	expectNone(t, client)

	hub.BroadcastEvent(events.RoutingKeyUnitFinished, nil)
	if msg := receive(t, client); msg.Type != events.RoutingKeyUnitFinished {
		t.Errorf("Expected unit.finished, got %s", msg.Type)
	}

	client.handleMessage([]byte(`{"action":"unsubscribe","event_types":["unit.finished"]}`))
	if !client.isSubscribed(events.RoutingKeyUnitStarted) {
		t.Error("Client without subscriptions should receive every event")
	}
}

func TestClient_NoSubscriptionReceivesAll(t *testing.T) {
	client := newTestClient(nil)

	for _, key := range events.AllRoutingKeys {
		if !client.isSubscribed(key) {
			t.Errorf("Expected subscription to %s", key)
		}
	}
	if !client.isSubscribed(EventTypeStageProgress) {
		t.Error("Expected subscription to stage progress")
	}
}

func TestClient_IgnoresMalformedMessages(t *testing.T) {
	client := newTestClient(nil)

	client.handleMessage([]byte("not json"))
	client.handleMessage([]byte(`{"action":"shout","event_types":["unit.finished"]}`))

	if len(client.subscriptions) != 0 {
		t.Errorf("Expected no subscriptions, got %v", client.subscriptions)
	}
}

func TestHub_Relay(t *testing.T) {
	hub := startHub(t)
	client := newTestClient(hub)
	hub.register <- client
	time.Sleep(10 * time.Millisecond)

	body := []byte(`{"unit":"GodStra_4h","state":"validated"}`)
	if err := hub.Relay(events.RoutingKeyUnitFinished, body); err != nil {
		t.Fatalf("Relay failed: %v", err)
	}

	msg := receive(t, client)
	if msg.Type != events.RoutingKeyUnitFinished {
		t.Errorf("Expected unit.finished, got %s", msg.Type)
	}
	data, _ := msg.Data.(map[string]interface{})
	if data["state"] != "validated" {
		t.Errorf("Expected relayed body, got %v", msg.Data)
	}

	if err := hub.Relay(events.RoutingKeyUnitFinished, []byte("{broken")); err == nil {
		t.Error("Expected error for invalid JSON")
	}
}

func TestHub_ObserverBroadcasts(t *testing.T) {
	hub := startHub(t)
	client := newTestClient(hub)
	hub.register <- client
	time.Sleep(10 * time.Millisecond)

	batchID := uuid.New()
	unit := domain.ExperimentUnit{Strategy: "GodStra", Timeframe: "4h"}
	var observer pipeline.Observer = hub

	observer.BatchStarted(batchID, []domain.ExperimentUnit{unit})
	observer.UnitStarted(unit, 1, 1)
	observer.StageProgress(unit, domain.StageOptimize, parser.Progress{Kind: parser.ProgressEpoch, Epoch: 10, Total: 100})
	observer.StageFinished(unit, &domain.StageOutcome{Stage: domain.StageOptimize, Success: true})

	outcome := domain.NewUnitOutcome(unit)
	outcome.State = domain.UnitStateValidated
	observer.UnitFinished(outcome, pipeline.Progress{BatchID: batchID, Done: 1, Total: 1})

	result := domain.NewBatchResult(time.Now())
	result.ID = batchID
	observer.BatchFinished(result)

	want := []string{
		events.RoutingKeyBatchStarted,
		events.RoutingKeyUnitStarted,
		EventTypeStageProgress,
		events.RoutingKeyStageFinished,
		events.RoutingKeyUnitFinished,
		events.RoutingKeyBatchFinished,
	}
	for _, w := range want {
		msg := receive(t, client)
		if msg.Type != w {
			t.Fatalf("Expected %s, got %s", w, msg.Type)
		}
		data, _ := msg.Data.(map[string]interface{})
		if w == EventTypeStageProgress {
			if data["unit"] != "GodStra_4h" {
				t.Errorf("Unexpected progress payload: %v", data)
			}
			continue
		}
		if data["batch_id"] != batchID.String() {
			t.Errorf("%s: expected batch_id %s, got %v", w, batchID, data["batch_id"])
		}
	}
}

func TestHub_ServeWS(t *testing.T) {
	hub := startHub(t)
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(time.Second)
	for hub.GetClientCount() != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if count := hub.GetClientCount(); count != 1 {
		t.Fatalf("Expected 1 client, got %d", count)
	}

	hub.BroadcastEvent(events.RoutingKeyBatchFinished, map[string]int{"total": 3})

	conn.SetReadDeadline(time.Now().Add(time.Second))
	var msg WSMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}
	if msg.Type != events.RoutingKeyBatchFinished {
		t.Errorf("Expected batch.finished, got %s", msg.Type)
	}
}
