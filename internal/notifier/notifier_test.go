package notifier

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookNotifierDeliversEvent(t *testing.T) {
	var got Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, time.Second)
	err := n.Notify(Event{Type: EvtOrderConfirmed, OrderID: "ord-1", Summary: "confirmed via relay"})
	require.NoError(t, err)
	assert.Equal(t, EvtOrderConfirmed, got.Type)
	assert.Equal(t, "ord-1", got.OrderID)
	assert.False(t, got.Timestamp.IsZero())
}

func TestWebhookNotifierErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, time.Second)
	err := n.Notify(Event{Type: EvtOrderFailed, OrderID: "ord-2"})
	require.Error(t, err)
}

type failingNotifier struct{}

func (failingNotifier) Notify(Event) error { return errors.New("sink down") }

type countingNotifier struct{ n int }

func (c *countingNotifier) Notify(Event) error {
	c.n++
	return nil
}

func TestMultiDeliversToAllSinks(t *testing.T) {
	counter := &countingNotifier{}
	m := Multi{failingNotifier{}, counter}

	err := m.Notify(Event{Type: EvtOrderSubmitted, OrderID: "ord-3"})
	require.NoError(t, err, "delivery is best-effort")
	assert.Equal(t, 1, counter.n, "later sinks still receive the event")
}
