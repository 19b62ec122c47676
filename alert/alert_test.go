package alert

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	iface "PotholeDetect/interface"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleDetections() []iface.Detection {
	return []iface.Detection{
		{X: 0.1, Y: 0.5, W: 0.2, H: 0.2, Conf: 0.9},
		{X: 0.6, Y: 0.6, W: 0.1, H: 0.1, Conf: 0.7},
	}
}

func TestNotifierDisabledWithoutURL(t *testing.T) {
	n := NewNotifier("", 0)
	assert.False(t, n.Enabled())
	assert.False(t, n.Notify("cam-1", sampleDetections()))
}

func TestNotifyIgnoresEmptyDetections(t *testing.T) {
	n := NewNotifier("http://localhost:1/hook", 0)
	assert.True(t, n.Enabled())
	assert.False(t, n.Notify("cam-1", nil))
}

func TestNotifyDeliversEvent(t *testing.T) {
	received := make(chan Event, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ev Event
		require.NoError(t, json.NewDecoder(r.Body).Decode(&ev))
		received <- ev
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewNotifier(srv.URL, 0)
	assert.True(t, n.Notify("cam-1", sampleDetections()))

	select {
	case ev := <-received:
		assert.Equal(t, "cam-1", ev.Source)
		assert.Len(t, ev.Detections, 2)
		assert.InDelta(t, 0.8, ev.AvgConfidence, 1e-9)
		assert.NotZero(t, ev.Timestamp)
	case <-time.After(2 * time.Second):
		t.Fatal("alert never reached the webhook")
	}
}

func TestNotifyCooldownGatesBursts(t *testing.T) {
	var hits int
	done := make(chan struct{}, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		done <- struct{}{}
	}))
	defer srv.Close()

	n := NewNotifier(srv.URL, 200*time.Millisecond)

	// A burst of pothole frames inside one cooldown window sends one alert.
	assert.True(t, n.Notify("cam-1", sampleDetections()))
	assert.False(t, n.Notify("cam-1", sampleDetections()))
	assert.False(t, n.Notify("cam-1", sampleDetections()))
	<-done

	time.Sleep(250 * time.Millisecond)
	assert.True(t, n.Notify("cam-1", sampleDetections()))
	<-done

	assert.Equal(t, 2, hits)
}

func TestNotifierSurvivesFailingEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := NewNotifier(srv.URL, 0)
	assert.True(t, n.Notify("cam-1", sampleDetections()))
	// The failure is logged on the delivery goroutine; the caller is not
	// affected and the cooldown still applies.
	assert.False(t, n.Notify("cam-1", sampleDetections()))
}
