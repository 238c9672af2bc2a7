package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ratio-governance/internal/governance"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifyPostsAlertJSON(t *testing.T) {
	var got governance.Alert
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, "")
	alert := governance.Alert{
		Title:     "Quorum reached",
		Message:   "1100 voting power",
		Type:      governance.AlertInfo,
		Timestamp: time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC),
	}

	require.NoError(t, n.Notify(context.Background(), ChannelDashboard, alert))
	assert.Equal(t, alert, got)
}

func TestNotifyUnconfiguredChannelIsNoop(t *testing.T) {
	n := NewWebhookNotifier("", "")
	err := n.Notify(context.Background(), ChannelAgent, governance.Alert{Title: "x"})
	assert.NoError(t, err)
}

func TestNotifyRejectedStatusIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := NewWebhookNotifier("", srv.URL)
	err := n.Notify(context.Background(), ChannelAgent, governance.Alert{Title: "x"})
	assert.Error(t, err)
}
