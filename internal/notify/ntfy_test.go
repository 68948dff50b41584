package notify

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tubone24/switchbot-hub/internal/model"
)

func TestNtfySendTopicAndHeaders(t *testing.T) {
	var gotPath, gotTitle, gotPriority, gotTags string
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotTitle = r.Header.Get("Title")
		gotPriority = r.Header.Get("Priority")
		gotTags = r.Header.Get("Tags")
		gotBody, _ = io.ReadAll(r.Body)
	}))
	defer server.Close()

	provider := NewNtfy(server.URL, "home")
	err := provider.Send(context.Background(), model.Notification{
		Channel:   model.ChannelAlert,
		AlertType: model.AlertWind,
		Severity:  model.SeverityDanger,
		Title:     "Dangerous wind",
		Message:   "Dangerous wind: 80.0 km/h",
	})
	require.NoError(t, err)

	assert.Equal(t, "/home-outdoor-alert", gotPath)
	assert.Equal(t, "Dangerous wind", gotTitle)
	assert.Equal(t, "urgent", gotPriority)
	assert.Equal(t, "dash", gotTags)
	assert.Equal(t, "Dangerous wind: 80.0 km/h", string(gotBody))
}

func TestNtfySendServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	provider := NewNtfy(server.URL, "home")
	err := provider.Send(context.Background(), model.Notification{Channel: "x", Title: "t"})
	assert.Error(t, err)
}
