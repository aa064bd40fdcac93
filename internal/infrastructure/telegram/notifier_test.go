package telegram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"IssueAssembler/internal/ports"
)

func TestNotifyPostsFormattedAlert(t *testing.T) {
	t.Parallel()
	var path, chat, text string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		path = r.URL.Path
		chat = r.PostForm.Get("chat_id")
		text = r.PostForm.Get("text")
	}))
	t.Cleanup(srv.Close)

	n := NewNotifier("token", "42")
	n.baseURL = srv.URL
	err := n.Notify(context.Background(), ports.Alert{
		IssueID:       "i1",
		PublicationID: "daily",
		State:         "fact_checking[1]",
		Message:       "timeout",
		At:            time.Date(2025, 3, 14, 6, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, "/bottoken/sendMessage", path)
	assert.Equal(t, "42", chat)
	assert.Contains(t, text, "step: fact_checking[1]")
	assert.Contains(t, text, "at: 2025-03-14T06:00:00Z")
}

func TestNotifyRequiresConfiguration(t *testing.T) {
	t.Parallel()
	require.Error(t, NewNotifier("", "").Notify(context.Background(), ports.Alert{}))
}
