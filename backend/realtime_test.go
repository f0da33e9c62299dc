package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/myrightwindow/rightwindow/config"
	"github.com/myrightwindow/rightwindow/models"
)

// fakeRealtime accepts one channel join and then pushes the given change frames.
func fakeRealtime(t *testing.T, joinStatus string, changes ...map[string]interface{}) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/realtime/v1/websocket", r.URL.Path)
		assert.Equal(t, "anon-key", r.URL.Query().Get("apikey"))
		assert.Equal(t, "1.0.0", r.URL.Query().Get("vsn"))
		assert.Equal(t, "10", r.URL.Query().Get("eventsPerSecond"))

		conn, err := upgrader.Upgrade(w, r, nil)
		if !assert.NoError(t, err) {
			return
		}
		defer conn.Close()

		var join phoenixMessage
		if err := conn.ReadJSON(&join); err != nil {
			return
		}
		assert.Equal(t, "phx_join", join.Event)
		assert.Equal(t, "realtime:public:blogs", join.Topic)
		var joinPayload map[string]interface{}
		_ = json.Unmarshal(join.Payload, &joinPayload)
		assert.Equal(t, "user-token", joinPayload["access_token"])

		reply, _ := json.Marshal(map[string]interface{}{"status": joinStatus, "response": map[string]string{"reason": "denied"}})
		_ = conn.WriteJSON(phoenixMessage{Topic: join.Topic, Event: "phx_reply", Payload: reply, Ref: join.Ref})
		if joinStatus != "ok" {
			return
		}

		for _, change := range changes {
			payload, _ := json.Marshal(map[string]interface{}{"data": change})
			_ = conn.WriteJSON(phoenixMessage{Topic: join.Topic, Event: "postgres_changes", Payload: payload})
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func realtimeClient(srv *httptest.Server) *Supabase {
	return NewSupabase(config.AppConfig{
		SupabaseURL:             srv.URL,
		SupabaseAnonKey:         "anon-key",
		PostsTable:              "blogs",
		RealtimeEventsPerSecond: 10,
	})
}

func TestRealtimeDeliversChanges(t *testing.T) {
	srv := fakeRealtime(t, "ok",
		map[string]interface{}{
			"type":             "UPDATE",
			"table":            "blogs",
			"record":           map[string]interface{}{"id": "p-1", "published": true},
			"commit_timestamp": "2024-05-01T12:00:00Z",
		},
		map[string]interface{}{
			"type":       "DELETE",
			"table":      "blogs",
			"old_record": map[string]interface{}{"id": "p-2"},
		},
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sub, err := realtimeClient(srv).Subscribe(ctx, &models.Session{AccessToken: "user-token"}, "blogs")
	require.NoError(t, err)

	var got []ChangeEvent
	for len(got) < 2 {
		select {
		case ev := <-sub.Events():
			got = append(got, ev)
		case <-ctx.Done():
			t.Fatal("timed out waiting for change events")
		}
	}
	assert.Equal(t, ChangeUpdate, got[0].Type)
	assert.Equal(t, "p-1", got[0].RecordID)
	assert.Equal(t, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), got[0].At.UTC())
	assert.Equal(t, ChangeDelete, got[1].Type)
	assert.Equal(t, "p-2", got[1].RecordID)

	require.NoError(t, sub.Unsubscribe())
	_, open := <-sub.Events()
	assert.False(t, open, "events channel must close after unsubscribe")
	assert.NoError(t, sub.Unsubscribe())
}

func TestRealtimeJoinRejected(t *testing.T) {
	srv := fakeRealtime(t, "error")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := realtimeClient(srv).Subscribe(ctx, &models.Session{AccessToken: "user-token"}, "blogs")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "denied")
}

func TestRealtimeURL(t *testing.T) {
	u, err := realtimeURL(realtimeOptions{baseURL: "https://abc.supabase.co", apiKey: "k", eventsPerSecond: 10})
	require.NoError(t, err)
	assert.Equal(t, "wss://abc.supabase.co/realtime/v1/websocket?apikey=k&eventsPerSecond=10&vsn=1.0.0", u)
}
