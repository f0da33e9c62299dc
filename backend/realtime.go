package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/myrightwindow/rightwindow/utils"
)

const (
	realtimeVSN       = "1.0.0"
	realtimeHeartbeat = 25 * time.Second
	realtimeJoinWait  = 10 * time.Second
	realtimeWriteWait = 5 * time.Second
	realtimeBuffer    = 16
)

// phoenixMessage is one frame of the Phoenix channel protocol spoken by the realtime server.
type phoenixMessage struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     *string         `json:"ref"`
}

type joinReply struct {
	Status   string `json:"status"`
	Response struct {
		Reason string `json:"reason"`
	} `json:"response"`
}

type postgresChange struct {
	Data struct {
		Type            string                 `json:"type"`
		Table           string                 `json:"table"`
		Record          map[string]interface{} `json:"record"`
		OldRecord       map[string]interface{} `json:"old_record"`
		CommitTimestamp string                 `json:"commit_timestamp"`
	} `json:"data"`
}

type realtimeOptions struct {
	baseURL         string
	apiKey          string
	accessToken     string
	table           string
	eventsPerSecond int
	heartbeat       time.Duration
	dialer          *websocket.Dialer
}

type realtimeSubscription struct {
	conn      *websocket.Conn
	topic     string
	table     string
	events    chan ChangeEvent
	done      chan struct{}
	closeOnce sync.Once
	writeMu   sync.Mutex
	wg        sync.WaitGroup
	ref       atomic.Int64
}

func realtimeURL(o realtimeOptions) (string, error) {
	u, err := url.Parse(o.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse realtime base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/realtime/v1/websocket"
	q := url.Values{"apikey": {o.apiKey}, "vsn": {realtimeVSN}}
	if o.eventsPerSecond > 0 {
		q.Set("eventsPerSecond", strconv.Itoa(o.eventsPerSecond))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// dialRealtime connects, joins the table's channel and starts the read and heartbeat loops.
// ctx bounds the handshake only.
func dialRealtime(ctx context.Context, o realtimeOptions) (*realtimeSubscription, error) {
	endpoint, err := realtimeURL(o)
	if err != nil {
		return nil, err
	}
	dialer := o.dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dial realtime: %w", err)
	}

	s := &realtimeSubscription{
		conn:   conn,
		topic:  "realtime:public:" + o.table,
		table:  o.table,
		events: make(chan ChangeEvent, realtimeBuffer),
		done:   make(chan struct{}),
	}
	if err := s.join(ctx, o); err != nil {
		_ = conn.Close()
		return nil, err
	}

	heartbeat := o.heartbeat
	if heartbeat <= 0 {
		heartbeat = realtimeHeartbeat
	}
	s.wg.Add(2)
	go s.readLoop()
	go s.heartbeatLoop(heartbeat)
	utils.Sugar.Infow("realtime channel joined", "topic", s.topic)
	return s, nil
}

func (s *realtimeSubscription) nextRef() string {
	return strconv.FormatInt(s.ref.Add(1), 10)
}

func (s *realtimeSubscription) send(topic, event string, payload interface{}) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	ref := s.nextRef()
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(realtimeWriteWait))
	return ref, s.conn.WriteJSON(phoenixMessage{Topic: topic, Event: event, Payload: raw, Ref: &ref})
}

func (s *realtimeSubscription) join(ctx context.Context, o realtimeOptions) error {
	payload := map[string]interface{}{
		"config": map[string]interface{}{
			"broadcast": map[string]bool{"ack": false, "self": false},
			"presence":  map[string]string{"key": ""},
			"postgres_changes": []map[string]string{
				{"event": "*", "schema": "public", "table": o.table},
			},
		},
	}
	if o.accessToken != "" {
		payload["access_token"] = o.accessToken
	}
	ref, err := s.send(s.topic, "phx_join", payload)
	if err != nil {
		return fmt.Errorf("send realtime join: %w", err)
	}

	deadline := time.Now().Add(realtimeJoinWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = s.conn.SetReadDeadline(deadline)
	defer s.conn.SetReadDeadline(time.Time{})

	for {
		var msg phoenixMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("await realtime join reply: %w", err)
		}
		if msg.Event != "phx_reply" || msg.Ref == nil || *msg.Ref != ref {
			continue
		}
		var reply joinReply
		if err := json.Unmarshal(msg.Payload, &reply); err != nil {
			return fmt.Errorf("decode realtime join reply: %w", err)
		}
		if reply.Status != "ok" {
			return fmt.Errorf("realtime join rejected: %s", reply.Response.Reason)
		}
		return nil
	}
}

func (s *realtimeSubscription) readLoop() {
	defer s.wg.Done()
	defer close(s.events)
	for {
		var msg phoenixMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			select {
			case <-s.done:
			default:
				utils.Sugar.Warnw("realtime connection lost", "topic", s.topic, "error", err)
			}
			return
		}
		if msg.Topic != s.topic {
			continue
		}
		switch msg.Event {
		case "postgres_changes":
			ev, ok := s.decodeChange(msg.Payload)
			if !ok {
				continue
			}
			select {
			case s.events <- ev:
			case <-s.done:
				return
			default:
				// a refresh is already pending; consumers re-fetch the full collection
			}
		case "phx_error", "phx_close":
			utils.Sugar.Warnw("realtime channel closed by server", "topic", s.topic, "event", msg.Event)
			return
		}
	}
}

func (s *realtimeSubscription) decodeChange(raw json.RawMessage) (ChangeEvent, bool) {
	var pc postgresChange
	if err := json.Unmarshal(raw, &pc); err != nil {
		return ChangeEvent{}, false
	}
	ev := ChangeEvent{Table: pc.Data.Table, Type: ChangeType(pc.Data.Type), At: time.Now()}
	if ev.Table == "" {
		ev.Table = s.table
	}
	if t, err := time.Parse(time.RFC3339Nano, pc.Data.CommitTimestamp); err == nil {
		ev.At = t
	}
	for _, rec := range []map[string]interface{}{pc.Data.Record, pc.Data.OldRecord} {
		if id, ok := rec["id"]; ok && id != nil {
			ev.RecordID = fmt.Sprint(id)
			break
		}
	}
	return ev, true
}

func (s *realtimeSubscription) heartbeatLoop(every time.Duration) {
	defer s.wg.Done()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if _, err := s.send("phoenix", "heartbeat", struct{}{}); err != nil {
				utils.Sugar.Debugw("realtime heartbeat failed", "error", err)
				return
			}
		}
	}
}

func (s *realtimeSubscription) Events() <-chan ChangeEvent {
	return s.events
}

// Unsubscribe leaves the channel, closes the socket and waits for both loops to exit.
func (s *realtimeSubscription) Unsubscribe() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		_, _ = s.send(s.topic, "phx_leave", struct{}{})
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(realtimeWriteWait))
		s.writeMu.Unlock()
		err = s.conn.Close()
		s.wg.Wait()
		if errors.Is(err, websocket.ErrCloseSent) {
			err = nil
		}
	})
	return err
}

// idleSubscription never fires; it stands in when realtime is unavailable.
type idleSubscription struct {
	events chan ChangeEvent
	once   sync.Once
}

func newIdleSubscription() *idleSubscription {
	return &idleSubscription{events: make(chan ChangeEvent)}
}

func (s *idleSubscription) Events() <-chan ChangeEvent { return s.events }

func (s *idleSubscription) Unsubscribe() error {
	s.once.Do(func() { close(s.events) })
	return nil
}
