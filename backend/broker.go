package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/myrightwindow/rightwindow/utils"
)

const brokerChannelPrefix = "realtime:changes:"

// Broker fans out row changes of the self-hosted backend. With redis every process
// sees every change; without it delivery stays in-process.
type Broker struct {
	rc *redis.Client

	mu   sync.Mutex
	subs map[string]map[*localSubscription]struct{}
}

// NewBroker returns a broker over rc, or an in-process broker when rc is nil.
func NewBroker(rc *redis.Client) *Broker {
	return &Broker{rc: rc, subs: map[string]map[*localSubscription]struct{}{}}
}

// Publish announces a change. Delivery is best effort and never blocks on slow consumers.
func (b *Broker) Publish(ctx context.Context, ev ChangeEvent) {
	if b.rc != nil {
		payload, err := json.Marshal(ev)
		if err == nil {
			if err = b.rc.Publish(ctx, brokerChannelPrefix+ev.Table, payload).Err(); err == nil {
				return
			}
		}
		utils.Sugar.Warnw("publish change via redis failed, delivering locally", "table", ev.Table, "error", err)
	}
	b.deliverLocal(ev)
}

func (b *Broker) deliverLocal(ev ChangeEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs[ev.Table] {
		select {
		case sub.events <- ev:
		default:
		}
	}
}

// Subscribe opens a change feed for table.
func (b *Broker) Subscribe(ctx context.Context, table string) (Subscription, error) {
	if b.rc != nil {
		return b.subscribeRedis(ctx, table)
	}
	sub := &localSubscription{broker: b, table: table, events: make(chan ChangeEvent, realtimeBuffer)}
	b.mu.Lock()
	if b.subs[table] == nil {
		b.subs[table] = map[*localSubscription]struct{}{}
	}
	b.subs[table][sub] = struct{}{}
	b.mu.Unlock()
	return sub, nil
}

type localSubscription struct {
	broker *Broker
	table  string
	events chan ChangeEvent
	once   sync.Once
}

func (s *localSubscription) Events() <-chan ChangeEvent { return s.events }

func (s *localSubscription) Unsubscribe() error {
	s.once.Do(func() {
		s.broker.mu.Lock()
		delete(s.broker.subs[s.table], s)
		close(s.events)
		s.broker.mu.Unlock()
	})
	return nil
}

type redisSubscription struct {
	ps     *redis.PubSub
	events chan ChangeEvent
	done   chan struct{}
	once   sync.Once
}

func (b *Broker) subscribeRedis(ctx context.Context, table string) (Subscription, error) {
	ps := b.rc.Subscribe(ctx, brokerChannelPrefix+table)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", table, err)
	}
	sub := &redisSubscription{ps: ps, events: make(chan ChangeEvent, realtimeBuffer), done: make(chan struct{})}
	go sub.forward()
	return sub, nil
}

func (s *redisSubscription) forward() {
	defer close(s.done)
	defer close(s.events)
	for msg := range s.ps.Channel() {
		var ev ChangeEvent
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			utils.Sugar.Debugw("dropping malformed change message", "channel", msg.Channel, "error", err)
			continue
		}
		select {
		case s.events <- ev:
		default:
		}
	}
}

func (s *redisSubscription) Events() <-chan ChangeEvent { return s.events }

func (s *redisSubscription) Unsubscribe() error {
	var err error
	s.once.Do(func() {
		err = s.ps.Close()
		<-s.done
	})
	return err
}
