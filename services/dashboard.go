package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/myrightwindow/rightwindow/backend"
	"github.com/myrightwindow/rightwindow/models"
	"github.com/myrightwindow/rightwindow/utils"
)

var (
	// ErrUnknownPost is returned when a dashboard action names a post it is not showing.
	ErrUnknownPost = errors.New("post not found")
	// ErrFeedLost is pushed while the change feed is down and being re-established.
	ErrFeedLost = errors.New("live updates interrupted, reconnecting")
)

const (
	refreshTimeout = 15 * time.Second

	feedRetryMin = 500 * time.Millisecond
	feedRetryMax = 30 * time.Second
)

// DashboardUpdate is a snapshot pushed after every refresh. Err is set when the refresh
// failed or the change feed dropped; Posts then holds the previous collection.
type DashboardUpdate struct {
	Posts []models.Post `json:"posts"`
	Stats PostStats     `json:"stats"`
	At    time.Time     `json:"at"`
	Err   error         `json:"-"`
}

// SessionSource returns the caller's current session, with renewed tokens when the
// session manager refreshed them.
type SessionSource func(ctx context.Context) (*models.Session, error)

// Dashboard holds the admin's post collection and keeps it in step with the backend:
// every change notification triggers a full re-fetch that replaces the collection.
// A dropped change feed is re-established with backoff, followed by one full re-fetch.
type Dashboard struct {
	posts *PostService

	sessMu sync.RWMutex
	sess   *models.Session
	source SessionSource

	subMu sync.Mutex
	sub   backend.Subscription

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.RWMutex
	items []models.Post

	sendMu  sync.Mutex
	closed  bool
	updates chan DashboardUpdate

	closeOnce sync.Once
}

// OpenDashboard loads the collection and subscribes to post changes. A failed subscription
// is logged and the dashboard keeps working without live updates. Close must be called.
func (s *PostService) OpenDashboard(ctx context.Context, sess *models.Session) (*Dashboard, error) {
	if sess == nil {
		return nil, ErrNoSession
	}
	posts, err := s.List(ctx, sess)
	if err != nil {
		return nil, err
	}

	dctx, cancel := context.WithCancel(context.Background())
	d := &Dashboard{
		posts:   s,
		sess:    sess,
		ctx:     dctx,
		cancel:  cancel,
		items:   posts,
		updates: make(chan DashboardUpdate, 1),
	}
	d.publish(DashboardUpdate{Posts: copyPosts(posts), Stats: ComputeStats(posts), At: s.now()})

	sub, err := s.client.Subscribe(ctx, sess, s.postsTable)
	if err != nil {
		utils.Sugar.Warnw("post change feed unavailable", "error", err)
		return d, nil
	}
	d.sub = sub
	d.wg.Add(1)
	go d.watch(sub)
	return d, nil
}

// FollowSession makes later backend calls use the session src returns, so a long-lived
// dashboard keeps working across token refreshes. Errors from src keep the last session.
func (d *Dashboard) FollowSession(src SessionSource) {
	d.sessMu.Lock()
	d.source = src
	d.sessMu.Unlock()
}

func (d *Dashboard) session(ctx context.Context) *models.Session {
	d.sessMu.RLock()
	src, sess := d.source, d.sess
	d.sessMu.RUnlock()
	if src == nil {
		return sess
	}
	fresh, err := src(ctx)
	if err != nil || fresh == nil {
		return sess
	}
	d.sessMu.Lock()
	d.sess = fresh
	d.sessMu.Unlock()
	return fresh
}

func (d *Dashboard) watch(sub backend.Subscription) {
	defer d.wg.Done()
	for {
		if !d.follow(sub) {
			return
		}
		_ = sub.Unsubscribe()
		d.subMu.Lock()
		d.sub = nil
		d.subMu.Unlock()

		utils.Sugar.Warnw("post change feed lost, resubscribing", "table", d.posts.postsTable)
		d.publish(DashboardUpdate{Posts: d.Posts(), Stats: d.Stats(), At: d.posts.now(), Err: ErrFeedLost})

		if sub = d.resubscribe(); sub == nil {
			return
		}
		utils.Sugar.Infow("post change feed restored", "table", d.posts.postsTable)
		_ = d.Refresh(d.ctx)
	}
}

// follow re-fetches on every change event. It returns true when the feed ends on its own
// and false once the dashboard is closed.
func (d *Dashboard) follow(sub backend.Subscription) bool {
	events := sub.Events()
	for {
		select {
		case <-d.ctx.Done():
			return false
		case ev, ok := <-events:
			if !ok {
				return d.ctx.Err() == nil
			}
			utils.Sugar.Debugw("post change received", "type", ev.Type, "post_id", ev.RecordID)
			_ = d.Refresh(d.ctx)
		}
	}
}

// resubscribe retries the change subscription with exponential backoff until it succeeds
// or the dashboard is closed, in which case it returns nil.
func (d *Dashboard) resubscribe() backend.Subscription {
	wait, limit := d.posts.feedRetryMin, d.posts.feedRetryMax
	if wait <= 0 {
		wait = feedRetryMin
	}
	if limit < wait {
		limit = wait
	}
	for {
		sub, err := d.posts.client.Subscribe(d.ctx, d.session(d.ctx), d.posts.postsTable)
		if err == nil {
			d.subMu.Lock()
			d.sub = sub
			d.subMu.Unlock()
			return sub
		}
		if d.ctx.Err() != nil {
			return nil
		}
		utils.Sugar.Warnw("post change feed resubscribe failed", "error", err, "retry_in", wait)

		timer := time.NewTimer(wait)
		select {
		case <-d.ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		if wait *= 2; wait > limit {
			wait = limit
		}
	}
}

// Refresh re-fetches every post and replaces the collection.
func (d *Dashboard) Refresh(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, refreshTimeout)
	defer cancel()
	posts, err := d.posts.List(ctx, d.session(ctx))
	if err != nil {
		if d.ctx.Err() == nil {
			utils.Sugar.Warnw("dashboard refresh failed", "error", err)
		}
		d.publish(DashboardUpdate{Posts: d.Posts(), Stats: d.Stats(), At: d.posts.now(), Err: err})
		return err
	}
	d.mu.Lock()
	d.items = posts
	d.mu.Unlock()
	d.publish(DashboardUpdate{Posts: copyPosts(posts), Stats: ComputeStats(posts), At: d.posts.now()})
	return nil
}

// publish keeps only the latest snapshot for a slow reader.
func (d *Dashboard) publish(u DashboardUpdate) {
	d.sendMu.Lock()
	defer d.sendMu.Unlock()
	if d.closed {
		return
	}
	select {
	case d.updates <- u:
	default:
		select {
		case <-d.updates:
		default:
		}
		d.updates <- u
	}
}

// Updates delivers the latest snapshot after each refresh. It is closed by Close.
func (d *Dashboard) Updates() <-chan DashboardUpdate {
	return d.updates
}

// Posts returns a copy of the current collection.
func (d *Dashboard) Posts() []models.Post {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return copyPosts(d.items)
}

// Stats summarises the current collection.
func (d *Dashboard) Stats() PostStats {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return ComputeStats(d.items)
}

func (d *Dashboard) find(id string) (models.Post, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, p := range d.items {
		if p.ID == id {
			return p, true
		}
	}
	return models.Post{}, false
}

// TogglePublish flips one post shown on the dashboard, then re-fetches.
func (d *Dashboard) TogglePublish(ctx context.Context, id string) (models.Post, error) {
	post, ok := d.find(id)
	if !ok {
		return models.Post{}, ErrUnknownPost
	}
	updated, err := d.posts.TogglePublish(ctx, d.session(ctx), post)
	if err != nil {
		return post, err
	}
	_ = d.Refresh(ctx)
	return updated, nil
}

// Delete removes one post shown on the dashboard after confirmation, then re-fetches.
func (d *Dashboard) Delete(ctx context.Context, id string, confirm Confirmer) error {
	post, ok := d.find(id)
	if !ok {
		return ErrUnknownPost
	}
	if err := d.posts.Delete(ctx, d.session(ctx), post, confirm); err != nil {
		if !errors.Is(err, ErrDeleteCancelled) {
			_ = d.Refresh(ctx)
		}
		return err
	}
	_ = d.Refresh(ctx)
	return nil
}

// Close releases the change subscription and stops the refresh loop.
func (d *Dashboard) Close() error {
	var err error
	d.closeOnce.Do(func() {
		d.cancel()
		d.wg.Wait()
		d.subMu.Lock()
		if d.sub != nil {
			err = d.sub.Unsubscribe()
			d.sub = nil
		}
		d.subMu.Unlock()
		d.sendMu.Lock()
		d.closed = true
		close(d.updates)
		d.sendMu.Unlock()
	})
	return err
}

func copyPosts(posts []models.Post) []models.Post {
	out := make([]models.Post, len(posts))
	copy(out, posts)
	return out
}
