package services

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/myrightwindow/rightwindow/backend"
	"github.com/myrightwindow/rightwindow/models"
)

type mockClient struct {
	mock.Mock
}

var _ backend.Client = (*mockClient)(nil)

func (m *mockClient) Authenticate(ctx context.Context, email, password string) (*models.Session, error) {
	args := m.Called(ctx, email, password)
	sess, _ := args.Get(0).(*models.Session)
	return sess, args.Error(1)
}

func (m *mockClient) SignOut(ctx context.Context, sess *models.Session) error {
	return m.Called(ctx, sess).Error(0)
}

func (m *mockClient) Refresh(ctx context.Context, sess *models.Session) (*models.Session, error) {
	args := m.Called(ctx, sess)
	renewed, _ := args.Get(0).(*models.Session)
	return renewed, args.Error(1)
}

func (m *mockClient) UpdatePassword(ctx context.Context, sess *models.Session, newPassword string) error {
	return m.Called(ctx, sess, newPassword).Error(0)
}

func (m *mockClient) GetProfile(ctx context.Context, sess *models.Session, userID string) (*models.Profile, error) {
	args := m.Called(ctx, sess, userID)
	p, _ := args.Get(0).(*models.Profile)
	return p, args.Error(1)
}

func (m *mockClient) UpdateProfile(ctx context.Context, sess *models.Session, userID string, fields backend.ProfileFields) error {
	return m.Called(ctx, sess, userID, fields).Error(0)
}

func (m *mockClient) ListPosts(ctx context.Context, sess *models.Session, includeUnpublished bool) ([]models.Post, error) {
	args := m.Called(ctx, sess, includeUnpublished)
	posts, _ := args.Get(0).([]models.Post)
	return posts, args.Error(1)
}

func (m *mockClient) GetPost(ctx context.Context, sess *models.Session, id string) (*models.Post, error) {
	args := m.Called(ctx, sess, id)
	p, _ := args.Get(0).(*models.Post)
	return p, args.Error(1)
}

func (m *mockClient) GetPostBySlug(ctx context.Context, sess *models.Session, slug string) (*models.Post, error) {
	args := m.Called(ctx, sess, slug)
	p, _ := args.Get(0).(*models.Post)
	return p, args.Error(1)
}

func (m *mockClient) UpdatePost(ctx context.Context, sess *models.Session, id string, fields backend.PostFields) error {
	return m.Called(ctx, sess, id, fields).Error(0)
}

func (m *mockClient) DeletePost(ctx context.Context, sess *models.Session, id string) error {
	return m.Called(ctx, sess, id).Error(0)
}

func (m *mockClient) DeleteStorageObjects(ctx context.Context, sess *models.Session, bucket string, keys []string) error {
	return m.Called(ctx, sess, bucket, keys).Error(0)
}

func (m *mockClient) Subscribe(ctx context.Context, sess *models.Session, table string) (backend.Subscription, error) {
	args := m.Called(ctx, sess, table)
	sub, _ := args.Get(0).(backend.Subscription)
	return sub, args.Error(1)
}

type fakeSubscription struct {
	ch           chan backend.ChangeEvent
	once         sync.Once
	closeCh      sync.Once
	unsubscribed chan struct{}
}

func newFakeSubscription() *fakeSubscription {
	return &fakeSubscription{ch: make(chan backend.ChangeEvent, 4), unsubscribed: make(chan struct{})}
}

func (f *fakeSubscription) Events() <-chan backend.ChangeEvent { return f.ch }

func (f *fakeSubscription) Unsubscribe() error {
	f.once.Do(func() { close(f.unsubscribed) })
	f.closeCh.Do(func() { close(f.ch) })
	return nil
}

// drop ends the feed the way a lost connection does.
func (f *fakeSubscription) drop() {
	f.closeCh.Do(func() { close(f.ch) })
}

func adminSession() *models.Session {
	return &models.Session{UserID: "u-1", Email: "ada@example.com", AccessToken: "token"}
}
