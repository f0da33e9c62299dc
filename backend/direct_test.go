package backend

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/myrightwindow/rightwindow/config"
	"github.com/myrightwindow/rightwindow/models"
)

func newTestDirect(t *testing.T) *Direct {
	t.Helper()
	cfg := config.AppConfig{
		BackendDriver: config.BackendDirect,
		DBDriver:      "sqlite",
		DatabaseURI:   ":memory:",
		JWTSecret:     "test-secret",
		StorageDir:    t.TempDir(),
		PublicBaseURL: "http://localhost:8080",
		LogLevel:      "silent",
	}
	config.Set(cfg)

	gdb, err := config.OpenDatabase(config.Get())
	require.NoError(t, err)
	require.NoError(t, config.Migrate(gdb, DirectModels()...))
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return NewDirect(gdb, config.Get(), nil)
}

func seedAdmin(t *testing.T, d *Direct) *models.Session {
	t.Helper()
	ctx := context.Background()
	_, err := d.CreateUser(ctx, "Ada@Example.com", "secret12", "Ada", models.RoleAdmin)
	require.NoError(t, err)
	sess, err := d.Authenticate(ctx, "ada@example.com", "secret12")
	require.NoError(t, err)
	return sess
}

func seedPost(t *testing.T, d *Direct, slug string, published bool, createdAt time.Time) *models.Post {
	t.Helper()
	p := &models.Post{Title: strings.ToUpper(slug), Slug: slug, Published: published, CreatedAt: createdAt}
	require.NoError(t, d.CreatePost(context.Background(), p))
	return p
}

func TestDirectAuthenticate(t *testing.T) {
	d := newTestDirect(t)
	sess := seedAdmin(t, d)
	assert.NotEmpty(t, sess.AccessToken)
	assert.Equal(t, "ada@example.com", sess.Email)
	assert.True(t, sess.ExpiresAt.After(time.Now()))

	_, err := d.Authenticate(context.Background(), "ada@example.com", "wrong-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = d.Authenticate(context.Background(), "nobody@example.com", "secret12")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	profile, err := d.GetProfile(context.Background(), sess, sess.UserID)
	require.NoError(t, err)
	assert.True(t, profile.HasRole(models.RoleAdmin))
	assert.Equal(t, "Ada", profile.FullName)
}

func TestDirectSignOutRevokesToken(t *testing.T) {
	d := newTestDirect(t)
	sess := seedAdmin(t, d)

	require.NoError(t, d.SignOut(context.Background(), sess))
	_, err := d.GetProfile(context.Background(), sess, sess.UserID)
	assert.ErrorIs(t, err, ErrSessionExpired)
	assert.NoError(t, d.SignOut(context.Background(), sess))
}

func TestDirectListPosts(t *testing.T) {
	d := newTestDirect(t)
	sess := seedAdmin(t, d)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	seedPost(t, d, "oldest", true, base)
	seedPost(t, d, "draft", false, base.Add(time.Hour))
	seedPost(t, d, "newest", true, base.Add(2*time.Hour))

	all, err := d.ListPosts(context.Background(), sess, true)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"newest", "draft", "oldest"}, []string{all[0].Slug, all[1].Slug, all[2].Slug})

	public, err := d.ListPosts(context.Background(), nil, false)
	require.NoError(t, err)
	require.Len(t, public, 2)
	assert.Equal(t, "newest", public[0].Slug)

	_, err = d.ListPosts(context.Background(), nil, true)
	assert.ErrorIs(t, err, ErrSessionExpired)

	_, err = d.GetPostBySlug(context.Background(), nil, "draft")
	assert.ErrorIs(t, err, ErrNotFound)
	draft, err := d.GetPostBySlug(context.Background(), sess, "draft")
	require.NoError(t, err)
	assert.False(t, draft.Published)
}

func TestDirectUpdatePostPublishesChange(t *testing.T) {
	d := newTestDirect(t)
	sess := seedAdmin(t, d)
	p := seedPost(t, d, "hello", false, time.Now())

	sub, err := d.Subscribe(context.Background(), sess, "blogs")
	require.NoError(t, err)
	defer sub.Unsubscribe()

	published := true
	at := time.Now().Add(time.Minute).Truncate(time.Second)
	require.NoError(t, d.UpdatePost(context.Background(), sess, p.ID, PostFields{Published: &published, UpdatedAt: at}))

	select {
	case ev := <-sub.Events():
		assert.Equal(t, ChangeUpdate, ev.Type)
		assert.Equal(t, p.ID, ev.RecordID)
	case <-time.After(2 * time.Second):
		t.Fatal("no change event delivered")
	}

	got, err := d.GetPost(context.Background(), sess, p.ID)
	require.NoError(t, err)
	assert.True(t, got.Published)
	assert.True(t, got.UpdatedAt.Equal(at))

	err = d.UpdatePost(context.Background(), sess, "missing", PostFields{Published: &published, UpdatedAt: at})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDirectDeletePostIsIdempotent(t *testing.T) {
	d := newTestDirect(t)
	sess := seedAdmin(t, d)
	p := seedPost(t, d, "bye", true, time.Now())

	require.NoError(t, d.DeletePost(context.Background(), sess, p.ID))
	require.NoError(t, d.DeletePost(context.Background(), sess, p.ID))
	_, err := d.GetPost(context.Background(), sess, p.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDirectStorageObjects(t *testing.T) {
	d := newTestDirect(t)
	sess := seedAdmin(t, d)
	ctx := context.Background()

	url, err := d.PutObject(ctx, "images", "posts/a.png", strings.NewReader("png"), "image/png")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/storage/images/posts/a.png", url)
	path := filepath.Join(d.storageDir, "images", "posts", "a.png")
	_, err = os.Stat(path)
	require.NoError(t, err)

	_, err = d.PutObject(ctx, "images", "../escape.png", strings.NewReader("x"), "image/png")
	assert.Error(t, err)

	require.NoError(t, d.DeleteStorageObjects(ctx, sess, "images", []string{"posts/a.png", "never-existed.png"}))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	require.NoError(t, d.DeleteStorageObjects(ctx, sess, "images", []string{"posts/a.png"}))
}

func TestDirectUpdateProfile(t *testing.T) {
	d := newTestDirect(t)
	sess := seedAdmin(t, d)
	ctx := context.Background()

	name := "Ada Lovelace"
	at := time.Now().Truncate(time.Second)
	require.NoError(t, d.UpdateProfile(ctx, sess, sess.UserID, ProfileFields{FullName: &name, UpdatedAt: at}))
	p, err := d.GetProfile(ctx, sess, sess.UserID)
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", p.FullName)

	err = d.UpdateProfile(ctx, sess, "someone-else", ProfileFields{FullName: &name, UpdatedAt: at})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 403, apiErr.Status)

	require.NoError(t, d.db.Unscoped().Where("id = ?", sess.UserID).Delete(&models.Profile{}).Error)
	err = d.UpdateProfile(ctx, sess, sess.UserID, ProfileFields{FullName: &name, UpdatedAt: at})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDirectRefresh(t *testing.T) {
	d := newTestDirect(t)
	sess := seedAdmin(t, d)
	ctx := context.Background()
	require.NotEmpty(t, sess.RefreshToken)
	assert.WithinDuration(t, time.Now().Add(maxAccessTTL), sess.ExpiresAt, 5*time.Second)

	_, err := d.ListPosts(ctx, &models.Session{AccessToken: sess.RefreshToken}, true)
	assert.ErrorIs(t, err, ErrSessionExpired)

	renewed, err := d.Refresh(ctx, sess)
	require.NoError(t, err)
	assert.NotEqual(t, sess.AccessToken, renewed.AccessToken)
	assert.Equal(t, sess.RefreshToken, renewed.RefreshToken)
	_, err = d.ListPosts(ctx, renewed, true)
	assert.NoError(t, err)

	_, err = d.Refresh(ctx, &models.Session{RefreshToken: sess.AccessToken})
	assert.ErrorIs(t, err, ErrSessionExpired)

	require.NoError(t, d.SignOut(ctx, renewed))
	_, err = d.Refresh(ctx, renewed)
	assert.ErrorIs(t, err, ErrSessionExpired)
}

func TestDirectUpdatePassword(t *testing.T) {
	d := newTestDirect(t)
	sess := seedAdmin(t, d)
	ctx := context.Background()

	require.NoError(t, d.UpdatePassword(ctx, sess, "new-secret-99"))
	_, err := d.Authenticate(ctx, "ada@example.com", "secret12")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = d.Authenticate(ctx, "ada@example.com", "new-secret-99")
	assert.NoError(t, err)
}
