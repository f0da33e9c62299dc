package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/myrightwindow/rightwindow/backend"
	"github.com/myrightwindow/rightwindow/config"
	"github.com/myrightwindow/rightwindow/models"
)

func strPtr(s string) *string { return &s }

func accept(context.Context, models.Post) (bool, error) { return true, nil }

func newTestPosts(client *mockClient) *PostService {
	return NewPostService(client, config.AppConfig{ImagesBucket: "images", PDFsBucket: "pdfs", PostsTable: "blogs"})
}

func TestDeriveStorageKeys(t *testing.T) {
	post := models.Post{
		Images: []string{
			"https://host/images/a.png",
			"https://cdn.example.com/other/x.png",
			"https://host/storage/v1/object/public/images/2024/b.png",
			"https://host/images/a.png",
		},
		PDFURL: strPtr("https://host/files/c.pdf"),
	}
	keys := DeriveStorageKeys(post)
	assert.Equal(t, []string{"a.png", "2024/b.png"}, keys.Images)
	assert.Empty(t, keys.PDF, "pdf url without the pdfs/ segment is skipped")

	keys = DeriveStorageKeys(models.Post{PDFURL: strPtr("https://host/pdfs/c.pdf")})
	assert.Empty(t, keys.Images)
	assert.Equal(t, "c.pdf", keys.PDF)
}

func TestDeleteRemovesStorageThenRow(t *testing.T) {
	client := new(mockClient)
	svc := newTestPosts(client)
	sess := adminSession()
	post := models.Post{
		ID:     "p-1",
		Images: []string{"https://host/images/a.png", "https://host/images/b.png"},
		PDFURL: strPtr("https://host/pdfs/c.pdf"),
	}

	var mu sync.Mutex
	var calls []string
	record := func(name string) func(mock.Arguments) {
		return func(mock.Arguments) {
			mu.Lock()
			calls = append(calls, name)
			mu.Unlock()
		}
	}
	client.On("DeleteStorageObjects", mock.Anything, sess, "images", []string{"a.png", "b.png"}).Run(record("images")).Return(nil).Once()
	client.On("DeleteStorageObjects", mock.Anything, sess, "pdfs", []string{"c.pdf"}).Run(record("pdfs")).Return(nil).Once()
	client.On("DeletePost", mock.Anything, sess, "p-1").Run(record("row")).Return(nil).Once()

	require.NoError(t, svc.Delete(context.Background(), sess, post, accept))
	assert.Equal(t, []string{"images", "pdfs", "row"}, calls)
	client.AssertExpectations(t)
}

func TestDeleteCancelledMakesNoCalls(t *testing.T) {
	client := new(mockClient)
	svc := newTestPosts(client)
	post := models.Post{ID: "p-1", Images: []string{"https://host/images/a.png"}}

	decline := func(context.Context, models.Post) (bool, error) { return false, nil }
	err := svc.Delete(context.Background(), adminSession(), post, decline)
	assert.ErrorIs(t, err, ErrDeleteCancelled)

	aborted := func(ctx context.Context, _ models.Post) (bool, error) { return false, context.Canceled }
	err = svc.Delete(context.Background(), adminSession(), post, aborted)
	assert.ErrorIs(t, err, ErrDeleteCancelled)

	client.AssertNotCalled(t, "DeleteStorageObjects", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	client.AssertNotCalled(t, "DeletePost", mock.Anything, mock.Anything, mock.Anything)
}

func TestDeleteIsIdempotentUnderRetry(t *testing.T) {
	client := new(mockClient)
	svc := newTestPosts(client)
	sess := adminSession()
	post := models.Post{ID: "p-1", Images: []string{"https://host/images/a.png"}}

	// storage reports not-found as success; the row is gone on the retry
	client.On("DeleteStorageObjects", mock.Anything, sess, "images", []string{"a.png"}).Return(nil).Twice()
	client.On("DeletePost", mock.Anything, sess, "p-1").Return(nil).Once()
	client.On("DeletePost", mock.Anything, sess, "p-1").Return(backend.ErrNotFound).Once()

	require.NoError(t, svc.Delete(context.Background(), sess, post, accept))
	require.NoError(t, svc.Delete(context.Background(), sess, post, accept))
	client.AssertExpectations(t)
}

func TestDeletePartialInconsistency(t *testing.T) {
	client := new(mockClient)
	svc := newTestPosts(client)
	sess := adminSession()
	post := models.Post{ID: "p-1", Images: []string{"https://host/images/a.png"}}

	client.On("DeleteStorageObjects", mock.Anything, sess, "images", []string{"a.png"}).Return(nil)
	client.On("DeletePost", mock.Anything, sess, "p-1").Return(errors.New("permission denied"))

	err := svc.Delete(context.Background(), sess, post, accept)
	var partial *PartialDeleteError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, []string{"images/a.png"}, partial.Removed)
	assert.True(t, strings.HasPrefix(UserMessage(err), "Error deleting blog: permission denied"))
}

func TestDeleteWithoutStorageIsCleanFailure(t *testing.T) {
	client := new(mockClient)
	svc := newTestPosts(client)
	sess := adminSession()
	post := models.Post{ID: "p-1", Images: []string{"https://elsewhere/x.png"}}

	client.On("DeletePost", mock.Anything, sess, "p-1").Return(errors.New("permission denied"))

	err := svc.Delete(context.Background(), sess, post, accept)
	var partial *PartialDeleteError
	assert.False(t, errors.As(err, &partial))
	assert.Equal(t, "Error deleting blog: permission denied", UserMessage(err))
	client.AssertNotCalled(t, "DeleteStorageObjects", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDeleteStorageFailureKeepsRow(t *testing.T) {
	client := new(mockClient)
	svc := newTestPosts(client)
	sess := adminSession()
	post := models.Post{ID: "p-1", Images: []string{"https://host/images/a.png"}, PDFURL: strPtr("https://host/pdfs/c.pdf")}

	client.On("DeleteStorageObjects", mock.Anything, sess, "images", []string{"a.png"}).Return(errors.New("storage down"))

	err := svc.Delete(context.Background(), sess, post, accept)
	var beErr *BackendError
	require.ErrorAs(t, err, &beErr)
	assert.Equal(t, OpDeletePost, beErr.Op)
	client.AssertNotCalled(t, "DeletePost", mock.Anything, mock.Anything, mock.Anything)
}

func TestDeleteBatchesImages(t *testing.T) {
	client := new(mockClient)
	svc := newTestPosts(client)
	sess := adminSession()

	post := models.Post{ID: "p-1"}
	for i := 0; i < 250; i++ {
		post.Images = append(post.Images, fmt.Sprintf("https://host/images/%03d.png", i))
	}
	var sizes []int
	client.On("DeleteStorageObjects", mock.Anything, sess, "images", mock.Anything).
		Run(func(args mock.Arguments) { sizes = append(sizes, len(args.Get(3).([]string))) }).
		Return(nil)
	client.On("DeletePost", mock.Anything, sess, "p-1").Return(nil)

	require.NoError(t, svc.Delete(context.Background(), sess, post, accept))
	assert.Equal(t, []int{100, 100, 50}, sizes)
}

func TestTogglePublishTwiceRestoresState(t *testing.T) {
	client := new(mockClient)
	svc := newTestPosts(client)
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }
	sess := adminSession()

	var stamps []time.Time
	client.On("UpdatePost", mock.Anything, sess, "p-1", mock.Anything).
		Run(func(args mock.Arguments) { stamps = append(stamps, args.Get(3).(backend.PostFields).UpdatedAt) }).
		Return(nil)

	original := models.Post{ID: "p-1", Published: false, UpdatedAt: fixed.Add(-time.Hour)}
	once, err := svc.TogglePublish(context.Background(), sess, original)
	require.NoError(t, err)
	assert.True(t, once.Published)
	twice, err := svc.TogglePublish(context.Background(), sess, once)
	require.NoError(t, err)

	assert.Equal(t, original.Published, twice.Published)
	require.Len(t, stamps, 2)
	assert.True(t, stamps[0].After(original.UpdatedAt))
	assert.True(t, stamps[1].After(stamps[0]), "updated_at must strictly increase even when the clock does not")
}

func TestTogglePublishFailure(t *testing.T) {
	client := new(mockClient)
	svc := newTestPosts(client)
	client.On("UpdatePost", mock.Anything, mock.Anything, "p-1", mock.Anything).Return(errors.New("row locked"))

	post := models.Post{ID: "p-1", Published: true}
	got, err := svc.TogglePublish(context.Background(), adminSession(), post)
	assert.Equal(t, "Error updating blog: row locked", UserMessage(err))
	assert.True(t, got.Published)
}

func TestStats(t *testing.T) {
	client := new(mockClient)
	svc := newTestPosts(client)
	sess := adminSession()
	client.On("ListPosts", mock.Anything, sess, true).Return([]models.Post{
		{ID: "1", Published: true},
		{ID: "2", Published: true},
		{ID: "3", Published: false},
	}, nil)

	stats, err := svc.Stats(context.Background(), sess)
	require.NoError(t, err)
	assert.Equal(t, PostStats{Total: 3, Published: 2, Drafts: 1}, stats)
}

func TestListRequiresSession(t *testing.T) {
	svc := newTestPosts(new(mockClient))
	_, err := svc.List(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestDeletePromptQuotesTitle(t *testing.T) {
	assert.Equal(t,
		`Are you sure you want to delete "Hello "World""? This action cannot be undone.`,
		DeletePrompt(models.Post{Title: `Hello "World"`}))
}

func TestGetPostNotFound(t *testing.T) {
	client := new(mockClient)
	svc := newTestPosts(client)
	sess := adminSession()
	client.On("GetPost", mock.Anything, sess, "gone").Return(nil, backend.ErrNotFound)

	_, err := svc.Get(context.Background(), sess, "gone")
	assert.ErrorIs(t, err, backend.ErrNotFound)
}
