package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/myrightwindow/rightwindow/backend"
	"github.com/myrightwindow/rightwindow/config"
	"github.com/myrightwindow/rightwindow/models"
	"github.com/myrightwindow/rightwindow/utils"
)

// StorageBatchSize caps the number of keys sent in one storage removal call.
const StorageBatchSize = 100

var (
	imageKeyPattern = regexp.MustCompile(`images/(.+)$`)
	pdfKeyPattern   = regexp.MustCompile(`pdfs/(.+)$`)
)

// Confirmer blocks until the operator accepts or declines deleting post.
type Confirmer func(ctx context.Context, post models.Post) (bool, error)

// PostStats summarises a post collection.
type PostStats struct {
	Total     int `json:"total"`
	Published int `json:"published"`
	Drafts    int `json:"drafts"`
}

// ComputeStats counts published posts and drafts.
func ComputeStats(posts []models.Post) PostStats {
	s := PostStats{Total: len(posts)}
	for _, p := range posts {
		if p.Published {
			s.Published++
		}
	}
	s.Drafts = s.Total - s.Published
	return s
}

// StorageKeys are the object keys a post references, per bucket.
type StorageKeys struct {
	Images []string
	PDF    string
}

// DeriveStorageKeys extracts object keys from the post's image and PDF URLs.
// URLs without the expected bucket segment are skipped.
func DeriveStorageKeys(post models.Post) StorageKeys {
	var keys StorageKeys
	for _, u := range post.Images {
		if m := imageKeyPattern.FindStringSubmatch(u); m != nil {
			keys.Images = append(keys.Images, m[1])
		}
	}
	keys.Images = utils.UniqueStrings(keys.Images)
	if post.HasPDF() {
		if m := pdfKeyPattern.FindStringSubmatch(*post.PDFURL); m != nil {
			keys.PDF = m[1]
		}
	}
	return keys
}

// PostService lists and mutates posts on behalf of an admin session.
type PostService struct {
	client       backend.Client
	postsTable   string
	imagesBucket string
	pdfsBucket   string
	now          func() time.Time

	feedRetryMin time.Duration
	feedRetryMax time.Duration
}

func NewPostService(client backend.Client, c config.AppConfig) *PostService {
	images, pdfs := c.ImagesBucket, c.PDFsBucket
	if images == "" {
		images = "images"
	}
	if pdfs == "" {
		pdfs = "pdfs"
	}
	table := c.PostsTable
	if table == "" {
		table = models.Post{}.TableName()
	}
	return &PostService{
		client:       client,
		postsTable:   table,
		imagesBucket: images,
		pdfsBucket:   pdfs,
		now:          time.Now,
		feedRetryMin: feedRetryMin,
		feedRetryMax: feedRetryMax,
	}
}

// List returns every post, drafts included, newest first.
func (s *PostService) List(ctx context.Context, sess *models.Session) ([]models.Post, error) {
	if sess == nil {
		return nil, ErrNoSession
	}
	posts, err := s.client.ListPosts(ctx, sess, true)
	if err != nil {
		return nil, &BackendError{Op: OpListPosts, Err: err}
	}
	return posts, nil
}

// Get loads one post by id. A missing post is reported as backend.ErrNotFound.
func (s *PostService) Get(ctx context.Context, sess *models.Session, id string) (models.Post, error) {
	if sess == nil {
		return models.Post{}, ErrNoSession
	}
	post, err := s.client.GetPost(ctx, sess, id)
	if err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			return models.Post{}, err
		}
		return models.Post{}, &BackendError{Op: OpLoadPost, Err: err}
	}
	return *post, nil
}

// DeletePrompt is the question put to the operator before post is deleted.
func DeletePrompt(post models.Post) string {
	return fmt.Sprintf(`Are you sure you want to delete "%s"? This action cannot be undone.`, post.Title)
}

// Stats lists posts and summarises them.
func (s *PostService) Stats(ctx context.Context, sess *models.Session) (PostStats, error) {
	posts, err := s.List(ctx, sess)
	if err != nil {
		return PostStats{}, err
	}
	return ComputeStats(posts), nil
}

// TogglePublish flips the published flag of post and stamps a new update time that is
// strictly later than the previous one. It returns the updated copy.
func (s *PostService) TogglePublish(ctx context.Context, sess *models.Session, post models.Post) (models.Post, error) {
	if sess == nil {
		return post, ErrNoSession
	}
	published := !post.Published
	at := s.now().UTC()
	if !at.After(post.UpdatedAt) {
		at = post.UpdatedAt.Add(time.Microsecond)
	}
	err := s.client.UpdatePost(ctx, sess, post.ID, backend.PostFields{Published: &published, UpdatedAt: at})
	if err != nil {
		return post, &BackendError{Op: OpTogglePublish, Err: err}
	}
	post.Published = published
	post.UpdatedAt = at
	utils.Sugar.Infow("post publish toggled", "post_id", post.ID, "published", published)
	return post, nil
}

// Delete removes post after confirm accepts: image objects in batches, then the PDF,
// then the row. Missing objects and a missing row count as already deleted.
func (s *PostService) Delete(ctx context.Context, sess *models.Session, post models.Post, confirm Confirmer) error {
	if sess == nil {
		return ErrNoSession
	}
	if confirm == nil {
		return ErrDeleteCancelled
	}
	ok, err := confirm(ctx, post)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeleteCancelled, err)
	}
	if !ok {
		return ErrDeleteCancelled
	}

	keys := DeriveStorageKeys(post)
	var removed []string
	for _, batch := range utils.Chunk(keys.Images, StorageBatchSize) {
		if err := s.client.DeleteStorageObjects(ctx, sess, s.imagesBucket, batch); err != nil {
			return s.storageFailure(post.ID, removed, err)
		}
		removed = append(removed, prefixed(s.imagesBucket, batch)...)
	}
	if keys.PDF != "" {
		if err := s.client.DeleteStorageObjects(ctx, sess, s.pdfsBucket, []string{keys.PDF}); err != nil {
			return s.storageFailure(post.ID, removed, err)
		}
		removed = append(removed, s.pdfsBucket+"/"+keys.PDF)
	}

	if err := s.client.DeletePost(ctx, sess, post.ID); err != nil && !errors.Is(err, backend.ErrNotFound) {
		if len(removed) > 0 {
			utils.Sugar.Errorw("post row kept after its storage objects were removed",
				"post_id", post.ID, "removed", removed, "error", err)
			return &PartialDeleteError{PostID: post.ID, Removed: removed, Err: err}
		}
		return &BackendError{Op: OpDeletePost, Err: err}
	}
	utils.Sugar.Infow("post deleted", "post_id", post.ID, "objects", len(removed))
	return nil
}

// storageFailure reports a failed storage call. Batches removed before it are reported as
// partial, since the row is left pointing at objects that are gone.
func (s *PostService) storageFailure(postID string, removed []string, err error) error {
	if len(removed) > 0 {
		return &PartialDeleteError{PostID: postID, Removed: removed, Err: err}
	}
	return &BackendError{Op: OpDeletePost, Err: err}
}

func prefixed(bucket string, keys []string) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = bucket + "/" + k
	}
	return out
}
