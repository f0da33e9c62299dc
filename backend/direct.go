package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/myrightwindow/rightwindow/config"
	"github.com/myrightwindow/rightwindow/models"
	"github.com/myrightwindow/rightwindow/utils"
)

// maxAccessTTL bounds self-hosted access tokens; sessions outlive them through refresh.
const maxAccessTTL = time.Hour

// Direct serves the backend contract from a SQL database, a local storage directory
// and signed access tokens. Anonymous callers only see published posts.
type Direct struct {
	db         *gorm.DB
	broker     *Broker
	storageDir string
	publicBase string
	tokenTTL   time.Duration
	accessTTL  time.Duration
	now        func() time.Time
}

// DirectModels lists the tables the self-hosted backend needs.
func DirectModels() []interface{} {
	return []interface{}{&models.User{}, &models.Profile{}, &models.Post{}, &models.StoredObject{}}
}

// NewDirect wires a self-hosted backend. Change events go through broker.
func NewDirect(db *gorm.DB, c config.AppConfig, broker *Broker) *Direct {
	if broker == nil {
		broker = NewBroker(nil)
	}
	ttl := time.Duration(c.SessionTTLHours) * time.Hour
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	access := maxAccessTTL
	if ttl < access {
		access = ttl
	}
	return &Direct{
		db:         db,
		broker:     broker,
		storageDir: c.StorageDir,
		publicBase: strings.TrimRight(c.PublicBaseURL, "/") + "/storage",
		tokenTTL:   ttl,
		accessTTL:  access,
		now:        time.Now,
	}
}

func (d *Direct) authorize(sess *models.Session) (*utils.Claims, error) {
	token := sessionToken(sess)
	if token == "" {
		return nil, ErrSessionExpired
	}
	if utils.IsTokenBlacklisted(token) {
		return nil, ErrSessionExpired
	}
	claims, err := utils.ParseToken(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionExpired, err)
	}
	if claims.Role == utils.TokenRoleRefresh {
		return nil, fmt.Errorf("%w: refresh token used as access token", ErrSessionExpired)
	}
	return claims, nil
}

// Authenticate checks the password hash and issues an access token.
func (d *Direct) Authenticate(ctx context.Context, email, password string) (*models.Session, error) {
	var user models.User
	err := d.db.WithContext(ctx).Where("email = ?", strings.ToLower(email)).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if !utils.CheckPassword(user.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}

	token, expiresAt, err := utils.GenerateToken(user.ID, user.Email, d.accessTTL)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	refresh, _, err := utils.GenerateRefreshToken(user.ID, user.Email, d.tokenTTL)
	if err != nil {
		return nil, fmt.Errorf("issue refresh token: %w", err)
	}
	return &models.Session{
		UserID:       user.ID,
		Email:        user.Email,
		AccessToken:  token,
		RefreshToken: refresh,
		ExpiresAt:    expiresAt,
		CreatedAt:    d.now(),
	}, nil
}

// Refresh reissues the access token while the refresh token is valid and the user exists.
// The refresh token itself is kept.
func (d *Direct) Refresh(ctx context.Context, sess *models.Session) (*models.Session, error) {
	if sess == nil || sess.RefreshToken == "" || utils.IsTokenBlacklisted(sess.RefreshToken) {
		return nil, ErrSessionExpired
	}
	claims, err := utils.ParseToken(sess.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionExpired, err)
	}
	if claims.Role != utils.TokenRoleRefresh {
		return nil, fmt.Errorf("%w: not a refresh token", ErrSessionExpired)
	}
	var user models.User
	err = d.db.WithContext(ctx).Where("id = ?", claims.UserID).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSessionExpired
	}
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	token, expiresAt, err := utils.GenerateToken(user.ID, user.Email, d.accessTTL)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	return renewed(sess, &models.Session{AccessToken: token, ExpiresAt: expiresAt}), nil
}

// SignOut revokes the access and refresh tokens for the rest of their lifetime.
func (d *Direct) SignOut(ctx context.Context, sess *models.Session) error {
	if sess == nil {
		return nil
	}
	if sess.RefreshToken != "" {
		if claims, err := utils.ParseToken(sess.RefreshToken); err == nil {
			utils.BlacklistToken(sess.RefreshToken, claims.ExpiresAt.Time)
		}
	}
	claims, err := d.authorize(sess)
	if err != nil {
		return nil
	}
	utils.BlacklistToken(sess.AccessToken, claims.ExpiresAt.Time)
	return nil
}

// UpdatePassword replaces the stored hash for the session's user.
func (d *Direct) UpdatePassword(ctx context.Context, sess *models.Session, newPassword string) error {
	claims, err := d.authorize(sess)
	if err != nil {
		return err
	}
	hash, err := utils.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	res := d.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", claims.UserID).
		Updates(map[string]interface{}{"password_hash": hash, "updated_at": d.now()})
	if res.Error != nil {
		return fmt.Errorf("update password: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetProfile reads a profile row.
func (d *Direct) GetProfile(ctx context.Context, sess *models.Session, userID string) (*models.Profile, error) {
	if _, err := d.authorize(sess); err != nil {
		return nil, err
	}
	var p models.Profile
	err := d.db.WithContext(ctx).Where("id = ?", userID).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return &p, nil
}

// UpdateProfile patches a profile row. Users may only edit their own profile.
func (d *Direct) UpdateProfile(ctx context.Context, sess *models.Session, userID string, fields ProfileFields) error {
	claims, err := d.authorize(sess)
	if err != nil {
		return err
	}
	if claims.UserID != userID {
		return &APIError{Status: 403, Code: "forbidden", Message: "cannot update another user's profile"}
	}
	updates := map[string]interface{}{"updated_at": fields.UpdatedAt}
	if fields.FullName != nil {
		updates["full_name"] = *fields.FullName
	}
	res := d.db.WithContext(ctx).Model(&models.Profile{}).Where("id = ?", userID).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("update profile: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListPosts returns posts newest first. Drafts require a valid session.
func (d *Direct) ListPosts(ctx context.Context, sess *models.Session, includeUnpublished bool) ([]models.Post, error) {
	q := d.db.WithContext(ctx).Model(&models.Post{}).Order("created_at desc")
	if includeUnpublished {
		if _, err := d.authorize(sess); err != nil {
			return nil, err
		}
	} else {
		q = q.Where("published = ?", true)
	}
	posts := []models.Post{}
	if err := q.Find(&posts).Error; err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	return posts, nil
}

// GetPost reads one post by id.
func (d *Direct) GetPost(ctx context.Context, sess *models.Session, id string) (*models.Post, error) {
	return d.getPostWhere(ctx, sess, "id = ?", id)
}

// GetPostBySlug reads one post by slug.
func (d *Direct) GetPostBySlug(ctx context.Context, sess *models.Session, slug string) (*models.Post, error) {
	return d.getPostWhere(ctx, sess, "slug = ?", slug)
}

func (d *Direct) getPostWhere(ctx context.Context, sess *models.Session, cond string, arg string) (*models.Post, error) {
	q := d.db.WithContext(ctx).Where(cond, arg)
	if _, err := d.authorize(sess); err != nil {
		q = q.Where("published = ?", true)
	}
	var p models.Post
	err := q.First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get post: %w", err)
	}
	return &p, nil
}

// UpdatePost patches a post row and announces the change.
func (d *Direct) UpdatePost(ctx context.Context, sess *models.Session, id string, fields PostFields) error {
	if _, err := d.authorize(sess); err != nil {
		return err
	}
	updates := map[string]interface{}{"updated_at": fields.UpdatedAt}
	if fields.Published != nil {
		updates["published"] = *fields.Published
	}
	res := d.db.WithContext(ctx).Model(&models.Post{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("update post: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	d.publish(ctx, ChangeUpdate, id)
	return nil
}

// DeletePost removes a post row; a missing row is not an error.
func (d *Direct) DeletePost(ctx context.Context, sess *models.Session, id string) error {
	if _, err := d.authorize(sess); err != nil {
		return err
	}
	res := d.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Post{})
	if res.Error != nil {
		return fmt.Errorf("delete post: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		d.publish(ctx, ChangeDelete, id)
	}
	return nil
}

// DeleteStorageObjects removes files and their index rows. Unknown keys are skipped.
func (d *Direct) DeleteStorageObjects(ctx context.Context, sess *models.Session, bucket string, keys []string) error {
	if _, err := d.authorize(sess); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	var objs []models.StoredObject
	if err := d.db.WithContext(ctx).Where(map[string]interface{}{"bucket": bucket, "key": keys}).Find(&objs).Error; err != nil {
		return fmt.Errorf("lookup objects: %w", err)
	}
	for _, obj := range objs {
		if err := os.Remove(obj.FilePath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove %s/%s: %w", bucket, obj.Key, err)
		}
		if err := d.db.WithContext(ctx).Delete(&models.StoredObject{}, obj.ID).Error; err != nil {
			return fmt.Errorf("delete object row %s/%s: %w", bucket, obj.Key, err)
		}
	}
	return nil
}

// Subscribe opens a change feed for table.
func (d *Direct) Subscribe(ctx context.Context, sess *models.Session, table string) (Subscription, error) {
	return d.broker.Subscribe(ctx, table)
}

func (d *Direct) publish(ctx context.Context, t ChangeType, id string) {
	d.broker.Publish(ctx, ChangeEvent{Table: models.Post{}.TableName(), Type: t, RecordID: id, At: d.now()})
}

// CreateUser stores a credential record and its profile.
func (d *Direct) CreateUser(ctx context.Context, email, password, fullName, role string) (*models.User, error) {
	hash, err := utils.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	user := &models.User{ID: uuid.NewString(), Email: strings.ToLower(strings.TrimSpace(email)), PasswordHash: hash}
	err = d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(user).Error; err != nil {
			return err
		}
		now := d.now()
		return tx.Create(&models.Profile{ID: user.ID, FullName: fullName, Role: role, CreatedAt: now, UpdatedAt: now}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// CreatePost inserts a post, filling id and timestamps when unset.
func (d *Direct) CreatePost(ctx context.Context, p *models.Post) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := d.now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = p.CreatedAt
	}
	if p.Images == nil {
		p.Images = []string{}
	}
	if err := d.db.WithContext(ctx).Create(p).Error; err != nil {
		return fmt.Errorf("create post: %w", err)
	}
	d.publish(ctx, ChangeInsert, p.ID)
	return nil
}

// PutObject writes r under bucket/key and returns the object's public URL.
func (d *Direct) PutObject(ctx context.Context, bucket, key string, r io.Reader, contentType string) (string, error) {
	clean := path.Clean("/" + key)[1:]
	if clean == "" || clean != key || strings.Contains(bucket, "/") || strings.Contains(bucket, "..") {
		return "", fmt.Errorf("invalid object key %q in bucket %q", key, bucket)
	}
	dst := filepath.Join(d.storageDir, bucket, filepath.FromSlash(clean))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("create object dir: %w", err)
	}
	f, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("create object file: %w", err)
	}
	size, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(dst)
		return "", fmt.Errorf("write object: %w", err)
	}

	obj := models.StoredObject{
		Bucket:      bucket,
		Key:         clean,
		FilePath:    dst,
		URL:         d.publicBase + "/" + bucket + "/" + clean,
		Size:        size,
		ContentType: contentType,
	}
	db := d.db.WithContext(ctx)
	var existing models.StoredObject
	if err := db.Where(map[string]interface{}{"bucket": bucket, "key": clean}).First(&existing).Error; err == nil {
		obj.ID = existing.ID
		obj.CreatedAt = existing.CreatedAt
	}
	if err := db.Save(&obj).Error; err != nil {
		return "", fmt.Errorf("index object: %w", err)
	}
	return obj.URL, nil
}
