package controllers

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/myrightwindow/rightwindow/backend"
	"github.com/myrightwindow/rightwindow/config"
	"github.com/myrightwindow/rightwindow/middleware"
	"github.com/myrightwindow/rightwindow/models"
	"github.com/myrightwindow/rightwindow/services"
	"github.com/myrightwindow/rightwindow/utils"
)

// AdminPostController exposes the dashboard: listing, the live stream, publish toggles
// and the two-step delete.
type AdminPostController struct {
	posts      *services.PostService
	sessions   middleware.SessionResolver
	confirmTTL time.Duration
}

func NewAdminPostController(posts *services.PostService, sessions middleware.SessionResolver, c config.AppConfig) *AdminPostController {
	ttl := time.Duration(c.DeleteConfirmTTLSec) * time.Second
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &AdminPostController{posts: posts, sessions: sessions, confirmTTL: ttl}
}

// ListPosts returns every post, drafts included, with counts.
func (a *AdminPostController) ListPosts(ctx *gin.Context) {
	sess, ok := requireSession(ctx)
	if !ok {
		return
	}
	posts, err := a.posts.List(ctx.Request.Context(), sess)
	if err != nil {
		respondServiceError(ctx, err, 50210)
		return
	}
	utils.Success(ctx, gin.H{"posts": posts, "stats": services.ComputeStats(posts)})
}

// Stream pushes the full collection as server-sent events whenever it changes.
// The change subscription is released when the client goes away.
func (a *AdminPostController) Stream(ctx *gin.Context) {
	sess, ok := requireSession(ctx)
	if !ok {
		return
	}
	dash, err := a.posts.OpenDashboard(ctx.Request.Context(), sess)
	if err != nil {
		respondServiceError(ctx, err, 50210)
		return
	}
	defer dash.Close()
	if sid := middleware.CurrentSessionID(ctx); sid != "" && a.sessions != nil {
		dash.FollowSession(func(c context.Context) (*models.Session, error) {
			return a.sessions.Get(c, sid)
		})
	}

	ctx.Header("Cache-Control", "no-cache")
	ctx.Header("X-Accel-Buffering", "no")
	done := ctx.Request.Context().Done()
	ctx.Stream(func(io.Writer) bool {
		select {
		case <-done:
			return false
		case u, open := <-dash.Updates():
			if !open {
				return false
			}
			if u.Err != nil {
				ctx.SSEvent("error", gin.H{"message": services.UserMessage(u.Err)})
				return true
			}
			ctx.SSEvent("posts", u)
			return true
		}
	})
}

// TogglePublish flips the published flag of one post.
func (a *AdminPostController) TogglePublish(ctx *gin.Context) {
	sess, ok := requireSession(ctx)
	if !ok {
		return
	}
	post, err := a.posts.Get(ctx.Request.Context(), sess, ctx.Param("id"))
	if err != nil {
		respondServiceError(ctx, err, 50211)
		return
	}
	updated, err := a.posts.TogglePublish(ctx.Request.Context(), sess, post)
	if err != nil {
		respondServiceError(ctx, err, 50212)
		return
	}
	utils.InvalidateByPrefix(utils.PostsCachePrefix)

	msg := "Blog unpublished"
	if updated.Published {
		msg = "Blog published"
	}
	utils.SuccessMessage(ctx, msg, updated)
}

// RequestDelete issues a single-use confirmation token and the question to put to the operator.
func (a *AdminPostController) RequestDelete(ctx *gin.Context) {
	sess, ok := requireSession(ctx)
	if !ok {
		return
	}
	post, err := a.posts.Get(ctx.Request.Context(), sess, ctx.Param("id"))
	if err != nil {
		respondServiceError(ctx, err, 50211)
		return
	}
	token := uuid.NewString()
	utils.SaveConfirmation(token, post.ID, a.confirmTTL)
	utils.Success(ctx, gin.H{
		"confirm_token": token,
		"prompt":        services.DeletePrompt(post),
		"expires_at":    time.Now().Add(a.confirmTTL).UTC(),
	})
}

// CancelDelete withdraws a confirmation token.
func (a *AdminPostController) CancelDelete(ctx *gin.Context) {
	if token := confirmToken(ctx); token != "" {
		utils.DiscardConfirmation(token)
	}
	utils.SuccessMessage(ctx, services.UserMessage(services.ErrDeleteCancelled), nil)
}

// DeletePost removes a post and its files. It needs the token from RequestDelete.
func (a *AdminPostController) DeletePost(ctx *gin.Context) {
	sess, ok := requireSession(ctx)
	if !ok {
		return
	}
	id := ctx.Param("id")
	token := confirmToken(ctx)

	post, err := a.posts.Get(ctx.Request.Context(), sess, id)
	if errors.Is(err, backend.ErrNotFound) {
		if subject, ok := utils.ConsumeConfirmation(token); !ok || subject != id {
			respondServiceError(ctx, services.ErrDeleteCancelled, 50213)
			return
		}
		utils.SuccessMessage(ctx, "Blog deleted", gin.H{"id": id})
		return
	}
	if err != nil {
		respondServiceError(ctx, err, 50211)
		return
	}

	err = a.posts.Delete(ctx.Request.Context(), sess, post, tokenConfirmer(token))
	var partial *services.PartialDeleteError
	if err == nil || errors.As(err, &partial) {
		utils.InvalidateByPrefix(utils.PostsCachePrefix)
	}
	if err != nil {
		respondServiceError(ctx, err, 50213)
		return
	}
	utils.SuccessMessage(ctx, "Blog deleted", gin.H{"id": id})
}

func tokenConfirmer(token string) services.Confirmer {
	return func(_ context.Context, post models.Post) (bool, error) {
		subject, ok := utils.ConsumeConfirmation(token)
		return ok && subject == post.ID, nil
	}
}

func confirmToken(ctx *gin.Context) string {
	if t := ctx.Query("confirm_token"); t != "" {
		return t
	}
	return ctx.GetHeader("X-Confirm-Token")
}
