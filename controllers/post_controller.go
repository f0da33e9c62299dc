package controllers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/myrightwindow/rightwindow/backend"
	"github.com/myrightwindow/rightwindow/models"
	"github.com/myrightwindow/rightwindow/utils"
)

// PostController serves published posts to visitors.
type PostController struct {
	client backend.Client
}

func NewPostController(client backend.Client) *PostController {
	return &PostController{client: client}
}

type publicPost struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Slug      string    `json:"slug"`
	Excerpt   string    `json:"excerpt"`
	Content   string    `json:"content,omitempty"`
	Author    string    `json:"author"`
	Images    []string  `json:"images"`
	PDFURL    string    `json:"pdf_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toPublic(p models.Post, withContent bool) publicPost {
	out := publicPost{
		ID:        p.ID,
		Title:     utils.StripTags(p.Title),
		Slug:      p.Slug,
		Excerpt:   utils.StripTags(p.Excerpt),
		Author:    utils.StripTags(p.Author),
		Images:    p.Images,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
	if out.Images == nil {
		out.Images = []string{}
	}
	if p.HasPDF() {
		out.PDFURL = *p.PDFURL
	}
	if withContent {
		out.Content = utils.Sanitize(p.Content)
	}
	return out
}

// ListPosts returns published posts, newest first.
func (p *PostController) ListPosts(ctx *gin.Context) {
	key := utils.PostsCachePrefix + "list"
	var cached []publicPost
	if utils.CacheGetJSON(key, &cached) {
		utils.Success(ctx, gin.H{"posts": cached})
		return
	}

	posts, err := p.client.ListPosts(ctx.Request.Context(), nil, false)
	if err != nil {
		utils.Sugar.Warnw("public post listing failed", "error", err)
		utils.Error(ctx, http.StatusBadGateway, 50030, "failed to load posts")
		return
	}
	out := make([]publicPost, 0, len(posts))
	for _, post := range posts {
		if post.Published {
			out = append(out, toPublic(post, false))
		}
	}
	utils.CacheSetJSON(key, out, 0)
	utils.Success(ctx, gin.H{"posts": out})
}

// GetPost returns one published post by slug.
func (p *PostController) GetPost(ctx *gin.Context) {
	slug := strings.TrimSpace(ctx.Param("slug"))
	if slug == "" {
		utils.Error(ctx, http.StatusBadRequest, 40031, "missing slug")
		return
	}
	key := utils.PostsCachePrefix + "slug:" + slug
	var cached publicPost
	if utils.CacheGetJSON(key, &cached) {
		utils.Success(ctx, cached)
		return
	}

	post, err := p.client.GetPostBySlug(ctx.Request.Context(), nil, slug)
	switch {
	case errors.Is(err, backend.ErrNotFound):
		utils.Error(ctx, http.StatusNotFound, 40411, "post not found")
		return
	case err != nil:
		utils.Sugar.Warnw("public post lookup failed", "slug", slug, "error", err)
		utils.Error(ctx, http.StatusBadGateway, 50031, "failed to load post")
		return
	case !post.Published:
		utils.Error(ctx, http.StatusNotFound, 40411, "post not found")
		return
	}
	out := toPublic(*post, true)
	utils.CacheSetJSON(key, out, 0)
	utils.Success(ctx, out)
}
