package controllers

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/myrightwindow/rightwindow/middleware"
	"github.com/myrightwindow/rightwindow/services"
	"github.com/myrightwindow/rightwindow/utils"
)

// StatsController reports post counts and today's page views.
type StatsController struct {
	posts *services.PostService
	views *middleware.PageViewCounter
}

func NewStatsController(posts *services.PostService, views *middleware.PageViewCounter) *StatsController {
	return &StatsController{posts: posts, views: views}
}

// GetStats returns post totals plus page views for the current day.
func (s *StatsController) GetStats(ctx *gin.Context) {
	sess, ok := requireSession(ctx)
	if !ok {
		return
	}
	stats, err := s.posts.Stats(ctx.Request.Context(), sess)
	if err != nil {
		respondServiceError(ctx, err, 50210)
		return
	}

	// page views are best effort; an unavailable counter reports zero
	var paths map[string]int64
	var total int64
	if s.views != nil {
		paths, total = s.views.Day(ctx.Request.Context(), time.Now())
	}
	utils.Success(ctx, gin.H{
		"total":            stats.Total,
		"published":        stats.Published,
		"drafts":           stats.Drafts,
		"page_views_today": total,
		"page_views":       paths,
	})
}
