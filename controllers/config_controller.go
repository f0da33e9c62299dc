package controllers

import (
	"github.com/gin-gonic/gin"

	"github.com/myrightwindow/rightwindow/config"
	"github.com/myrightwindow/rightwindow/utils"
)

// ConfigController serves site content kept in configuration.
type ConfigController struct{}

func NewConfigController() *ConfigController { return &ConfigController{} }

// GetSite returns the site name, about section and notice.
func (c *ConfigController) GetSite(ctx *gin.Context) {
	cfg := config.Get()
	utils.Success(ctx, gin.H{
		"name":    cfg.SiteName,
		"tagline": cfg.SiteTagline,
		"about": gin.H{
			"title": cfg.AboutTitle,
			"html":  utils.Sanitize(cfg.AboutHTML),
		},
		"notice": gin.H{
			"title": cfg.NoticeTitle,
			"html":  utils.Sanitize(cfg.NoticeHTML),
		},
		"contact_email": cfg.ContactEmail,
	})
}
