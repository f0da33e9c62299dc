package main

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/myrightwindow/rightwindow/backend"
	"github.com/myrightwindow/rightwindow/config"
	"github.com/myrightwindow/rightwindow/models"
)

var (
	seedName    string
	seedSamples int
	seedAttach  []string
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Create the admin account and sample posts (self-hosted backend only)",
	Long: `Creates the admin account given by --email/--password and, with --samples,
a few posts alternating between published and draft. Files passed with --attach are
uploaded and attached to the first sample: PDFs to the pdf bucket, the rest as images.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Get()
		if cfg.BackendDriver != config.BackendDirect {
			return errors.New("seed needs BACKEND_DRIVER=direct")
		}
		email, password, err := credentials()
		if err != nil {
			return err
		}
		client, err := backend.FromConfig(cfg)
		if err != nil {
			return err
		}
		direct, ok := client.(*backend.Direct)
		if !ok {
			return errors.New("seed needs the self-hosted backend")
		}

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		out := cmd.OutOrStdout()
		user, err := direct.CreateUser(ctx, email, password, seedName, cfg.AdminRole)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "admin %s created (%s)\n", user.Email, user.ID)

		for i := 0; i < seedSamples; i++ {
			post := samplePost(i)
			if i == 0 {
				if err := attachFiles(ctx, direct, cfg, &post, seedAttach); err != nil {
					return err
				}
			}
			if err := direct.CreatePost(ctx, &post); err != nil {
				return err
			}
			fmt.Fprintf(out, "post %q created (%s)\n", post.Title, post.ID)
		}
		return nil
	},
}

func init() {
	seedCmd.Flags().StringVar(&seedName, "name", "Site Admin", "display name of the admin account")
	seedCmd.Flags().IntVar(&seedSamples, "samples", 0, "number of sample posts to create")
	seedCmd.Flags().StringSliceVar(&seedAttach, "attach", nil, "files to attach to the first sample post")
}

func samplePost(i int) models.Post {
	n := i + 1
	return models.Post{
		Title:     fmt.Sprintf("Sample post %d", n),
		Slug:      fmt.Sprintf("sample-post-%d-%s", n, uuid.NewString()[:8]),
		Excerpt:   "A post created by the seed command.",
		Content:   fmt.Sprintf("<p>Sample content number %d.</p>", n),
		Author:    seedName,
		Published: i%2 == 0,
	}
}

func attachFiles(ctx context.Context, d *backend.Direct, cfg config.AppConfig, post *models.Post, files []string) error {
	for _, f := range files {
		r, err := os.Open(f)
		if err != nil {
			return err
		}
		ext := strings.ToLower(filepath.Ext(f))
		bucket := cfg.ImagesBucket
		if ext == ".pdf" {
			bucket = cfg.PDFsBucket
		}
		key := uuid.NewString() + ext
		url, err := d.PutObject(ctx, bucket, key, r, mime.TypeByExtension(ext))
		_ = r.Close()
		if err != nil {
			return err
		}
		if bucket == cfg.PDFsBucket {
			post.PDFURL = &url
		} else {
			post.Images = append(post.Images, url)
		}
	}
	return nil
}
