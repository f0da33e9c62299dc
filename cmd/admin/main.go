// Command admin operates the blog from a terminal: it signs in with the same admin gate
// as the web dashboard and drives the same post and settings workflows.
package main

import (
	"context"
	"errors"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/myrightwindow/rightwindow/backend"
	"github.com/myrightwindow/rightwindow/config"
	"github.com/myrightwindow/rightwindow/models"
	"github.com/myrightwindow/rightwindow/services"
	"github.com/myrightwindow/rightwindow/utils"
)

var (
	adminEmail    string
	adminPassword string
	verbose       bool
)

var rootCmd = &cobra.Command{
	Use:   "admin",
	Short: "Manage My Right Window posts and account settings",
	Long: `Signs in as a site administrator and manages posts without the web dashboard.

Credentials come from --email/--password or RW_ADMIN_EMAIL/RW_ADMIN_PASSWORD.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		if !verbose {
			cfg.LogLevel = "warn"
		}
		cfg.LogPath = ""
		return utils.InitLogger(cfg)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&adminEmail, "email", "", "admin email (default $RW_ADMIN_EMAIL)")
	rootCmd.PersistentFlags().StringVar(&adminPassword, "password", "", "admin password (default $RW_ADMIN_PASSWORD)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log at the configured level")

	rootCmd.AddCommand(postsCmd, settingsCmd, seedCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// adminSession is a signed-in CLI session plus the services built on its backend.
type adminSession struct {
	client   backend.Client
	sessions *services.SessionManager
	sess     *models.Session
	posts    *services.PostService
	settings *services.SettingsService
}

func credentials() (string, string, error) {
	email := strings.TrimSpace(firstNonEmpty(adminEmail, os.Getenv("RW_ADMIN_EMAIL")))
	password := firstNonEmpty(adminPassword, os.Getenv("RW_ADMIN_PASSWORD"))
	if email == "" || password == "" {
		return "", "", errors.New("admin email and password are required (--email/--password or RW_ADMIN_EMAIL/RW_ADMIN_PASSWORD)")
	}
	return email, password, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func signIn(ctx context.Context) (*adminSession, error) {
	email, password, err := credentials()
	if err != nil {
		return nil, err
	}
	cfg := config.Get()
	client, err := backend.FromConfig(cfg)
	if err != nil {
		return nil, err
	}
	sessions := services.NewSessionManager(client, services.NewMemorySessionStore(), time.Hour)
	sess, err := services.NewAuthGate(client, sessions, cfg).Login(ctx, email, password)
	if err != nil {
		return nil, errors.New(services.UserMessage(err))
	}
	return &adminSession{
		client:   client,
		sessions: sessions,
		sess:     sess,
		posts:    services.NewPostService(client, cfg),
		settings: services.NewSettingsService(client),
	}, nil
}

func (a *adminSession) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = a.sessions.End(ctx, a.sess.ID)
}

// withSession signs in, runs fn and signs out again.
func withSession(cmd *cobra.Command, fn func(ctx context.Context, a *adminSession) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := signIn(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := fn(ctx, a); err != nil {
		return errors.New(services.UserMessage(err))
	}
	return nil
}
