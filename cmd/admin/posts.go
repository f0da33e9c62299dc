package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/myrightwindow/rightwindow/models"
	"github.com/myrightwindow/rightwindow/services"
)

var assumeYes bool

var postsCmd = &cobra.Command{
	Use:   "posts",
	Short: "List, publish and delete posts",
}

var postsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every post, drafts included, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context, a *adminSession) error {
			posts, err := a.posts.List(ctx, a.sess)
			if err != nil {
				return err
			}
			printPosts(cmd.OutOrStdout(), posts)
			return nil
		})
	},
}

var postsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show post totals",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context, a *adminSession) error {
			stats, err := a.posts.Stats(ctx, a.sess)
			if err != nil {
				return err
			}
			printStats(cmd.OutOrStdout(), stats)
			return nil
		})
	},
}

var postsToggleCmd = &cobra.Command{
	Use:   "toggle <post-id>",
	Short: "Publish a draft or unpublish a post",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context, a *adminSession) error {
			post, err := a.posts.Get(ctx, a.sess, args[0])
			if err != nil {
				return err
			}
			updated, err := a.posts.TogglePublish(ctx, a.sess, post)
			if err != nil {
				return err
			}
			state := "draft"
			if updated.Published {
				state = "published"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", updated.Title, state)
			return nil
		})
	},
}

var postsDeleteCmd = &cobra.Command{
	Use:   "delete <post-id>",
	Short: "Delete a post with its images and PDF",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context, a *adminSession) error {
			post, err := a.posts.Get(ctx, a.sess, args[0])
			if err != nil {
				return err
			}
			confirm := promptConfirmer(cmd.InOrStdin(), cmd.OutOrStdout())
			if assumeYes {
				confirm = func(context.Context, models.Post) (bool, error) { return true, nil }
			}
			err = a.posts.Delete(ctx, a.sess, post, confirm)
			if errors.Is(err, services.ErrDeleteCancelled) {
				fmt.Fprintln(cmd.OutOrStdout(), services.UserMessage(err))
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", post.Title)
			return nil
		})
	},
}

var postsWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print post totals every time the collection changes, until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context, a *adminSession) error {
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
			defer stop()

			dash, err := a.posts.OpenDashboard(ctx, a.sess)
			if err != nil {
				return err
			}
			defer dash.Close()
			dash.FollowSession(func(c context.Context) (*models.Session, error) {
				return a.sessions.Get(c, a.sess.ID)
			})

			out := cmd.OutOrStdout()
			for {
				select {
				case <-ctx.Done():
					return nil
				case u, ok := <-dash.Updates():
					if !ok {
						return nil
					}
					if u.Err != nil {
						fmt.Fprintln(out, services.UserMessage(u.Err))
						continue
					}
					fmt.Fprintf(out, "[%s] ", u.At.Format("15:04:05"))
					printStats(out, u.Stats)
				}
			}
		})
	},
}

func init() {
	postsDeleteCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "skip the confirmation prompt")
	postsCmd.AddCommand(postsListCmd, postsStatsCmd, postsToggleCmd, postsDeleteCmd, postsWatchCmd)
}

// promptConfirmer asks on out and accepts only an explicit yes read from in.
func promptConfirmer(in io.Reader, out io.Writer) services.Confirmer {
	return func(ctx context.Context, post models.Post) (bool, error) {
		fmt.Fprintf(out, "%s [y/N] ", services.DeletePrompt(post))
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && line == "" {
			if errors.Is(err, io.EOF) {
				return false, nil
			}
			return false, err
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true, nil
		}
		return false, nil
	}
}

func printPosts(out io.Writer, posts []models.Post) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tUPDATED\tTITLE")
	for _, p := range posts {
		status := "draft"
		if p.Published {
			status = "published"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.ID, status, p.UpdatedAt.Local().Format("2006-01-02 15:04"), p.Title)
	}
	_ = tw.Flush()
	printStats(out, services.ComputeStats(posts))
}

func printStats(out io.Writer, s services.PostStats) {
	fmt.Fprintf(out, "total %d, published %d, drafts %d\n", s.Total, s.Published, s.Drafts)
}
