package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/myrightwindow/rightwindow/services"
)

var (
	newName         string
	newPassword     string
	confirmPassword string
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or change the admin display name and password",
	Long: `Without flags, prints the account email and display name.

  admin settings --name "Ada Lovelace"
  admin settings --new-password s3cretpass --confirm-password s3cretpass`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context, a *adminSession) error {
			out := cmd.OutOrStdout()
			if newName == "" && newPassword == "" && confirmPassword == "" {
				account, err := a.settings.Load(ctx, a.sess)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "email: %s\nname:  %s\n", account.Email, account.FullName)
				return nil
			}
			res, err := a.settings.Apply(ctx, a.sess, &services.SettingsInput{
				NewPassword:     newPassword,
				ConfirmPassword: confirmPassword,
				DisplayName:     newName,
			})
			if err != nil {
				if res != nil && res.PasswordUpdated {
					fmt.Fprintln(out, services.MsgPasswordUpdated)
				}
				return err
			}
			fmt.Fprintln(out, res.Message)
			return nil
		})
	},
}

func init() {
	settingsCmd.Flags().StringVar(&newName, "name", "", "new display name")
	settingsCmd.Flags().StringVar(&newPassword, "new-password", "", "new password (at least 8 characters)")
	settingsCmd.Flags().StringVar(&confirmPassword, "confirm-password", "", "repeat the new password")
}
