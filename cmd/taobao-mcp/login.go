package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/maltedev/taobao-scraper/internal/session"
)

func newLoginCmd(g *globals) *cobra.Command {
	var wait bool

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Open the browser profile and check the Taobao login",
		Long: `Launches the persistent browser profile and checks whether the saved
Taobao login is still valid. With --wait it keeps the window open until
the QR code login completes (bounded by SESSION_LOGIN_WAIT), so later
scrapes and server runs start logged in.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			a, err := newApp(ctx, g.cfg, g.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.sessions.Initialize(ctx)
			if err != nil {
				return fmt.Errorf("failed to initialize browser session: %w", err)
			}
			fmt.Fprintf(out, "[%s] %s\n", res.Status, res.Message)

			if res.Status != session.StatusLoginRequired {
				if res.Status == session.StatusError {
					return fmt.Errorf("session check failed")
				}
				return nil
			}
			if !wait {
				fmt.Fprintln(out, "Log in in the browser window, or re-run with --wait to block until the login completes.")
				return nil
			}

			fmt.Fprintf(out, "Waiting up to %s for login in the browser window...\n", g.cfg.Session.LoginWait)
			if err := a.sessions.WaitForLogin(ctx); err != nil {
				return err
			}

			ok, username, err := a.sessions.CheckLogin(ctx)
			if err != nil {
				return err
			}
			if ok && username != "" {
				fmt.Fprintf(out, "Logged in as: %s\n", username)
			} else {
				fmt.Fprintln(out, "Login completed.")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&wait, "wait", false, "Block until the manual login completes")

	return cmd
}
