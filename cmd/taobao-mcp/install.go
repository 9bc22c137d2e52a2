package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/maltedev/taobao-scraper/internal/browser"
)

func newInstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "install",
		Short: "Download the Chromium build used for scraping",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := browser.Install(); err != nil {
				return fmt.Errorf("failed to install chromium: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Chromium installed.")
			return nil
		},
	}
}
