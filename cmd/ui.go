package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/CosmoTheDev/klara-agent/internal/tui"
)

var uiCmd = &cobra.Command{
	Use:   "ui",
	Short: "Launch the terminal dashboard",
	Long:  `Opens the interactive terminal UI for the health score, open issues and fix history. Issues can be fixed and fixes undone from the UI.`,
	RunE:  runUI,
}

func runUI(cmd *cobra.Command, args []string) error {
	svc, closeDB, err := openServices(context.Background())
	if err != nil {
		return err
	}
	defer closeDB()

	app := tui.NewApp(svc)
	return app.Run()
}
