package main

import (
	"fmt"

	"docchat/internal/export"
	"docchat/internal/ui"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func (c *cli) runInteractive(cmd *cobra.Command, args []string) error {
	a, err := c.open()
	if err != nil {
		return err
	}
	defer a.Close()

	exp, err := export.New(c.cfg.ExportDir)
	if err != nil {
		return err
	}

	c.logger.Info("starting interactive session", zap.String("api_url", c.cfg.APIBaseURL))
	p := tea.NewProgram(ui.NewModel(c.cfg, a.ctrl, exp), tea.WithAltScreen(), tea.WithContext(cmd.Context()))
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("run ui: %w", err)
	}
	return nil
}
