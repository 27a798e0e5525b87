package main

import (
	"fmt"
	"io"

	"docchat/internal/prefs"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func (c *cli) settingsCmd() *cobra.Command {
	settings := &cobra.Command{
		Use:   "settings",
		Short: "Show or change retrieval and generation settings",
	}
	settings.AddCommand(c.settingsShowCmd(), c.settingsSetCmd(), c.settingsResetCmd())
	return settings
}

func (c *cli) settingsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the saved settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			a, err := c.open()
			if err != nil {
				return err
			}
			defer a.Close()

			return writeSettings(cmd.OutOrStdout(), a.store.Load(ctx), a.catalog)
		},
	}
}

func (c *cli) settingsSetCmd() *cobra.Command {
	var draft prefs.Preferences
	var model string
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Change one or more settings",
		Long: `Updates the saved settings. Only the flags given are changed. New values
apply to the next message sent; earlier answers are not re-asked.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			a, err := c.open()
			if err != nil {
				return err
			}
			defer a.Close()

			p := a.store.Load(ctx)
			fs := cmd.Flags()
			if fs.Changed("fragments") {
				p.FragmentCount = draft.FragmentCount
			}
			if fs.Changed("threshold") {
				p.SimilarityThreshold = draft.SimilarityThreshold
			}
			if fs.Changed("model") {
				p.Model = prefs.Model(model)
			}
			if fs.Changed("temperature") {
				p.Temperature = draft.Temperature
			}
			if err := a.ctrl.SaveSettings(ctx, p); err != nil {
				return err
			}
			return writeSettings(cmd.OutOrStdout(), p, a.catalog)
		},
	}
	cmd.Flags().IntVar(&draft.FragmentCount, "fragments", 0, "fragments retrieved per answer (1-5)")
	cmd.Flags().Float64Var(&draft.SimilarityThreshold, "threshold", 0, "similarity cut-off (0-1)")
	cmd.Flags().StringVar(&model, "model", "", "model name from the catalog")
	cmd.Flags().Float64Var(&draft.Temperature, "temperature", 0, "sampling temperature (0-1)")
	return cmd
}

func (c *cli) settingsResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Forget saved settings and return to defaults",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			a, err := c.open()
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.store.Reset(ctx); err != nil {
				return fmt.Errorf("reset settings: %w", err)
			}
			return writeSettings(cmd.OutOrStdout(), a.store.Load(ctx), a.catalog)
		},
	}
}

func writeSettings(w io.Writer, p prefs.Preferences, catalog prefs.Catalog) error {
	out := struct {
		prefs.Preferences `yaml:",inline"`
		Available         prefs.Catalog `yaml:"available_models"`
	}{p, catalog}
	raw, err := yaml.Marshal(out)
	if err != nil {
		return err
	}
	_, err = w.Write(raw)
	return err
}
