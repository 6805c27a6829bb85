package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hyodotdev/locanara/internal/catalog"
)

func newModelsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List downloaded models",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			cat, err := catalog.Open(cfg.ModelsDir, newLogger(cfg.Log))
			if err != nil {
				return err
			}
			models := cat.List()
			if len(models) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "no models in %s\n", cat.Dir())
				return nil
			}
			for _, m := range models {
				quant := m.Quant
				if quant == "" {
					quant = "?"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d MB\t%s\n", m.ID, m.SizeMB, quant)
			}
			return nil
		},
	}
}
