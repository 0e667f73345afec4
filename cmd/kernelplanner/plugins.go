package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mohammad-safakhou/kernelplanner/config"
	"github.com/mohammad-safakhou/kernelplanner/internal/plugin"
	"github.com/mohammad-safakhou/kernelplanner/internal/plugin/builtin"
	srv "github.com/mohammad-safakhou/kernelplanner/internal/server"
)

func pluginsCMD() *cobra.Command {
	var output string
	var cfgPath string

	var plugins = &cobra.Command{
		Use:   "plugins",
		Short: "Print the plugin catalogue",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			reg := plugin.NewRegistry(plugin.WithLogger(log.New(io.Discard, "", 0)))
			if err := builtin.Register(reg, builtin.OptionsFromConfig(cfg.Plugins)); err != nil {
				return err
			}
			return writeCatalogue(cmd.OutOrStdout(), output, srv.CatalogueView(reg))
		},
	}
	plugins.Flags().StringVarP(&output, "output", "o", "json", "json or yaml")
	plugins.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return plugins
}

func writeCatalogue(w io.Writer, format string, views []srv.PluginView) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(views)
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(views)
	}
	return fmt.Errorf("unknown output format %q (json or yaml)", format)
}
