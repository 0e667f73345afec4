package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	var root = &cobra.Command{
		Use:          "kernelplanner",
		Short:        "Goal planner over a plugin registry",
		SilenceUsage: true,
	}

	root.AddCommand(serveCMD(), migrateCMD(), pluginsCMD(), planCMD())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
