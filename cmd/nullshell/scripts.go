package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var scriptsCmd = &cobra.Command{
	Use:   "scripts",
	Short: "List NuShell scripts in the workspace",
	Args:  cobra.NoArgs,
	RunE:  runScripts,
}

func init() {
	rootCmd.AddCommand(scriptsCmd)
}

func runScripts(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	scripts, err := newLocator(cfg).Find(context.Background(), cfg.Workspace)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(scripts) == 0 {
		fmt.Fprintf(out, "No %s scripts found in %s\n", cfg.Scripts.Extension, cfg.Workspace)
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tPATH")
	for _, s := range scripts {
		fmt.Fprintf(w, "%s\t%s\n", s.Name, s.Rel)
	}
	return w.Flush()
}
