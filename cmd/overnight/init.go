package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/aristath/overnight/internal/checkpoint"
	"github.com/aristath/overnight/internal/config"
	"github.com/aristath/overnight/internal/tui"
)

const ledgerTemplate = `# Tasks

One task per checkbox. Workers take them top to bottom.

- [ ] Describe your first task here
`

func newInitCmd() *cobra.Command {
	var (
		project string
		yes     bool
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the project config, state directory and a task ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			projectDir, err := resolveProject(project)
			if err != nil {
				return fatal(err)
			}
			return initProject(cmd.OutOrStdout(), projectDir, !yes)
		},
	}
	cmd.Flags().StringVarP(&project, "project", "p", ".", "path to the project")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "accept current settings without prompting")
	return cmd
}

func initProject(out io.Writer, projectDir string, interactive bool) error {
	if info, err := os.Stat(projectDir); err != nil || !info.IsDir() {
		return fatal(fmt.Errorf("project path does not exist: %s", projectDir))
	}

	cfg, err := config.LoadDefault(projectDir)
	if err != nil {
		return fatal(err)
	}

	if interactive {
		if err := tui.RunSettings(cfg); err != nil {
			return fatal(err)
		}
	}

	if err := checkpoint.Ignore(stateDir(projectDir)); err != nil {
		return fatal(err)
	}

	path := config.ProjectPath(projectDir)
	if err := config.Save(cfg, path); err != nil {
		return fatal(err)
	}
	fmt.Fprintf(out, "Wrote %s\n", path)

	tasksPath := ledgerPath(projectDir, cfg)
	if _, err := os.Stat(tasksPath); os.IsNotExist(err) {
		if err := os.WriteFile(tasksPath, []byte(ledgerTemplate), 0644); err != nil {
			return fatal(fmt.Errorf("writing %s: %w", tasksPath, err))
		}
		fmt.Fprintf(out, "Wrote %s\n", tasksPath)
	}

	fmt.Fprintln(out, "\nNext: add tasks, then run `overnight start --continuous`.")
	return nil
}
