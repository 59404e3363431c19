package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/quorum-ai/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-ai/internal/onboard"
	"github.com/hugo-lorenzo-mato/quorum-ai/internal/store"
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage registered projects",
	Long: `Manage the repositories the engine works against.

A project is a managed git repository, cloned once into the data
directory and worked on by the engine's workers through per-task
worktrees. 'quorum project add' registers one; it's safe to run while
'quorum serve' is running, since the registry is guarded by its own
file lock.`,
}

var (
	addProjectBranch    string
	addProjectLocalPath string
	addProjectAutoMerge bool
	addProjectAutoPush  bool
)

var addProjectCmd = &cobra.Command{
	Use:   "add <name> [repo-url]",
	Short: "Register and clone a new project",
	Long: `Register a project and materialize its repository.

Exactly one of a repo URL (positional) or --local-path identifies the
source; omitting both initializes an empty repository.

Examples:
  quorum project add myapp https://github.com/acme/myapp --branch main
  quorum project add myapp --local-path /home/me/myapp
  quorum project add scratch`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runAddProject,
}

var listProjectsCmd = &cobra.Command{
	Use:     "list",
	Short:   "List registered projects",
	Aliases: []string{"ls"},
	RunE:    runListProjects,
}

var removeProjectCmd = &cobra.Command{
	Use:     "remove <project-id>",
	Short:   "Unregister a project",
	Aliases: []string{"rm"},
	Args:    cobra.ExactArgs(1),
	RunE:    runRemoveProject,
}

var retryProjectCmd = &cobra.Command{
	Use:   "retry <project-id>",
	Short: "Retry onboarding a project stuck in the error state",
	Args:  cobra.ExactArgs(1),
	RunE:  runRetryProject,
}

func init() {
	rootCmd.AddCommand(projectCmd)
	projectCmd.AddCommand(addProjectCmd, listProjectsCmd, removeProjectCmd, retryProjectCmd)

	addProjectCmd.Flags().StringVar(&addProjectBranch, "branch", "", "branch to check out (git origin only)")
	addProjectCmd.Flags().StringVar(&addProjectLocalPath, "local-path", "", "clone from a local path instead of a remote URL")
	addProjectCmd.Flags().BoolVar(&addProjectAutoMerge, "auto-merge", false, "merge completed tasks automatically")
	addProjectCmd.Flags().BoolVar(&addProjectAutoPush, "auto-push", false, "push the base branch after an automatic merge")
}

func openRegistry() (*store.ProjectRegistry, error) {
	return store.NewProjectRegistry(dataDir)
}

func runAddProject(cmd *cobra.Command, args []string) error {
	name := args[0]
	origin := core.Origin{Kind: core.OriginEmpty}
	switch {
	case len(args) == 2:
		origin = core.Origin{Kind: core.OriginGit, RepoURL: args[1], Branch: addProjectBranch}
	case addProjectLocalPath != "":
		origin = core.Origin{Kind: core.OriginLocalPath, LocalPath: addProjectLocalPath}
	}

	registry, err := openRegistry()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	project, err := registry.Add(ctx, name, origin)
	if err != nil {
		return fmt.Errorf("registering project: %w", err)
	}

	fmt.Printf("Registered %s (%s), materializing repository...\n", project.Name, project.ID)
	if err := onboardAndMarkStatus(ctx, registry, project); err != nil {
		return err
	}

	if _, err := registry.Update(ctx, project.ID, func(p *core.Project) error {
		p.AutoMerge = addProjectAutoMerge
		p.AutoPush = addProjectAutoPush
		return nil
	}); err != nil {
		return fmt.Errorf("setting project flags: %w", err)
	}
	fmt.Printf("%s is ready.\n", project.ID)
	return nil
}

// onboardAndMarkStatus materializes the project's repository synchronously
// and records the outcome on the registry entry — the CLI command blocks
// until the user can see whether it worked, unlike the Gateway's REST
// handler, which backgrounds the same onboard.Materialize call.
func onboardAndMarkStatus(ctx context.Context, registry *store.ProjectRegistry, project *core.Project) error {
	materializeErr := onboard.Materialize(ctx, dataDir, project)
	if _, err := registry.Update(ctx, project.ID, func(p *core.Project) error {
		if materializeErr != nil {
			p.MarkError(materializeErr.Error())
		} else {
			p.MarkReady()
		}
		return nil
	}); err != nil {
		return fmt.Errorf("recording onboarding result: %w", err)
	}
	if materializeErr != nil {
		return fmt.Errorf("materializing repository: %w", materializeErr)
	}
	return nil
}

func runListProjects(_ *cobra.Command, _ []string) error {
	registry, err := openRegistry()
	if err != nil {
		return err
	}
	projects := registry.List()
	if len(projects) == 0 {
		fmt.Println("No projects registered.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTATUS\tORIGIN")
	for _, p := range projects {
		origin := string(p.Origin.Kind)
		switch p.Origin.Kind {
		case core.OriginGit:
			origin = p.Origin.RepoURL
		case core.OriginLocalPath:
			origin = p.Origin.LocalPath
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.ID, p.Name, p.Status, origin)
	}
	return w.Flush()
}

func runRemoveProject(cmd *cobra.Command, args []string) error {
	registry, err := openRegistry()
	if err != nil {
		return err
	}
	return registry.Remove(cmd.Context(), core.ProjectID(args[0]))
}

func runRetryProject(cmd *cobra.Command, args []string) error {
	registry, err := openRegistry()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	project, err := registry.Get(core.ProjectID(args[0]))
	if err != nil {
		return err
	}
	fmt.Printf("Retrying onboarding for %s...\n", project.ID)
	if err := onboardAndMarkStatus(ctx, registry, project); err != nil {
		return err
	}
	fmt.Printf("%s is ready.\n", project.ID)
	return nil
}
