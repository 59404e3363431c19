package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/spf13/cobra"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check that the host is ready to run the engine",
	Long:  "Verify git, Docker, and the configured agent CLI are installed, and that the data directory is writable.",
	RunE:  runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(_ *cobra.Command, _ []string) error {
	checks := []struct {
		name     string
		command  string
		args     []string
		required bool
	}{
		{"git", "git", []string{"--version"}, true},
		{"docker", "docker", []string{"version", "--format", "{{.Server.Version}}"}, true},
		{"claude", serveAgentPath, []string{"--version"}, false},
	}

	fmt.Println("Checking dependencies...")
	fmt.Println()

	allOk := true
	requiredOk := true

	for _, check := range checks {
		ok := checkCommand(check.command, check.args)
		icon := "✓"
		suffix := ""
		if !ok {
			if check.required {
				icon = "✗"
				requiredOk = false
				allOk = false
			} else {
				icon = "○"
				suffix = " (optional)"
			}
		}
		fmt.Printf("  %s %s%s\n", icon, check.name, suffix)
	}
	fmt.Println()

	fmt.Println("Checking data directory...")
	if err := checkDataDirWritable(dataDir); err != nil {
		fmt.Printf("  ✗ %s: %v\n", dataDir, err)
		allOk = false
	} else {
		fmt.Printf("  ✓ %s is writable\n", dataDir)
	}
	fmt.Println()

	if !requiredOk {
		return fmt.Errorf("dependency check failed")
	}
	if allOk {
		fmt.Println("All required dependencies available")
	} else {
		fmt.Println("Required dependencies available, some issues found above")
	}
	return nil
}

func checkCommand(name string, args []string) bool {
	if name == "" {
		return false
	}
	cmd := exec.Command(name, args...)
	return cmd.Run() == nil
}

func checkDataDirWritable(dir string) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	probe := filepath.Join(dir, ".doctor-probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
		return err
	}
	return os.Remove(probe)
}
