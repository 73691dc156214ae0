package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// executeCommand runs the root command against home and returns stdout.
func executeCommand(t *testing.T, home string, args ...string) (string, error) {
	t.Helper()
	return executeCommandWithInput(t, home, "", args...)
}

func executeCommandWithInput(t *testing.T, home, input string, args ...string) (string, error) {
	t.Helper()

	rootCmd := NewRootCommand()
	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	rootCmd.SetIn(strings.NewReader(input))
	rootCmd.SetArgs(append([]string{"--home", home, "--log-level", "error"}, args...))

	err := rootCmd.Execute()
	return stdout.String(), err
}

// writeBatchFile writes content to a batch file in a fresh temp dir.
func writeBatchFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "batch.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to create batch file: %v", err)
	}
	return path
}

func assertContains(t *testing.T, output string, wants ...string) {
	t.Helper()
	for _, want := range wants {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output:\n%s", want, output)
		}
	}
}

func writeHomeFile(t *testing.T, home, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(home, name), []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}
