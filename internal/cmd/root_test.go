package cmd

import (
	"bytes"
	"strings"
	"testing"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	if cmd == nil {
		t.Fatal("Root command should not be nil")
	}

	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"--help"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("--help returned error: %v", err)
	}

	output := buf.String()
	if !strings.Contains(output, "gatekeeper") {
		t.Errorf("Help text should contain 'gatekeeper', got: %s", output)
	}
	if !strings.Contains(output, "review queue") {
		t.Errorf("Help text should mention the review queue, got: %s", output)
	}
}

func TestRootCommandHasSubcommands(t *testing.T) {
	cmd := NewRootCommand()
	if cmd.Use != "gatekeeper" {
		t.Errorf("Expected Use to be 'gatekeeper', got '%s'", cmd.Use)
	}

	want := map[string]bool{"run": false, "review": false, "learning": false, "methods": false}
	for _, sub := range cmd.Commands() {
		if _, ok := want[sub.Name()]; ok {
			want[sub.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("subcommand %q not registered", name)
		}
	}

	for _, flag := range []string{"home", "log-level"} {
		if cmd.PersistentFlags().Lookup(flag) == nil {
			t.Errorf("persistent flag --%s missing", flag)
		}
	}
}

func TestMethodsCommandListsCatalog(t *testing.T) {
	home := t.TempDir()
	output, err := executeCommand(t, home, "methods")
	if err != nil {
		t.Fatalf("methods: %v", err)
	}
	assertContains(t, output, "create_wall", "level_id, length, height", "query_elements")
}

func TestMethodsCommandLoadsHomeCatalog(t *testing.T) {
	home := t.TempDir()
	writeHomeFile(t, home, "methods.yaml", `methods:
  - name: create_beam
    description: Create a structural beam
    required: level_id, length
`)
	output, err := executeCommand(t, home, "methods")
	if err != nil {
		t.Fatalf("methods: %v", err)
	}
	assertContains(t, output, "create_beam", "level_id, length", "create_wall")
}
