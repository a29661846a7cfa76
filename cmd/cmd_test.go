package cmd

import (
	"bytes"
	"strings"
	"testing"
)

func TestSubcommandsRegistered(t *testing.T) {
	want := map[string]bool{"serve": false, "ingest": false, "ask": false, "version": false}
	for _, c := range rootCmd.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("subcommand %q not registered", name)
		}
	}
}

func TestVersionOutput(t *testing.T) {
	out := new(bytes.Buffer)
	rootCmd.SetOut(out)
	rootCmd.SetArgs([]string{"version"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("Execute() = %v", err)
	}
	if !strings.Contains(out.String(), "Lexica") {
		t.Errorf("version output = %q, want it to mention Lexica", out.String())
	}
}

func TestIngestRequiresInput(t *testing.T) {
	if err := runIngest(nil); err == nil {
		t.Fatal("runIngest(nil) = nil, want error")
	}
}
