package agent

import (
	"os"
	"path/filepath"
	"testing"
)

// writeTempCommand writes an executable shell script and returns its path.
func writeTempCommand(t *testing.T, script string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fake-agent")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake agent: %v", err)
	}
	return path
}

// fakeStreamScript builds a script that drains stdin then prints each
// given line on stdout.
func fakeStreamScript(lines ...string) string {
	script := "#!/bin/sh\ncat > /dev/null\n"
	for _, line := range lines {
		script += "echo '" + line + "'\n"
	}
	return script
}
