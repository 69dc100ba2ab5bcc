package config

import (
	"os"
	"testing"
)

// chdirTemp changes the working directory to a fresh temp dir for the
// duration of the test, restoring it on cleanup (equivalent to
// t.Chdir(t.TempDir()) on Go 1.24+).
func chdirTemp(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(prev); err != nil {
			t.Fatal(err)
		}
	})
}
