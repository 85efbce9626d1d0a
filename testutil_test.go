package cobs

import (
	"os"
	"testing"
)

// writeFile writes contents to path, failing the test on error. Shared by
// the suites that build documents on disk for the build/extract pipeline.
func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("WriteFile(%s): %v", path, err)
	}
}
