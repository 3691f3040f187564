package config

import (
	"os"
	"path/filepath"
)

// ResolveBaseDir picks the directory overseerd anchors its task store
// to: the executable's directory when running as a packaged binary,
// the process working directory otherwise. There is no portable OS signal
// for "packaged vs. run from source", so the heuristic is: a go.mod in
// (or above) the current working directory means we're being run via
// `go run`/`go test` from a checkout, i.e. dev mode, so use the cwd;
// its absence means we're an installed binary, so anchor to the
// executable's own directory.
func ResolveBaseDir() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}

	if hasGoModAbove(cwd) {
		return cwd, nil
	}

	exe, err := os.Executable()
	if err != nil {
		return cwd, nil
	}
	real, err := filepath.EvalSymlinks(exe)
	if err != nil {
		real = exe
	}
	return filepath.Dir(real), nil
}

func hasGoModAbove(dir string) bool {
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return false
		}
		dir = parent
	}
}
