package version

import (
	_ "embed"
	"fmt"
	"runtime"
	"strings"
)

//go:embed VERSION
var Version string

// Set with -ldflags "-X github.com/amoylab/msgate/pkg/version.Commit=..."
var (
	Commit    = "unknown"
	BuildDate = "unknown"
)

// Get returns the release tag from the embedded VERSION file
func Get() string {
	return strings.TrimSpace(Version)
}

// Long is the one-line build description printed by `msgate version --long`
func Long() string {
	return fmt.Sprintf("%s (commit %s, built %s, %s %s/%s)",
		Get(), Commit, BuildDate, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
