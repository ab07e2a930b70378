// Package version carries the build-time identity of the qemu-compose
// binary, mirroring the teacher's own version package shape (Version/
// GitCommit/BuildAt, overridable via -ldflags at build time).
package version

import "fmt"

// These are overridden at build time via:
//
//	go build -ldflags "-X github.com/zTrix/qemu-compose/version.Version=... \
//	  -X github.com/zTrix/qemu-compose/version.GitCommit=... \
//	  -X github.com/zTrix/qemu-compose/version.BuildAt=..."
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildAt   = "unknown"
)

// Short returns just the version string (for "version --short").
func Short() string {
	return Version
}

// String returns the full multi-line version banner.
func String() string {
	return fmt.Sprintf("qemu-compose %s\ncommit: %s\nbuilt:  %s\n", Version, GitCommit, BuildAt)
}
