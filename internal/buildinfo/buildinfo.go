// Package buildinfo exposes version metadata stamped at build time.
package buildinfo

import (
	"fmt"
	"io"
)

// Populated via -ldflags at build time, for example:
//
//	go build -ldflags "-X github.com/avoronov/userdir/internal/buildinfo.buildVersion=v1.0.0"
var (
	buildVersion = "N/A"
	buildDate    = "N/A"
	buildCommit  = "N/A"
)

func PrintBuildData(w io.Writer) {
	fmt.Fprintf(w, "Build version: %s\n", buildVersion)
	fmt.Fprintf(w, "Build date: %s\n", buildDate)
	fmt.Fprintf(w, "Build commit: %s\n", buildCommit)
}
