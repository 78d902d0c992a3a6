package version

import (
	"fmt"
	"runtime"
	"time"
)

// Set at build time with -ldflags "-X github.com/MrSnakeDoc/sitewatch/internal/version.Version=..."
var (
	Version   = "dev"                           // ex: v0.1.0
	Commit    = "none"                          // ex: abcd123
	BuildDate = time.Now().Format(time.RFC3339) // ex: 2025-08-11T18:42:00Z
	GoVersion = runtime.Version()               // go version
)

// UserAgent identifies sitewatch to the monitoring backend.
func UserAgent() string {
	return fmt.Sprintf("sitewatch/%s (%s)", Version, Commit)
}

// String is the one-line banner logged at startup.
func String() string {
	return fmt.Sprintf("sitewatch %s (commit=%s, built=%s, go=%s)", Version, Commit, BuildDate, GoVersion)
}
