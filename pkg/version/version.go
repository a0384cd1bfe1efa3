// Package version carries the semantic version of the statement engine.
package version

import (
	"fmt"
	"runtime"
)

// Version information - using semantic versioning
const (
	Major         = 1
	Minor         = 0
	Patch         = 0
	PreRelease    = "" // e.g., "alpha", "beta", "rc1"
	BuildMetadata = ""
	GitCommit     = ""
)

// AppName identifies the application in banners and version strings.
const AppName = "DeBooks Statement Engine"

// Version returns the semantic version string
func Version() string {
	version := fmt.Sprintf("%d.%d.%d", Major, Minor, Patch)
	if PreRelease != "" {
		version += "-" + PreRelease
	}
	if BuildMetadata != "" {
		version += "+" + BuildMetadata
	}
	return version
}

// BuildInfo contains build information reported at startup.
type BuildInfo struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit,omitempty"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
	AppName   string `json:"app_name"`
}

// GetBuildInfo returns complete build information
func GetBuildInfo() *BuildInfo {
	return &BuildInfo{
		Version:   Version(),
		GitCommit: GitCommit,
		GoVersion: runtime.Version(),
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
		AppName:   AppName,
	}
}

// GetVersionString returns a formatted version string
func GetVersionString() string {
	info := GetBuildInfo()
	if info.GitCommit != "" && len(info.GitCommit) >= 7 {
		return fmt.Sprintf("%s (%s)", info.Version, info.GitCommit[:7])
	}
	return info.Version
}

// GetFullVersionString returns a complete version string with build info
func GetFullVersionString() string {
	info := GetBuildInfo()
	return fmt.Sprintf("%s v%s (go: %s, platform: %s)",
		info.AppName, info.Version, info.GoVersion, info.Platform)
}

// IsPreRelease returns true if this is a pre-release version
func IsPreRelease() bool {
	return PreRelease != ""
}
