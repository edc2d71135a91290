// Package version holds build-time version info injected via ldflags.
//
// Set at compile time:
//
//	go build -ldflags "-X github.com/hebbarp/ahoy/pkg/version.tag=v0.1.0
//	  -X github.com/hebbarp/ahoy/pkg/version.commit=abc1234"
//
// The version string travels in discovery announcements, so peers can see
// what build a node runs.
package version

// Populated by -ldflags "-X ...". Defaults are used for local dev builds.
var (
	tag    = ""        // git tag, empty when not on a tag
	commit = "unknown" // short git commit SHA
)

// String returns the tag if set, the commit otherwise, or "dev".
func String() string {
	if tag != "" {
		return tag
	}
	if commit != "unknown" {
		return commit
	}
	return "dev"
}
