// Package version provides build-time version information for the scproxy binary.
package version

import "fmt"

var (
	// Tag is set at build time via -ldflags, e.g. -X .../internal/version.Tag=v1.2.3.
	Tag string

	// SHA is the build commit hash, set at build time via -ldflags.
	SHA string
)

// String returns the textual representation of the version, falling back to "dev" when the
// binary was built without version ldflags (e.g. a plain `go build`/`go run`).
func String() string {
	tag := Tag
	if tag == "" {
		tag = "dev"
	}

	if SHA == "" {
		return tag
	}

	return fmt.Sprintf("%s (%s)", tag, SHA)
}
