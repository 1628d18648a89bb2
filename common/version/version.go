// Package version holds build metadata injected with -ldflags, e.g.
//
//	go build -ldflags "-X github.com/bdobrica/Kakehashi/common/version.Version=v0.3.0"
package version

var (
	Version   = "v0.0.0-dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Info returns a one-line version string for --version output and logs.
func Info() string {
	return "kakehashi " + Version + " (" + GitCommit + ", built " + BuildTime + ")"
}
