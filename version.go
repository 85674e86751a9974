package daemonctl

import (
	"strings"

	"golang.org/x/mod/semver"
)

// Version is the current version of the go-daemonctl library
const Version = "0.3.0"

// VersionInfo contains detailed version information
type VersionInfo struct {
	// Version is the semantic version
	Version string `json:"version" yaml:"version"`
	// Variants lists the controller variants this build knows about
	Variants []string `json:"variants" yaml:"variants"`
}

// GetVersion returns the current version information
func GetVersion() VersionInfo {
	return VersionInfo{
		Version: Version,
		Variants: []string{
			VariantStandalone.String(),
			VariantServiceUnit.String(),
			VariantPlatformDaemon.String(),
			VariantPlatformService.String(),
		},
	}
}

// parseVersionPair reads the client's version output, one "<component> <version>"
// line for the client and one for the daemon. ok is false while the daemon has
// not answered yet.
func parseVersionPair(output string) (client, daemon string, ok bool) {
	var versions []string
	for _, line := range strings.Split(output, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		versions = append(versions, fields[len(fields)-1])
	}
	if len(versions) < 2 {
		return "", "", false
	}
	return versions[0], versions[1], true
}

// canonicalSemver maps daemon-style versions ("1.15.0-dev.12+g1234.mac")
// onto the "v"-prefixed form x/mod/semver expects.
func canonicalSemver(v string) string {
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}

// versionSkew describes which side is ahead
func versionSkew(client, daemon string) string {
	c, d := canonicalSemver(client), canonicalSemver(daemon)
	if !semver.IsValid(c) || !semver.IsValid(d) {
		return "incomparable versions"
	}
	switch semver.Compare(c, d) {
	case 1:
		return "client is newer"
	case -1:
		return "daemon is newer"
	default:
		return "same precedence, different build"
	}
}
