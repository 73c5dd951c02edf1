package version

import (
	"fmt"
	"runtime"
)

// Version represents the current version of athrill.
type Version struct {
	Major    string
	Minor    string
	Patch    string
	Metadata string
	Build    string
}

// AthrillVersion is the current version of athrill.
var AthrillVersion = Version{
	Major: "1", Minor: "1", Patch: "0", Metadata: "",
	Build: "$Id$",
}

func (v Version) String() string {
	fixBuild(&v)
	ver := fmt.Sprintf("Version: %s.%s.%s", v.Major, v.Minor, v.Patch)
	if v.Metadata != "" {
		ver += "-" + v.Metadata
	}
	return fmt.Sprintf("%s\nBuild: %s", ver, v.Build)
}

var buildInfo = func() string {
	return ""
}

var fixBuild = func(v *Version) {}

// BuildInfo returns the Go version and the module dependencies the
// binary was built with.
func BuildInfo() string {
	return fmt.Sprintf("%s\n%s", runtime.Version(), buildInfo())
}
