package version

import (
	"bytes"
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"text/tabwriter"
)

// Version represents the current version of mosdbg.
type Version struct {
	Major    string
	Minor    string
	Patch    string
	Metadata string
	Build    string
}

// MosdbgVersion is the current version of mosdbg.
var MosdbgVersion = Version{
	Major: "0", Minor: "3", Patch: "0", Metadata: "",
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

// BuildInfo returns the Go version and the module versions mosdbg was
// built with.
func BuildInfo() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return fmt.Sprintf("%s\nnot built in module mode", runtime.Version())
	}
	return fmt.Sprintf("%s\n%s", runtime.Version(), formatBuildInfo(info))
}

// formatBuildInfo lists the mosdbg module with its VCS state, then the
// dependencies.
func formatBuildInfo(info *debug.BuildInfo) string {
	buf := new(bytes.Buffer)
	w := tabwriter.NewWriter(buf, 0, 8, 1, ' ', 0)
	version := info.Main.Version
	if version == "" {
		version = "(devel)"
	}
	fmt.Fprintf(w, " mosdbg\t%s\t%s\n", info.Main.Path, version)
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision", "vcs.time", "vcs.modified":
			fmt.Fprintf(w, " %s\t%s\n", setting.Key, setting.Value)
		}
	}
	for _, dep := range info.Deps {
		if dep.Replace != nil {
			fmt.Fprintf(w, " dep\t%s\t%s\t=> %s %s\n", dep.Path, dep.Version, dep.Replace.Path, dep.Replace.Version)
			continue
		}
		fmt.Fprintf(w, " dep\t%s\t%s\n", dep.Path, dep.Version)
	}
	w.Flush()
	return buf.String()
}

func fixBuild(v *Version) {
	// Return if v.Build already set, but not if it is Git ident expand file blob hash
	if !strings.HasPrefix(v.Build, "$Id$") {
		return
	}

	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}

	for _, setting := range info.Settings {
		if setting.Key == "vcs.revision" {
			v.Build = setting.Value
			return
		}
	}
}
