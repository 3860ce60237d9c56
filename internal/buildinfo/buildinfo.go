// Package buildinfo carries version data stamped at link time:
//
//	go build -ldflags "-X fieldroute/internal/buildinfo.Version=v1.2.0"
package buildinfo

import (
	"runtime"
	"runtime/debug"
)

var (
	Version = "dev"
	Commit  = ""
	BuiltAt = ""
)

// Info returns the stamped values. Commit falls back to the VCS revision
// recorded by the go tool.
func Info() map[string]string {
	commit := Commit
	if commit == "" {
		if bi, ok := debug.ReadBuildInfo(); ok {
			for _, s := range bi.Settings {
				if s.Key == "vcs.revision" {
					commit = s.Value
				}
			}
		}
	}
	return map[string]string{
		"version":   Version,
		"commit":    commit,
		"builtAt":   BuiltAt,
		"goVersion": runtime.Version(),
	}
}

// String is the one-line form printed by the CLI.
func String() string {
	i := Info()
	s := "routeplan " + i["version"]
	if i["commit"] != "" {
		c := i["commit"]
		if len(c) > 12 {
			c = c[:12]
		}
		s += " (" + c + ")"
	}
	return s + " " + i["goVersion"]
}
