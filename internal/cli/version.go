package cli

import (
	"fmt"
	"io"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// Release builds set these with -ldflags "-X". Plain `go install` builds
// leave them empty and the module's embedded build info fills in.
var (
	Version   string
	Commit    string
	BuildDate string
)

// buildInfo describes the running binary.
type buildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	Modified  bool   `json:"modified,omitempty"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		info, _ := debug.ReadBuildInfo()
		b := resolveBuild(info)
		if JSONOutput() {
			printJSON(b)
			return
		}
		writeBuild(cmd.OutOrStdout(), b, Verbose())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

// resolveBuild prefers the linker-set values and falls back to the VCS
// stamps Go embeds in module builds. info may be nil.
func resolveBuild(info *debug.BuildInfo) buildInfo {
	b := buildInfo{
		Version:   Version,
		Commit:    Commit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
	if info != nil {
		if b.Version == "" && info.Main.Version != "" && info.Main.Version != "(devel)" {
			b.Version = info.Main.Version
		}
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				if b.Commit == "" {
					b.Commit = s.Value
				}
			case "vcs.time":
				if b.BuildDate == "" {
					b.BuildDate = s.Value
				}
			case "vcs.modified":
				b.Modified = s.Value == "true"
			}
		}
		if info.GoVersion != "" {
			b.GoVersion = info.GoVersion
		}
	}

	if b.Version == "" {
		b.Version = "dev"
	}
	if len(b.Commit) > 12 {
		b.Commit = b.Commit[:12]
	}
	if b.Commit == "" {
		b.Commit = "unknown"
	}
	if b.BuildDate == "" {
		b.BuildDate = "unknown"
	}
	return b
}

func writeBuild(w io.Writer, b buildInfo, verbose bool) {
	fmt.Fprintf(w, "tandem %s\n", b.Version)
	if !verbose {
		return
	}
	commit := b.Commit
	if b.Modified {
		commit += " (modified)"
	}
	fmt.Fprintf(w, "  commit:     %s\n", commit)
	fmt.Fprintf(w, "  built:      %s\n", b.BuildDate)
	fmt.Fprintf(w, "  go version: %s\n", b.GoVersion)
	fmt.Fprintf(w, "  platform:   %s\n", b.Platform)
}
