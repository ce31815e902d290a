// Package version reports how the dispatchd binary was built.
package version

import (
	"encoding/json"
	"fmt"
	"io"
	"runtime"
	"runtime/debug"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// Set by the release build with -ldflags "-X <pkg>.Version=... -X <pkg>.Commit=... -X <pkg>.Date=...".
var (
	Version = "0.1.0-dev"
	Commit  = ""
	Date    = ""
)

// chainModules are the dependencies whose versions decide how the
// dispatcher talks to chains and stores its ledger.
var chainModules = []string{
	"github.com/ethereum/go-ethereum",
	"go.etcd.io/bbolt",
}

// Info describes one build of a binary.
type Info struct {
	Name     string            `json:"name" yaml:"name"`
	Version  string            `json:"version" yaml:"version"`
	Commit   string            `json:"commit,omitempty" yaml:"commit,omitempty"`
	Modified bool              `json:"modified,omitempty" yaml:"modified,omitempty"`
	Date     string            `json:"date,omitempty" yaml:"date,omitempty"`
	Go       string            `json:"go" yaml:"go"`
	Platform string            `json:"platform" yaml:"platform"`
	Tags     []string          `json:"tags,omitempty" yaml:"tags,omitempty"`
	Chain    map[string]string `json:"chain,omitempty" yaml:"chain,omitempty"`
	Deps     []string          `json:"deps,omitempty" yaml:"deps,omitempty"`
}

// Get returns the build info of the running binary. Deps is only filled
// when withDeps is set.
func Get(name string, withDeps bool) Info {
	bi, _ := debug.ReadBuildInfo()
	return collect(name, bi, withDeps)
}

// collect merges the ldflags values with what the toolchain recorded in bi,
// which may be nil. Ldflags win over VCS stamps.
func collect(name string, bi *debug.BuildInfo, withDeps bool) Info {
	info := Info{
		Name:     name,
		Version:  Version,
		Commit:   Commit,
		Date:     Date,
		Go:       runtime.Version(),
		Platform: runtime.GOOS + "/" + runtime.GOARCH,
	}
	if bi == nil {
		return info
	}

	for _, s := range bi.Settings {
		switch s.Key {
		case "-tags":
			if s.Value != "" {
				info.Tags = strings.Split(s.Value, ",")
			}
		case "vcs.revision":
			if info.Commit == "" {
				info.Commit = s.Value
			}
		case "vcs.time":
			if info.Date == "" {
				info.Date = s.Value
			}
		case "vcs.modified":
			info.Modified = s.Value == "true"
		}
	}

	for _, dep := range bi.Deps {
		mod := dep
		if dep.Replace != nil {
			mod = dep.Replace
		}
		for _, path := range chainModules {
			if dep.Path == path {
				if info.Chain == nil {
					info.Chain = make(map[string]string)
				}
				info.Chain[path] = mod.Version
			}
		}
		if !withDeps {
			continue
		}
		entry := dep.Path + "@" + dep.Version
		if dep.Replace != nil {
			entry += " => " + dep.Replace.Path + "@" + dep.Replace.Version
		}
		info.Deps = append(info.Deps, entry)
	}
	sort.Strings(info.Deps)

	return info
}

// Write renders info in the given format: text, json or yaml.
func (i Info) Write(w io.Writer, format string) error {
	switch format {
	case "text", "":
		return i.writeText(w)
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(i)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(i)
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func (i Info) writeText(w io.Writer) error {
	commit := i.Commit
	if commit == "" {
		commit = "unknown"
	}
	if i.Modified {
		commit += " (modified)"
	}

	fmt.Fprintf(w, "%s %s\n", i.Name, i.Version)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "  commit:\t%s\n", commit)
	if i.Date != "" {
		fmt.Fprintf(tw, "  built:\t%s\n", i.Date)
	}
	fmt.Fprintf(tw, "  go:\t%s %s\n", i.Go, i.Platform)
	if len(i.Tags) > 0 {
		fmt.Fprintf(tw, "  tags:\t%s\n", strings.Join(i.Tags, ","))
	}
	for _, path := range chainModules {
		if v, ok := i.Chain[path]; ok {
			fmt.Fprintf(tw, "  %s:\t%s\n", path[strings.LastIndex(path, "/")+1:], v)
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	for _, dep := range i.Deps {
		fmt.Fprintf(w, "  dep %s\n", dep)
	}
	return nil
}

// NewCmd returns the version command of the named binary.
func NewCmd(name string) *cobra.Command {
	var (
		deps   bool
		format string
	)

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Long: `Version prints the release, commit and toolchain of this binary along
with the go-ethereum and bbolt versions it was linked against. Use --deps to
list every module in the build.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return Get(name, deps).Write(cmd.OutOrStdout(), format)
		},
	}

	cmd.Flags().BoolVar(&deps, "deps", false, "Include every module of the build")
	cmd.Flags().StringVarP(&format, "output", "o", "text", "Output format: text, json, yaml")

	return cmd
}
