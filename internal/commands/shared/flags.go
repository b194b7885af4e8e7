// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package shared

import (
	"runtime"

	"github.com/spf13/pflag"
)

// globals holds the persistent flags bound on the root command.
var globals struct {
	verbose bool
	quiet   bool
	json    bool
	config  string
}

// BuildInfo identifies the folio binary.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

var build = BuildInfo{Version: "dev", Commit: "unknown", BuildDate: "unknown"}

// BindFlags registers the global flags on a root command's persistent set.
func BindFlags(fs *pflag.FlagSet) {
	fs.BoolVarP(&globals.verbose, "verbose", "v", false, "Enable debug logging")
	fs.BoolVarP(&globals.quiet, "quiet", "q", false, "Suppress non-error output")
	fs.BoolVar(&globals.json, "json", false, "Output in JSON format")
	fs.StringVar(&globals.config, "config", "", "Path to config file (default: ~/.config/folio/config.yaml)")
}

// SetVersion records the linker-provided build metadata.
func SetVersion(version, commit, buildDate string) {
	build.Version = version
	build.Commit = commit
	build.BuildDate = buildDate
}

// Build returns the binary's build metadata.
func Build() BuildInfo {
	info := build
	info.GoVersion = runtime.Version()
	info.Platform = runtime.GOOS + "/" + runtime.GOARCH
	return info
}

func GetVerbose() bool { return globals.verbose }

func GetQuiet() bool { return globals.quiet }

// GetJSON reports whether output should be machine-readable.
func GetJSON() bool { return globals.json }

// GetConfigPath returns the --config value; empty means the default path.
func GetConfigPath() string { return globals.config }

// SetConfigPathForTest overrides --config in tests.
func SetConfigPathForTest(path string) { globals.config = path }

// SetJSONForTest overrides --json in tests.
func SetJSONForTest(v bool) { globals.json = v }
