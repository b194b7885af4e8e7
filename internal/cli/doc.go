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

/*
Package cli provides the root command and shared configuration for folio's CLI.

This package creates the main Cobra command tree and handles global concerns like
version information, persistent flags, and error handling. Individual commands
are implemented in the internal/commands subpackages.

# Command Tree

	folio
	├── run           Run a workflow and wait for it
	├── validate      Validate workflow YAML against the built-in handlers
	├── serve         Serve the HTTP API, inbox and retention sweep
	├── runs          List runs
	├── status        Show a run's status
	├── records       Show a run's invocation records
	├── resume        Resume a suspended run
	├── cancel        Cancel a run
	├── prune         Delete old finished runs
	├── examples      List, show or copy the example workflows
	├── completion    Generate shell completion scripts
	├── version       Show version
	└── help          Show help

# Global Flags

All commands inherit these flags:

	--verbose, -v    Enable debug logging
	--quiet, -q      Suppress non-error output
	--json           Output in JSON format
	--config         Path to config file

# Exit Codes

  - Exit 0: Success
  - Exit 1: Run failed or general error
  - Exit 2: Invalid workflow
  - Exit 3: Invalid trigger payload
  - Exit 4: Run cancelled or suspended
*/
package cli
