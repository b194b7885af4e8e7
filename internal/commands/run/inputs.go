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

package run

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/goccy/go-json"
)

// loadInputFile loads a JSON object from a file, or from r when path is "-".
func loadInputFile(path string, r io.Reader) (map[string]interface{}, error) {
	var data []byte
	var err error

	if path == "-" {
		data, err = io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("failed to read from stdin: %w", err)
		}
	} else {
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read input file: %w", err)
		}
	}

	var inputs map[string]interface{}
	if err := json.Unmarshal(data, &inputs); err != nil {
		return nil, fmt.Errorf("failed to parse JSON input: %w", err)
	}
	if inputs == nil {
		inputs = make(map[string]interface{})
	}
	return inputs, nil
}

// parseInputs builds the trigger payload: the input file first, then
// key=value arguments on top. A value that is valid JSON keeps its type,
// anything else is a string.
func parseInputs(inputArgs []string, inputFile string, stdin io.Reader) (map[string]interface{}, error) {
	inputs := make(map[string]interface{})
	if inputFile != "" {
		var err error
		if inputs, err = loadInputFile(inputFile, stdin); err != nil {
			return nil, err
		}
	}

	for _, arg := range inputArgs {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid input format %q (expected key=value)", arg)
		}
		inputs[key] = parseValue(value)
	}
	return inputs, nil
}

func parseValue(s string) interface{} {
	trimmed := bytes.TrimSpace([]byte(s))
	if len(trimmed) == 0 {
		return s
	}
	var v interface{}
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return s
	}
	return v
}
