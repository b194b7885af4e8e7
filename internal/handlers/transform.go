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

package handlers

import (
	"context"
	"fmt"

	"github.com/tombee/folio/internal/jq"
	"github.com/tombee/folio/pkg/errors"
)

func passthrough(ctx context.Context, inputs map[string]interface{}, config map[string]interface{}) (interface{}, error) {
	return inputs, nil
}

// transform runs the jq program in config["program"] over the node's inputs.
type transform struct {
	executor *jq.Executor
}

func (t *transform) Invoke(ctx context.Context, inputs map[string]interface{}, config map[string]interface{}) (interface{}, error) {
	program, err := stringConfig(config, "program", true)
	if err != nil {
		return nil, err
	}
	return t.executor.Execute(ctx, program, inputs)
}

// stringConfig reads a string config field. A missing required field is a
// permanent error: retrying with the same config cannot succeed.
func stringConfig(config map[string]interface{}, key string, required bool) (string, error) {
	raw, ok := config[key]
	if !ok || raw == nil {
		if required {
			return "", errors.Permanentf("config.%s is required", key)
		}
		return "", nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", errors.Permanentf("config.%s must be a string, got %T", key, raw)
	}
	return s, nil
}

// stringInput reads a string input slot, falling back to a config field.
func stringInput(inputs, config map[string]interface{}, key string) (string, error) {
	if raw, ok := inputs[key]; ok && raw != nil {
		s, ok := raw.(string)
		if !ok {
			return "", errors.Permanentf("input %s must be a string, got %T", key, raw)
		}
		return s, nil
	}
	s, err := stringConfig(config, key, false)
	if err != nil {
		return "", err
	}
	if s == "" {
		return "", &errors.PermanentError{Message: fmt.Sprintf("%s is required as an input or in config", key)}
	}
	return s, nil
}
