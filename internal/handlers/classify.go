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

	"github.com/tombee/folio/pkg/errors"
	"github.com/tombee/folio/pkg/workflow"
	"github.com/tombee/folio/pkg/workflow/expression"
)

// Label vocabularies of the built-in classifiers.
var (
	QualityLabels  = []string{"good", "poor", "unreadable"}
	DocumentLabels = []string{"standard", "classical", "fragmentary"}
)

// classifier picks a label by evaluating config rules in order:
//
//	config:
//	  rules:
//	    - when: confidence < 0.4
//	      label: unreadable
//	    - when: confidence < 0.8
//	      label: poor
//	  default: good
//
// Rules see the node's inputs at top level and under "inputs".
type classifier struct {
	eval   *expression.Evaluator
	labels []string
}

type rule struct {
	when  string
	label string
}

func (c *classifier) Invoke(ctx context.Context, inputs map[string]interface{}, config map[string]interface{}) (interface{}, error) {
	rules, err := c.rules(config)
	if err != nil {
		return nil, err
	}
	fallback, err := stringConfig(config, "default", false)
	if err != nil {
		return nil, err
	}
	if fallback != "" && !workflow.InVocabulary(fallback, c.labels) {
		return nil, errors.Permanentf("config.default: label %q is not one of %v", fallback, c.labels)
	}

	env := make(map[string]interface{}, len(inputs)+1)
	for k, v := range inputs {
		env[k] = v
	}
	env["inputs"] = inputs

	for i, r := range rules {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ok, err := c.eval.Evaluate(r.when, env)
		if err != nil {
			return nil, &errors.PermanentError{Message: fmt.Sprintf("rule %d", i), Cause: err}
		}
		if ok {
			return map[string]interface{}{"label": r.label, "rule": i}, nil
		}
	}

	if fallback == "" {
		return nil, errors.Permanentf("no rule matched and config.default is not set")
	}
	return map[string]interface{}{"label": fallback}, nil
}

func (c *classifier) rules(config map[string]interface{}) ([]rule, error) {
	raw, ok := config["rules"]
	if !ok || raw == nil {
		return nil, nil
	}
	list, ok := raw.([]interface{})
	if !ok {
		return nil, errors.Permanentf("config.rules must be a list, got %T", raw)
	}

	rules := make([]rule, 0, len(list))
	for i, item := range list {
		m, ok := item.(map[string]interface{})
		if !ok {
			return nil, errors.Permanentf("config.rules[%d] must be a mapping", i)
		}
		when, _ := m["when"].(string)
		label, _ := m["label"].(string)
		if when == "" || label == "" {
			return nil, errors.Permanentf("config.rules[%d] needs both when and label", i)
		}
		if !workflow.InVocabulary(label, c.labels) {
			return nil, errors.Permanentf("config.rules[%d]: label %q is not one of %v", i, label, c.labels)
		}
		rules = append(rules, rule{when: when, label: label})
	}
	return rules, nil
}
