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

package expression

// Roots of the expression context.
const (
	RootTrigger = "trigger"
	RootNodes   = "nodes"
	RootLocal   = "local"
)

// BuildContext creates an expression evaluation context from a run view.
//
// The resulting map has the shape:
//
//	{
//	    "trigger": <trigger payload>,
//	    "nodes": {"node_id": <output>, ...},
//	    "local": {"item": ..., "index": 0, "acc": ...}
//	}
//
// Local values are also exposed at top level (so a loop condition can say
// `acc.count > 3` instead of `local.acc.count > 3`) unless they would
// shadow one of the roots.
func BuildContext(trigger interface{}, nodes map[string]interface{}, local map[string]interface{}) map[string]interface{} {
	ctx := make(map[string]interface{}, 3+len(local))

	ctx[RootTrigger] = trigger
	if nodes != nil {
		ctx[RootNodes] = nodes
	} else {
		ctx[RootNodes] = make(map[string]interface{})
	}

	if local != nil {
		ctx[RootLocal] = local
		for k, v := range local {
			if _, exists := ctx[k]; !exists {
				ctx[k] = v
			}
		}
	}

	return ctx
}
