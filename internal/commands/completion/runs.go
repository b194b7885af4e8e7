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

package completion

import (
	"context"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/folio/internal/log"
	"github.com/tombee/folio/internal/store"
	"github.com/tombee/folio/pkg/execution"
)

const (
	runCacheTTL  = 2 * time.Second
	storeTimeout = 500 * time.Millisecond
)

// runCacheEntry holds cached run completions with expiry.
type runCacheEntry struct {
	runs      []runInfo
	expiresAt time.Time
}

// runInfo represents a run ID with optional description.
type runInfo struct {
	id          string
	workflow    string
	status      string
	description string
}

var (
	runCache   *runCacheEntry
	runCacheMu sync.RWMutex

	// listRuns reads run summaries. Replaced in tests.
	listRuns = listRunsFromStore
)

// CompleteRunIDs provides completion for run ids from the local run store,
// most recent first, with "workflow (status)" as the description.
func CompleteRunIDs(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return SafeCompletionWrapper(func() ([]string, cobra.ShellCompDirective) {
		return completeRuns(false)
	})
}

// CompleteActiveRunIDs completes runs that are still running or suspended.
// Used by resume and cancel.
func CompleteActiveRunIDs(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return SafeCompletionWrapper(func() ([]string, cobra.ShellCompDirective) {
		return completeRuns(true)
	})
}

func completeRuns(activeOnly bool) ([]string, cobra.ShellCompDirective) {
	runs, err := getRunCompletions(activeOnly)
	if err != nil || len(runs) == 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}

	completions := make([]string, 0, len(runs))
	for _, r := range runs {
		completions = append(completions, r.id+"\t"+r.description)
	}
	return completions, cobra.ShellCompDirectiveNoFileComp
}

// getRunCompletions reads runs with a short-lived cache.
func getRunCompletions(activeOnly bool) ([]runInfo, error) {
	runCacheMu.RLock()
	if runCache != nil && time.Now().Before(runCache.expiresAt) {
		cached := runCache.runs
		runCacheMu.RUnlock()
		if activeOnly {
			return filterActiveRuns(cached), nil
		}
		return cached, nil
	}
	runCacheMu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	summaries, err := listRuns(ctx)
	if err != nil {
		return nil, err
	}

	runs := make([]runInfo, 0, len(summaries))
	for _, s := range summaries {
		if s.RunID == "" {
			continue
		}
		runs = append(runs, runInfo{
			id:          s.RunID,
			workflow:    s.WorkflowID,
			status:      string(s.Status),
			description: describeRun(s.WorkflowID, string(s.Status)),
		})
	}

	runCacheMu.Lock()
	runCache = &runCacheEntry{
		runs:      runs,
		expiresAt: time.Now().Add(runCacheTTL),
	}
	runCacheMu.Unlock()

	if activeOnly {
		return filterActiveRuns(runs), nil
	}
	return runs, nil
}

// listRunsFromStore opens the configured store briefly. A store locked by
// a running server fails and yields no completions.
func listRunsFromStore(ctx context.Context) ([]execution.Summary, error) {
	cfg, err := LoadConfigForCompletion()
	if err != nil || cfg == nil {
		return nil, err
	}

	st, err := store.Open(cfg.Store, cfg.DataDir, log.Discard())
	if err != nil {
		return nil, err
	}
	defer st.Close()

	return st.List(ctx)
}

func describeRun(workflow, status string) string {
	switch {
	case workflow == "":
		return status
	case status == "":
		return workflow
	default:
		return workflow + " (" + status + ")"
	}
}

// filterActiveRuns returns only runs that can still make progress.
func filterActiveRuns(runs []runInfo) []runInfo {
	active := make([]runInfo, 0, len(runs))
	for _, r := range runs {
		if r.status == string(execution.StatusRunning) {
			active = append(active, r)
		}
	}
	return active
}
