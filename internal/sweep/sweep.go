// ============================================================================
// slotdispatch Sweep - parameter grids to job descriptors
// ============================================================================
//
// Package: internal/sweep
// File: sweep.go
// Purpose: Expand a hyper-parameter sweep into jobs for one dispatch call
//
// Two expansions:
//
//   Combine (grid)   {lr: [0.1, 0.01], bs: [32, 64]}
//                    → 4 combinations, run id from keys with >1 value
//                      e.g. "bs_32_lr_0.1"
//
//   List (rows)      common {epochs: 10}, rows [{lr: 0.1}, {lr: 0.5}]
//                    → 2 param sets, run id from the row's keys
//                      e.g. "lr_0.1"
//
// Run ids join sorted keys and values with "_", path separators replaced by
// "-". They become the job id and the last element of the job's logdir.
//
// ============================================================================

package sweep

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ChuLiYu/slotdispatch/pkg/types"
)

var (
	// ErrEmptySweep is returned by Expand when neither grid nor list is set.
	ErrEmptySweep = errors.New("sweep has neither grid nor list")
	// ErrNoCommand is returned when the sweep has no base command.
	ErrNoCommand = errors.New("sweep command is required")
)

// Params is one expanded parameter set.
type Params struct {
	RunID  string
	Values map[string]any
}

// Spec is the `sweep:` block of a job file.
type Spec struct {
	Cmd     string           `yaml:"cmd"`
	LogRoot string           `yaml:"logroot"`
	Common  map[string]any   `yaml:"common,omitempty"`
	Grid    map[string]any   `yaml:"grid,omitempty"`
	List    []map[string]any `yaml:"list,omitempty"`
}

// Expand turns the sweep into job descriptors: grid combinations first,
// then list rows. Common values apply to both.
func (s Spec) Expand() ([]types.Job, error) {
	if s.Cmd == "" {
		return nil, ErrNoCommand
	}
	if len(s.Grid) == 0 && len(s.List) == 0 {
		return nil, ErrEmptySweep
	}

	var params []Params
	if len(s.Grid) > 0 {
		for _, p := range Combine(s.Grid) {
			for k, v := range s.Common {
				if _, ok := p.Values[k]; !ok {
					p.Values[k] = v
				}
			}
			params = append(params, p)
		}
	}
	if len(s.List) > 0 {
		params = append(params, List(s.Common, s.List)...)
	}
	return Jobs(s.Cmd, s.LogRoot, params)
}

// Combine returns every combination of the grid values, first key (in
// sorted order) varying slowest. A non-list value counts as a single
// choice and is left out of the run id. An empty list yields no
// combinations at all.
func Combine(grid map[string]any) []Params {
	keys := sortedKeys(grid)
	choices := make([][]any, len(keys))
	for i, k := range keys {
		choices[i] = asList(grid[k])
	}

	total := 1
	for _, c := range choices {
		total *= len(c)
	}

	out := make([]Params, 0, total)
	idx := make([]int, len(keys))
	for n := 0; n < total; n++ {
		values := make(map[string]any, len(keys))
		var id []string
		for i, k := range keys {
			v := choices[i][idx[i]]
			values[k] = v
			if len(choices[i]) > 1 {
				id = append(id, runIDPart(k), runIDPart(FormatValue(v)))
			}
		}
		out = append(out, Params{RunID: strings.Join(id, "_"), Values: values})

		// odometer, last key fastest
		for i := len(idx) - 1; i >= 0; i-- {
			idx[i]++
			if idx[i] < len(choices[i]) {
				break
			}
			idx[i] = 0
		}
	}
	return out
}

// List merges common into every row (row values win). The run id is built
// from the row's own keys only.
func List(common map[string]any, rows []map[string]any) []Params {
	out := make([]Params, 0, len(rows))
	for _, row := range rows {
		values := make(map[string]any, len(common)+len(row))
		for k, v := range common {
			values[k] = v
		}
		for k, v := range row {
			values[k] = v
		}

		var id []string
		for _, k := range sortedKeys(row) {
			id = append(id, runIDPart(k), runIDPart(FormatValue(values[k])))
		}
		out = append(out, Params{RunID: strings.Join(id, "_"), Values: values})
	}
	return out
}

// Jobs renders each param set as `cmd --k=v ...` with sorted keys. The run
// id is the job id and logroot/runid the logdir. A param set without a run
// id is named run_<index>.
func Jobs(cmd, logroot string, params []Params) ([]types.Job, error) {
	if cmd == "" {
		return nil, ErrNoCommand
	}

	jobs := make([]types.Job, 0, len(params))
	for i, p := range params {
		id := p.RunID
		if id == "" {
			id = fmt.Sprintf("run_%d", i)
		}

		var b strings.Builder
		b.WriteString(cmd)
		for _, k := range sortedKeys(p.Values) {
			b.WriteString(" ")
			b.WriteString(shellQuote("--" + k + "=" + FormatValue(p.Values[k])))
		}

		job, err := types.NewJob(id, b.String(), filepath.Join(logroot, id))
		if err != nil {
			return nil, fmt.Errorf("param set %d: %w", i, err)
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// FormatValue renders a parameter value for run ids and flags.
func FormatValue(v any) string {
	return fmt.Sprint(v)
}

// runIDPart keeps path separators out of run ids, which name log files.
// Flag values are rendered unchanged.
func runIDPart(s string) string {
	s = strings.ReplaceAll(s, "/", "-")
	if filepath.Separator != '/' {
		s = strings.ReplaceAll(s, string(filepath.Separator), "-")
	}
	return s
}

func asList(v any) []any {
	if list, ok := v.([]any); ok {
		return list
	}
	return []any{v}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// shellQuote single-quotes s unless it only holds characters that are
// safe in a POSIX shell word.
func shellQuote(s string) string {
	safe := true
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || strings.ContainsRune("-_=.,:/+@%", r)) {
			safe = false
			break
		}
	}
	if safe && s != "" {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
