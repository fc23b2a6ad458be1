package cli

import (
	"fmt"
	"os"

	"github.com/ChuLiYu/slotdispatch/internal/sweep"
	"github.com/ChuLiYu/slotdispatch/pkg/types"
	"gopkg.in/yaml.v3"
)

// JobFile is the input of `run` and `sweep`. Explicit jobs come first,
// followed by the expansion of the sweep block.
//
//	jobs:
//	  - {id: a, cmd: "train.py --lr 0.1", logdir: runs/a}
//	sweep:
//	  cmd: train.py
//	  logroot: runs
//	  grid: {lr: [0.1, 0.01]}
type JobFile struct {
	Jobs  []types.Job `yaml:"jobs"`
	Sweep *sweep.Spec `yaml:"sweep,omitempty"`
}

func loadJobFile(path string) ([]types.Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read job file: %w", err)
	}

	var file JobFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse job file: %w", err)
	}

	jobs := file.Jobs
	if file.Sweep != nil {
		expanded, err := file.Sweep.Expand()
		if err != nil {
			return nil, fmt.Errorf("failed to expand sweep: %w", err)
		}
		jobs = append(jobs, expanded...)
	}
	return jobs, nil
}
