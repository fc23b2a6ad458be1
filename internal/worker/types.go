package worker

import (
	"io"
	"os"
	"regexp"
)

// DefaultErrorToken is the substring that marks a captured line as an error.
const DefaultErrorToken = "Error"

// Options controls how workers report on finished jobs.
type Options struct {
	// ErrorToken is matched case-sensitively against each captured line of a
	// failed job. Empty means DefaultErrorToken.
	ErrorToken string
	// Verbose reports every captured line of a failed job, not only matches.
	Verbose bool
	// Filter echoes matching lines of every job to Out. nil disables echo;
	// the empty pattern echoes everything.
	Filter *regexp.Regexp
	// Out is the operator-visible stream. nil means os.Stdout.
	Out io.Writer
	// Recorder receives per-job counters. nil disables recording.
	Recorder Recorder
}

func (o Options) withDefaults() Options {
	if o.ErrorToken == "" {
		o.ErrorToken = DefaultErrorToken
	}
	if o.Out == nil {
		o.Out = os.Stdout
	}
	if o.Recorder == nil {
		o.Recorder = nopRecorder{}
	}
	return o
}

// Recorder is the subset of metrics a worker reports.
type Recorder interface {
	RecordDispatch()
	RecordFinished(succeeded bool, seconds float64)
}

type nopRecorder struct{}

func (nopRecorder) RecordDispatch()              {}
func (nopRecorder) RecordFinished(bool, float64) {}
