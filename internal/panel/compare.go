package panel

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/dgnsrekt/overlay_agent/internal/extract"
	"github.com/dgnsrekt/overlay_agent/internal/fetch"
)

var (
	ErrInvalidCode = errors.New("panel: invalid compare code")
	ErrNoBaseline  = errors.New("panel: no matched item to compare against")
)

// CompareState is the comparison held against the current item.
type CompareState struct {
	Baseline         *fetch.Outcome `json:"baseline,omitempty"`
	Candidate        string         `json:"candidate,omitempty"`
	CandidateOutcome *fetch.Outcome `json:"candidate_outcome,omitempty"`
	Pending          bool           `json:"pending"`
}

// Comparer fetches a second item for side-by-side display. It runs on the
// same scheduler as its Machine.
type Comparer struct {
	ext      *extract.Extractor
	fetcher  Fetcher
	onChange func()

	baseline         *fetch.Outcome
	candidate        string
	candidateOutcome *fetch.Outcome
	seq              int
}

// NewComparer creates a Comparer. onChange is called after every applied
// candidate result.
func NewComparer(ext *extract.Extractor, fetcher Fetcher, onChange func()) *Comparer {
	return &Comparer{ext: ext, fetcher: fetcher, onChange: onChange}
}

// SetBaseline records the last matched outcome of the current item. A
// different code resets any comparison in progress.
func (c *Comparer) SetBaseline(o fetch.Outcome) {
	if !o.IsMatched() {
		return
	}
	if c.baseline != nil && c.baseline.Code != o.Code {
		c.Reset()
	}
	c.baseline = &o
}

// Reset drops the baseline, the candidate and any in-flight result.
func (c *Comparer) Reset() {
	if c.baseline == nil && c.candidate == "" {
		return
	}
	slog.Debug("compare reset", "candidate", c.candidate)
	c.baseline = nil
	c.candidate = ""
	c.candidateOutcome = nil
	c.seq++
}

// Clear removes the candidate and keeps the baseline.
func (c *Comparer) Clear() {
	c.candidate = ""
	c.candidateOutcome = nil
	c.seq++
}

// Select starts comparing the baseline with code.
func (c *Comparer) Select(code string) error {
	norm, ok := c.ext.Normalize(code)
	if !ok {
		return fmt.Errorf("%w: %q", ErrInvalidCode, code)
	}
	if c.baseline == nil {
		return ErrNoBaseline
	}

	base := c.baseline.Code
	c.seq++
	seq := c.seq
	c.candidate = norm
	c.candidateOutcome = nil
	slog.Info("compare selected", "baseline", base, "candidate", norm)

	c.fetcher.Fetch(norm, func(o fetch.Outcome) {
		if seq != c.seq || c.baseline == nil || c.baseline.Code != base {
			slog.Debug("compare outcome stale", "baseline", base, "candidate", norm, "kind", o.Kind)
			return
		}
		c.candidateOutcome = &o
		c.changed()
	})
	c.changed()
	return nil
}

// State returns a copy of the comparison.
func (c *Comparer) State() CompareState {
	s := CompareState{Candidate: c.candidate}
	if c.baseline != nil {
		b := *c.baseline
		s.Baseline = &b
	}
	if c.candidateOutcome != nil {
		o := *c.candidateOutcome
		s.CandidateOutcome = &o
	}
	s.Pending = c.candidate != "" && c.candidateOutcome == nil
	return s
}

func (c *Comparer) view() *CompareView {
	if c.candidate == "" {
		return nil
	}
	v := &CompareView{Candidate: c.candidate}
	if c.candidateOutcome == nil {
		v.Pending = true
		return v
	}
	switch o := c.candidateOutcome; o.Kind {
	case fetch.KindMatched:
		v.Item = o.Item
		v.Metrics = o.Metrics
	case fetch.KindNotMatched:
		v.Message = MessageNotFound
	case fetch.KindTimedOut:
		v.Message = MessageTimedOut
	default:
		v.Message = MessageTransport
	}
	return v
}

func (c *Comparer) changed() {
	if c.onChange != nil {
		c.onChange()
	}
}
