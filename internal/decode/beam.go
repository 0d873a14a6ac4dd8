package decode

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"

	"github.com/zvengin/captioneval/internal/logits"
)

type beamEntry struct {
	hyp   Hypothesis
	state State
}

type candidate struct {
	parent  int
	token   int
	logProb float64
	score   float64
	state   State
}

// BeamSearch keeps the BeamWidth best partial captions at every step and
// returns up to BeamWidth hypotheses ranked by normalized score. Finished
// hypotheses are preferred; when none finished within MaxLength the best
// unfinished ones are returned as they stand.
func (d *Decoder) BeamSearch(ctx context.Context, features []float32) ([]Hypothesis, error) {
	k := d.cfg.BeamWidth
	state, err := d.model.Start(ctx, features)
	if err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	active := []beamEntry{{hyp: Hypothesis{Tokens: []int{d.cfg.StartID}}, state: state}}
	var (
		finished []Hypothesis
		lp       []float64
		top      []int
		cands    = make([]candidate, 0, k*k)
	)

	for step := 0; step < d.cfg.MaxLength && len(active) > 0; step++ {
		cands = cands[:0]
		for i, e := range active {
			var next State
			lp, next, err = d.step(ctx, e.state, e.hyp, lp)
			if err != nil {
				return nil, fmt.Errorf("step %d: %w", step, err)
			}
			top = logits.TopK(top, lp, k)
			for _, tok := range top {
				if math.IsInf(lp[tok], -1) {
					continue
				}
				cands = append(cands, candidate{
					parent:  i,
					token:   tok,
					logProb: lp[tok],
					score:   e.hyp.Score + lp[tok],
					state:   next,
				})
			}
		}
		slices.SortStableFunc(cands, func(a, b candidate) int {
			return cmp.Compare(b.score, a.score)
		})

		var nextActive []beamEntry
		switch d.cfg.Policy {
		case PolicyOccupy:
			nextActive, finished = d.selectOccupy(active, cands, finished)
		default:
			nextActive, finished = d.selectFree(active, cands, finished)
		}
		active = nextActive
	}

	var out []Hypothesis
	if len(finished) > 0 {
		out = finished
	} else {
		out = make([]Hypothesis, len(active))
		for i, e := range active {
			out[i] = e.hyp
		}
	}
	Rank(out)
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// selectFree fills the next beam with up to k unfinished candidates. End
// token candidates met along the way are finished and do not take a slot.
func (d *Decoder) selectFree(active []beamEntry, cands []candidate, finished []Hypothesis) ([]beamEntry, []Hypothesis) {
	k := d.cfg.BeamWidth
	next := make([]beamEntry, 0, k)
	for _, c := range cands {
		if len(next) == k {
			break
		}
		parent := active[c.parent].hyp
		if c.token == d.cfg.EndID {
			finished = append(finished, parent.extend(c.token, c.logProb, true))
			if len(finished) >= k {
				return nil, finished
			}
			continue
		}
		next = append(next, beamEntry{
			hyp:   parent.extend(c.token, c.logProb, false),
			state: c.state,
		})
	}
	return next, finished
}

// selectOccupy keeps the best k-len(finished) candidates. Those ending in
// the end token are finished and keep holding their slot.
func (d *Decoder) selectOccupy(active []beamEntry, cands []candidate, finished []Hypothesis) ([]beamEntry, []Hypothesis) {
	capacity := d.cfg.BeamWidth - len(finished)
	if capacity <= 0 {
		return nil, finished
	}
	if len(cands) > capacity {
		cands = cands[:capacity]
	}
	next := make([]beamEntry, 0, len(cands))
	for _, c := range cands {
		parent := active[c.parent].hyp
		if c.token == d.cfg.EndID {
			finished = append(finished, parent.extend(c.token, c.logProb, true))
			continue
		}
		next = append(next, beamEntry{
			hyp:   parent.extend(c.token, c.logProb, false),
			state: c.state,
		})
	}
	return next, finished
}
