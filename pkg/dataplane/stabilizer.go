package dataplane

import (
	"sort"
	"strings"
	"sync"
)

// hypothesis is one rolling-window STT pass, keyed by source hypothesis ID.
type hypothesis struct {
	id    string
	words []WordCandidate
}

// confirmedGroup records a (text, approximate position) that has already
// reached quorum, so a word is confirmed at most once.
type confirmedGroup struct {
	text string
	pos  int
}

// Hypothesis is a read-only snapshot of one rolling-window STT pass, for
// observability. It carries no confirmation state of its own.
type Hypothesis struct {
	ID    string
	Words []WordCandidate
}

// Stabilizer implements LocalAgreement-2: a word is confirmed when it
// appears in at least K agreements across the most recent W hypotheses,
// where two occurrences are "the same word" iff their case-folded texts
// match and their positions differ by at most maxPositionDrift. Ported
// from a single-hypothesis-cache `processWithAgreement` pattern
// (`other_examples/.../streaming_engine.go`) that only compared the
// newest transcript against the last confirmed one; generalized here to
// full K-of-W windowed clustering.
//
// Owned exclusively by one STTStage actor per session; never shared
// across sessions.
type Stabilizer struct {
	mu sync.Mutex

	k                   int
	w                   int
	confidenceThreshold float64
	maxDrift            int

	window    []hypothesis
	confirmed []confirmedGroup
}

func NewStabilizer(cfg Config) *Stabilizer {
	return &Stabilizer{
		k:                   cfg.AgreementThreshold,
		w:                   cfg.StabilityWindow,
		confidenceThreshold: cfg.ConfidenceThreshold,
		maxDrift:            cfg.MaxPositionDrift,
	}
}

func normalizeWord(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// AddHypothesis feeds a fresh recognizer pass into the rolling window and
// returns any words that newly reached quorum.
func (s *Stabilizer) AddHypothesis(id string, words []WordCandidate) []StableWord {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.window = append(s.window, hypothesis{id: id, words: words})
	if len(s.window) > s.w {
		s.window = s.window[len(s.window)-s.w:]
	}

	return s.confirmFromWindow(s.k)
}

// Finalize re-runs confirmation with a relaxed threshold (K-1, minimum 1)
// to emit trailing best-guess words on end-of-speech. Idempotent: calling
// Finalize twice in a row with no new hypotheses in between yields no new
// confirmations the second time, since everything confirmable was already
// confirmed and marked.
func (s *Stabilizer) Finalize() []StableWord {
	s.mu.Lock()
	defer s.mu.Unlock()

	relaxedK := s.k - 1
	if relaxedK < 1 {
		relaxedK = 1
	}
	return s.confirmFromWindow(relaxedK)
}

// confirmFromWindow clusters candidate words across the current hypothesis
// window by (normalized text, drift-tolerant position) and confirms any
// group whose count of *distinct contributing hypotheses* reaches
// threshold. Must be called with s.mu held.
func (s *Stabilizer) confirmFromWindow(threshold int) []StableWord {
	type group struct {
		text        string
		positions   []int
		byHypo      map[int]WordCandidate // hypothesis index -> representative candidate
	}

	groups := make(map[string][]*group)

	for hi, h := range s.window {
		for _, wc := range h.words {
			if wc.Confidence < s.confidenceThreshold {
				continue
			}
			text := normalizeWord(wc.Text)
			if text == "" {
				continue
			}

			candidates := groups[text]
			var target *group
			for _, g := range candidates {
				if withinDrift(g.positions, wc.Position, s.maxDrift) {
					target = g
					break
				}
			}
			if target == nil {
				target = &group{text: text, byHypo: map[int]WordCandidate{}}
				groups[text] = append(groups[text], target)
			}
			// A hypothesis contributes at most once per group — multiple
			// matching words within the same hypothesis still count as 1
			// agreement.
			if _, ok := target.byHypo[hi]; !ok {
				target.byHypo[hi] = wc
			}
			target.positions = append(target.positions, wc.Position)
		}
	}

	var newlyConfirmed []StableWord
	for text, gs := range groups {
		for _, g := range gs {
			if len(g.byHypo) < threshold {
				continue
			}
			repPos := medianPosition(g.positions)
			if s.alreadyConfirmed(text, repPos) {
				continue
			}

			var confSum, startSum, endSum float64
			var firstSeen int64 = -1
			count := 0
			for _, wc := range g.byHypo {
				confSum += wc.Confidence
				startSum += float64(wc.StartTime)
				endSum += float64(wc.EndTime)
				if firstSeen == -1 || wc.StartTime < firstSeen {
					firstSeen = wc.StartTime
				}
				count++
			}
			if count == 0 {
				continue
			}

			// representative candidate (latest hypothesis in the group) for
			// text/position/hypothesis-id fields.
			var rep WordCandidate
			for hi := len(s.window) - 1; hi >= 0; hi-- {
				if wc, ok := g.byHypo[hi]; ok {
					rep = wc
					break
				}
			}

			sw := StableWord{
				WordCandidate: WordCandidate{
					Text:               rep.Text,
					Confidence:         confSum / float64(count),
					StartTime:          int64(startSum / float64(count)),
					EndTime:            int64(endSum / float64(count)),
					Position:           repPos,
					SourceHypothesisID: rep.SourceHypothesisID,
				},
				AgreementCount: count,
				FirstSeenAt:    firstSeen,
				ConfirmedAt:    nowNanos(),
			}
			newlyConfirmed = append(newlyConfirmed, sw)
			s.confirmed = append(s.confirmed, confirmedGroup{text: text, pos: repPos})
		}
	}

	sort.Slice(newlyConfirmed, func(i, j int) bool {
		return newlyConfirmed[i].Position < newlyConfirmed[j].Position
	})
	return newlyConfirmed
}

func (s *Stabilizer) alreadyConfirmed(text string, pos int) bool {
	for _, c := range s.confirmed {
		if c.text == text && abs(c.pos-pos) <= s.maxDrift {
			return true
		}
	}
	return false
}

// WindowSnapshot returns a bounded, read-only copy of the last W
// hypotheses fed to AddHypothesis, oldest first, for
// STTStage.HypothesisHistory. Mutating the result has no effect on the
// stabilizer's internal state.
func (s *Stabilizer) WindowSnapshot() []Hypothesis {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Hypothesis, len(s.window))
	for i, h := range s.window {
		out[i] = Hypothesis{ID: h.id, Words: append([]WordCandidate(nil), h.words...)}
	}
	return out
}

// InterimTail filters the latest hypothesis down to words that have not
// (yet) been confirmed, for CaptionUpdate's interim_words field. Interim
// words may be rewritten at each update; the caller must not persist them.
func (s *Stabilizer) InterimTail(latest []WordCandidate) []WordCandidate {
	s.mu.Lock()
	defer s.mu.Unlock()

	var tail []WordCandidate
	for _, wc := range latest {
		if s.alreadyConfirmed(normalizeWord(wc.Text), wc.Position) {
			continue
		}
		tail = append(tail, wc)
	}
	return tail
}

// GC keeps only the most recent maxEntries confirmation records, dropping
// the oldest first; it is a no-op when maxEntries <= 0. Records carry no
// timestamp, so trimming is by count and never by age. This only trims
// internal dedupe state — already
// emitted StableWords downstream are immutable and unaffected.
func (s *Stabilizer) GC(maxEntries int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if maxEntries > 0 && len(s.confirmed) > maxEntries {
		s.confirmed = s.confirmed[len(s.confirmed)-maxEntries:]
	}
}

func withinDrift(positions []int, pos, drift int) bool {
	for _, p := range positions {
		if abs(p-pos) <= drift {
			return true
		}
	}
	return false
}

func medianPosition(positions []int) int {
	if len(positions) == 0 {
		return 0
	}
	sorted := append([]int(nil), positions...)
	sort.Ints(sorted)
	return sorted[len(sorted)/2]
}

func abs(i int) int {
	if i < 0 {
		return -i
	}
	return i
}
