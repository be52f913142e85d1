package dataplane

import "testing"

func stabilizerCfg() Config {
	cfg := DefaultConfig()
	cfg.TargetLanguages = []Language{"es"}
	cfg.AgreementThreshold = 2
	cfg.StabilityWindow = 3
	cfg.ConfidenceThreshold = 0.5
	cfg.MaxPositionDrift = 1
	return cfg
}

func wc(text string, pos int, conf float64) WordCandidate {
	return WordCandidate{Text: text, Position: pos, Confidence: conf, StartTime: int64(pos * 100), EndTime: int64(pos*100 + 100)}
}

func TestStabilizerConfirmsAfterKAgreements(t *testing.T) {
	s := NewStabilizer(stabilizerCfg())

	confirmed := s.AddHypothesis("h1", []WordCandidate{wc("hello", 0, 0.9)})
	if len(confirmed) != 0 {
		t.Fatalf("expected no confirmation after a single hypothesis, got %d", len(confirmed))
	}

	confirmed = s.AddHypothesis("h2", []WordCandidate{wc("hello", 0, 0.9), wc("world", 1, 0.9)})
	if len(confirmed) != 1 || confirmed[0].Text != "hello" {
		t.Fatalf("expected exactly 'hello' confirmed on second agreement, got %+v", confirmed)
	}
}

func TestStabilizerDoesNotReconfirmSameWord(t *testing.T) {
	s := NewStabilizer(stabilizerCfg())
	s.AddHypothesis("h1", []WordCandidate{wc("hello", 0, 0.9)})
	s.AddHypothesis("h2", []WordCandidate{wc("hello", 0, 0.9)})
	confirmed := s.AddHypothesis("h3", []WordCandidate{wc("hello", 0, 0.9)})

	if len(confirmed) != 0 {
		t.Fatalf("expected no re-confirmation of an already-confirmed word, got %+v", confirmed)
	}
}

func TestStabilizerIgnoresLowConfidenceWords(t *testing.T) {
	s := NewStabilizer(stabilizerCfg())
	s.AddHypothesis("h1", []WordCandidate{wc("hello", 0, 0.1)})
	confirmed := s.AddHypothesis("h2", []WordCandidate{wc("hello", 0, 0.1)})

	if len(confirmed) != 0 {
		t.Fatalf("expected low-confidence words never to confirm, got %+v", confirmed)
	}
}

func TestStabilizerPositionDriftTolerance(t *testing.T) {
	s := NewStabilizer(stabilizerCfg())
	s.AddHypothesis("h1", []WordCandidate{wc("hello", 0, 0.9)})
	confirmed := s.AddHypothesis("h2", []WordCandidate{wc("hello", 1, 0.9)})

	if len(confirmed) != 1 {
		t.Fatalf("expected a 1-position drift to still count as the same word (maxDrift=1), got %+v", confirmed)
	}
}

func TestStabilizerFinalizeRelaxesThreshold(t *testing.T) {
	s := NewStabilizer(stabilizerCfg())
	s.AddHypothesis("h1", []WordCandidate{wc("hello", 0, 0.9)})

	confirmed := s.Finalize()
	if len(confirmed) != 1 || confirmed[0].Text != "hello" {
		t.Fatalf("expected Finalize to flush a single-hypothesis word at relaxed threshold, got %+v", confirmed)
	}

	// Idempotent: nothing new to confirm the second time.
	again := s.Finalize()
	if len(again) != 0 {
		t.Fatalf("expected a second Finalize with no new hypotheses to confirm nothing, got %+v", again)
	}
}

func TestStabilizerInterimTailExcludesConfirmed(t *testing.T) {
	s := NewStabilizer(stabilizerCfg())
	s.AddHypothesis("h1", []WordCandidate{wc("hello", 0, 0.9)})
	s.AddHypothesis("h2", []WordCandidate{wc("hello", 0, 0.9)})

	latest := []WordCandidate{wc("hello", 0, 0.9), wc("world", 1, 0.9)}
	tail := s.InterimTail(latest)

	if len(tail) != 1 || tail[0].Text != "world" {
		t.Fatalf("expected interim tail to exclude the confirmed word, got %+v", tail)
	}
}

func TestStabilizerWindowSnapshotReflectsRecentHypotheses(t *testing.T) {
	cfg := stabilizerCfg()
	cfg.StabilityWindow = 2
	s := NewStabilizer(cfg)

	s.AddHypothesis("h1", []WordCandidate{wc("alpha", 0, 0.9)})
	s.AddHypothesis("h2", []WordCandidate{wc("beta", 0, 0.9)})
	s.AddHypothesis("h3", []WordCandidate{wc("gamma", 0, 0.9)})

	snap := s.WindowSnapshot()
	if len(snap) != 2 {
		t.Fatalf("expected snapshot bounded to StabilityWindow=2, got %d", len(snap))
	}
	if snap[0].ID != "h2" || snap[1].ID != "h3" {
		t.Fatalf("expected the two most recent hypotheses h2, h3 in order, got %+v", snap)
	}

	snap[0].Words[0].Text = "mutated"
	if s.window[0].words[0].Text == "mutated" {
		t.Fatalf("expected WindowSnapshot to return a copy, not a live view")
	}
}

func TestStabilizerWindowSlidesPastStabilityWindow(t *testing.T) {
	cfg := stabilizerCfg()
	cfg.StabilityWindow = 2
	s := NewStabilizer(cfg)

	s.AddHypothesis("h1", []WordCandidate{wc("alpha", 0, 0.9)})
	s.AddHypothesis("h2", []WordCandidate{wc("beta", 0, 0.9)})
	// h1 has fallen out of the 2-wide window; "alpha" now has only one
	// contributing hypothesis (h3) even though it appeared twice overall.
	confirmed := s.AddHypothesis("h3", []WordCandidate{wc("alpha", 0, 0.9)})

	if len(confirmed) != 0 {
		t.Fatalf("expected alpha not to confirm once h1 fell out of the stability window, got %+v", confirmed)
	}
}
