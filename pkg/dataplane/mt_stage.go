package dataplane

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
)

// sentenceTerminators splits MT output into sentences for the
// post-translation extraction heuristic.
var sentenceTerminators = regexp.MustCompile(`[.!?]+\s*`)

// MTStage is the actor translating a session's CaptionUpdates into
// TranslationResults for one target language, gated by an incremental
// controller that avoids re-translating unchanged partials. Grounded on
// a single-shot `GenerateResponse`-style call, generalized into a standing
// actor with its own cache and rolling context, and on `openai.go`/
// `anthropic.go`'s raw-HTTP provider shape for the MTProvider contract it
// drives.
type MTStage struct {
	cfg        Config
	sessionID  string
	targetLang Language
	provider   MTProvider
	ctxBuf     *ContextBuffer
	glossary   map[string]string // lower(source word) -> target replacement
	logger     Logger
	sink       *MetricsSink

	in  <-chan CaptionUpdate
	out chan TranslationResult

	mu                  sync.Mutex
	textPrev            string
	lastTranslationTime int64
	firstPartialSeen    bool
	cached              TranslationResult
	haveCached          bool
	closeOnce           sync.Once
}

// NewMTStage wires a stage reading from in and writing to a channel sized
// per cfg.TranslationChannelCap. glossary keys are matched whole-word,
// case-insensitively, against the *source* text before translation.
func NewMTStage(cfg Config, sessionID string, targetLang Language, provider MTProvider, ctxBuf *ContextBuffer, glossary map[string]string, in <-chan CaptionUpdate, logger Logger, sink *MetricsSink) *MTStage {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	return &MTStage{
		cfg:        cfg,
		sessionID:  sessionID,
		targetLang: targetLang,
		provider:   provider,
		ctxBuf:     ctxBuf,
		glossary:   glossary,
		logger:     logger,
		sink:       sink,
		in:         in,
		out:        make(chan TranslationResult, cfg.TranslationChannelCap),
	}
}

// Results returns the stage's output channel.
func (m *MTStage) Results() <-chan TranslationResult {
	return m.out
}

func (m *MTStage) Run(ctx context.Context) error {
	defer m.closeOnce.Do(func() { close(m.out) })

	for {
		select {
		case update, ok := <-m.in:
			if !ok {
				return nil
			}
			m.handle(ctx, update)
		case <-ctx.Done():
			m.drainDeadline(ctx)
			return nil
		}
	}
}

func (m *MTStage) drainDeadline(ctx context.Context) {
	deadline := time.After(time.Duration(m.cfg.CancellationDrainMS) * time.Millisecond)
	for {
		select {
		case update, ok := <-m.in:
			if !ok {
				return
			}
			m.handle(ctx, update)
		case <-deadline:
			return
		}
	}
}

// handle applies the incremental controller and, when it decides to
// translate, runs glossary substitution, context assembly, the provider
// call, extraction, and confidence scoring.
func (m *MTStage) handle(ctx context.Context, update CaptionUpdate) {
	text := strings.TrimSpace(update.Text)
	if text == "" {
		return
	}

	if !m.shouldTranslate(update, text) {
		m.mu.Lock()
		cached := m.cached
		m.mu.Unlock()
		cached.LatencyMS = 0
		cached.SequenceID = update.Seq
		m.publish(cached)
		return
	}

	result := m.translate(ctx, update, text)

	m.mu.Lock()
	m.textPrev = text
	m.lastTranslationTime = nowNanos()
	m.cached = result
	m.haveCached = true
	m.mu.Unlock()

	m.publish(result)
}

// shouldTranslate implements the incremental translation controller:
// always translate a new or confirmed update, otherwise skip unless the
// partial grew, diverged from a simple prefix extension, or enough time
// has elapsed since the last translation.
func (m *MTStage) shouldTranslate(update CaptionUpdate, text string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.haveCached {
		m.firstPartialSeen = true
		return true
	}
	// Always translate on a non-partial boundary (the update carries
	// confirmed words).
	if update.HasNewConfirmations || !update.IsPartial {
		return true
	}

	if !m.firstPartialSeen {
		m.firstPartialSeen = true
		return true
	}
	if countWordsMT(text) > countWordsMT(m.textPrev) {
		return true
	}
	if !isPrefixNormalized(text, m.textPrev) {
		return true
	}
	elapsedMS := (nowNanos() - m.lastTranslationTime) / int64(time.Millisecond)
	if elapsedMS > int64(m.cfg.MTPartialMinIntervalMS) {
		return true
	}
	return false
}

// translate runs glossary substitution, context assembly, the provider
// call (under a timeout), extraction, and composite confidence scoring.
func (m *MTStage) translate(ctx context.Context, update CaptionUpdate, text string) TranslationResult {
	start := time.Now()

	substituted, applied := applyGlossary(text, m.glossary)

	rollingContext := m.ctxBuf.Snapshot()
	usedContext := rollingContext != ""
	inputText := substituted
	if usedContext {
		inputText = rollingContext + "\n" + substituted
	}

	reqCtx, cancel := context.WithTimeout(ctx, time.Duration(m.cfg.MTRequestTimeoutMS)*time.Millisecond)
	defer cancel()

	req := TranslationRequest{
		Text:            inputText,
		SourceLang:      update.SourceLangDetected,
		TargetLang:      m.targetLang,
		ContextSnapshot: rollingContext,
		IsPartial:       update.IsPartial,
		SequenceID:      update.Seq,
		SessionID:       m.sessionID,
	}
	if req.SourceLang == "" {
		req.SourceLang = m.cfg.SourceLanguage
	}

	res, err := m.provider.Translate(reqCtx, req)
	if err != nil {
		if m.sink != nil {
			m.sink.IncStageErrors("mt")
		}
		m.logger.Warn("mt translate failed", "session", m.sessionID, "target_lang", m.targetLang, "error", err)
		return TranslationResult{
			TranslatedText: "[Translation Error]",
			Confidence:     0.0,
			ModelID:        m.provider.Name(),
			SequenceID:     update.Seq,
			LatencyMS:      float64(time.Since(start).Milliseconds()),
		}
	}

	extracted := res.TranslatedText
	lowConfidenceExtraction := false
	if usedContext {
		extracted, lowConfidenceExtraction = extractNewTranslation(res.TranslatedText, rollingContext, substituted)
	}

	confidence, breakdown := compositeConfidence(substituted, extracted, m.targetLang, usedContext)

	if !update.IsPartial && update.HasNewConfirmations {
		m.ctxBuf.AppendTranslated(substituted, extracted)
	}

	return TranslationResult{
		TranslatedText:          extracted,
		Confidence:              confidence,
		ConfidenceBreakdown:     breakdown,
		ModelID:                 res.ModelID,
		UsedContext:             usedContext,
		LatencyMS:               float64(time.Since(start).Milliseconds()),
		GlossaryApplied:         applied,
		LowConfidenceExtraction: lowConfidenceExtraction,
		SequenceID:              update.Seq,
	}
}

func (m *MTStage) publish(result TranslationResult) {
	select {
	case m.out <- result:
	default:
		select {
		case <-m.out:
		default:
		}
		select {
		case m.out <- result:
		default:
		}
		if m.sink != nil {
			m.sink.IncBackpressureDrops("mt")
		}
	}
}

func countWordsMT(s string) int {
	return len(strings.Fields(s))
}

// isPrefixNormalized reports whether now is a case-folded,
// whitespace-normalized prefix of prev, checked in both directions so a
// partial that merely reorders whitespace/case doesn't look like a new
// thought.
func isPrefixNormalized(now, prev string) bool {
	n := normalizeForPrefix(now)
	p := normalizeForPrefix(prev)
	return strings.HasPrefix(p, n) || strings.HasPrefix(n, p)
}

func normalizeForPrefix(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// applyGlossary substitutes whole-word, case-insensitive glossary matches
// in text, returning the substituted text and the set of glossary terms
// that were actually applied.
func applyGlossary(text string, glossary map[string]string) (string, []string) {
	if len(glossary) == 0 {
		return text, nil
	}

	var applied []string
	out := text
	keys := make([]string, 0, len(glossary))
	for k := range glossary {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, src := range keys {
		re := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(src) + `\b`)
		if re.MatchString(out) {
			out = re.ReplaceAllString(out, glossary[src])
			applied = append(applied, src)
		}
	}
	return out, applied
}

// extractNewTranslation pulls the newly-translated sentence out of output
// when context was prepended to the request: it prefers splitting on
// sentence-terminal punctuation and falls back to a proportional-length
// trailing substring when no terminator is present. The fallback is
// flagged via lowConfidence rather than silently risking a truncated
// suffix.
func extractNewTranslation(output, context, newText string) (extracted string, lowConfidence bool) {
	sentences := sentenceTerminators.Split(strings.TrimSpace(output), -1)
	var nonEmpty []string
	for _, s := range sentences {
		if strings.TrimSpace(s) != "" {
			nonEmpty = append(nonEmpty, strings.TrimSpace(s))
		}
	}
	if len(nonEmpty) > 0 && strings.ContainsAny(output, ".!?") {
		return nonEmpty[len(nonEmpty)-1], false
	}

	denom := len(context) + len(newText)
	if denom == 0 || len(output) == 0 {
		return output, true
	}
	targetLen := len(output) * len(newText) / denom
	if targetLen <= 0 || targetLen >= len(output) {
		return output, true
	}
	return output[len(output)-targetLen:], true
}

// compositeConfidence scores a translation in [0.1, 1.0] using weighted
// factors: length-ratio sanity (0.15), repetition penalty (0.25),
// target-language character-set coverage (0.20), semantic similarity to
// source (0.30, omitted here — no embedding/similarity model exists
// anywhere in the retrieval pack, and a degraded score computed from the
// remaining factors is preferable to none at all), and context coherence
// (0.10).
func compositeConfidence(source, translated string, targetLang Language, usedContext bool) (float64, map[string]float64) {
	factors := map[string]float64{
		"length_ratio": lengthRatioScore(source, translated),
		"repetition":   repetitionScore(translated),
		"charset":      charsetCoverageScore(translated, targetLang),
		"coherence":    coherenceScore(usedContext),
	}
	weights := map[string]float64{
		"length_ratio": 0.15,
		"repetition":   0.25,
		"charset":      0.20,
		"coherence":    0.10,
	}

	var weightedSum, weightTotal float64
	for k, w := range weights {
		weightedSum += factors[k] * w
		weightTotal += w
	}
	score := weightedSum / weightTotal

	if score < 0.1 {
		score = 0.1
	}
	if score > 1.0 {
		score = 1.0
	}
	return score, factors
}

func lengthRatioScore(source, translated string) float64 {
	sw := countWordsMT(source)
	tw := countWordsMT(translated)
	if sw == 0 {
		if tw == 0 {
			return 1.0
		}
		return 0.3
	}
	ratio := float64(tw) / float64(sw)
	switch {
	case ratio >= 0.5 && ratio <= 2.0:
		return 1.0
	case ratio >= 0.25 && ratio <= 3.0:
		return 0.6
	default:
		return 0.2
	}
}

func repetitionScore(translated string) float64 {
	words := strings.Fields(strings.ToLower(translated))
	if len(words) < 2 {
		return 1.0
	}
	repeats := 0
	for i := 1; i < len(words); i++ {
		if words[i] == words[i-1] {
			repeats++
		}
	}
	penalty := float64(repeats) / float64(len(words))
	score := 1.0 - 2*penalty
	if score < 0 {
		score = 0
	}
	return score
}

// charsetCoverageScore approximates "the output mostly uses the target
// language's expected script" without a per-language Unicode-block table:
// CJK/Cyrillic/Arabic targets are expected to contain non-Latin runes,
// Latin-script targets are expected to be mostly printable ASCII/Latin-1.
func charsetCoverageScore(translated string, targetLang Language) float64 {
	if translated == "" {
		return 0.1
	}
	nonLatin := 0
	total := 0
	for _, r := range translated {
		if r == ' ' || r == '\n' || r == '\t' {
			continue
		}
		total++
		if r > 0x2FF {
			nonLatin++
		}
	}
	if total == 0 {
		return 0.1
	}
	ratio := float64(nonLatin) / float64(total)

	expectsNonLatin := map[Language]bool{"zh": true, "ja": true, "ko": true, "ru": true, "ar": true}
	if expectsNonLatin[Language(strings.ToLower(string(targetLang)))] {
		return ratio
	}
	return 1 - ratio
}

func coherenceScore(usedContext bool) float64 {
	if usedContext {
		return 1.0
	}
	return 0.7
}

// Glossary returns a copy of a source→target term map with source terms
// trimmed of surrounding whitespace, dropping entries whose source term is
// empty after trimming.
func Glossary(pairs map[string]string) map[string]string {
	out := make(map[string]string, len(pairs))
	for k, v := range pairs {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		out[k] = v
	}
	return out
}
