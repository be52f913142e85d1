package dataplane

import (
	"context"
	"fmt"
	"sync"
)

// TargetLangEngines groups the synthesis engines, optional caller voice
// preset, MT provider and glossary for one target language.
type TargetLangEngines struct {
	Lang        Language
	Engines     []EngineEntry
	VoicePreset string
	MT          MTProvider
	Glossary    map[string]string
}

// Session holds one speaker's identity, lifecycle state, languages and
// per-target context buffers; the stages themselves (a single AudioFramer +
// STTStage, and one MTStage/TTSStage pair per target language, joined by
// bounded channels) are built and driven by Pipeline. Grounded on a `ConversationSession`-style identity/state
// holder combined with a `ManagedStream`-style lifecycle (`Close`/
// `closeOnce`/cooperative cancellation) — split here into a plain data
// owner (Session) and a separate driver (Pipeline), since a single actor
// conflating session identity with stream control doesn't generalize to
// one-session/many-target-languages.
type Session struct {
	mu    sync.RWMutex
	id    string
	state SessionState

	sourceLang Language
	targets    []Language

	ctxBuffers *ContextBufferSet
	cfg        Config

	cancel    context.CancelFunc
	closeOnce sync.Once
	done      chan struct{}
}

// NewSession creates a session in the Created state. Call Activate to move
// it into Active once its pipeline has been started.
func NewSession(cfg Config, sourceLang Language, targets []Language) *Session {
	return &Session{
		id:         newID("session"),
		state:      SessionCreated,
		sourceLang: sourceLang,
		targets:    append([]Language(nil), targets...),
		ctxBuffers: NewContextBufferSet(cfg),
		cfg:        cfg,
		done:       make(chan struct{}),
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) setState(st SessionState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// SourceLanguage returns the session's configured source language.
func (s *Session) SourceLanguage() Language { return s.sourceLang }

// TargetLanguages returns the session's configured target-language set.
func (s *Session) TargetLanguages() []Language {
	return append([]Language(nil), s.targets...)
}

// ContextBufferFor returns the rolling ContextBuffer for targetLang.
func (s *Session) ContextBufferFor(targetLang Language) *ContextBuffer {
	return s.ctxBuffers.For(targetLang)
}

// Activate transitions Created -> Active and stores the cancellation hook
// the Pipeline driver installs when it starts the session's stage actors.
func (s *Session) Activate(cancel context.CancelFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != SessionCreated {
		return fmt.Errorf("%w: session %s is %s, want %s", ErrSessionClosed, s.id, s.state, SessionCreated)
	}
	s.state = SessionActive
	s.cancel = cancel
	return nil
}

// BeginDraining transitions Active -> Draining, signalling the pipeline to
// run its cooperative-cancellation/finalization protocol. Idempotent:
// draining or closing an already-draining session is a no-op.
func (s *Session) BeginDraining() {
	s.mu.Lock()
	if s.state != SessionActive {
		s.mu.Unlock()
		return
	}
	s.state = SessionDraining
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Close finalizes the session. Idempotent via sync.Once, mirroring a
// ManagedStream-style Close.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.BeginDraining()
		s.setState(SessionClosed)
		close(s.done)
	})
}

// Done reports when the session has fully closed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}
