package dataplane

import "errors"

var (
	// Transient: single-call failures. The caller continues; these never
	// terminate a session.
	ErrRecognitionFailed  = errors.New("speech recognition failed")
	ErrTranslationFailed  = errors.New("translation failed")
	ErrTranslationTimeout = errors.New("translation request timed out")
	ErrSynthesisFailed    = errors.New("speech synthesis failed")
	ErrSynthesisTimeout   = errors.New("synthesis first-chunk timed out")

	// AudioFramer failure semantics.
	ErrBufferOverflow = errors.New("audio framer buffer overflow: consumer too far behind")
	ErrFrameExpired   = errors.New("frame exceeded max_frame_age and was discarded")

	// Process-fatal.
	ErrNoEngineForLanguage = errors.New("no synthesis/translation engine available for this language pair")
	ErrNilProvider         = errors.New("required provider is nil")

	// Session-fatal.
	ErrSessionClosed = errors.New("session is closed")

	ErrEmptyCaption = errors.New("caption update carried no text")
)
