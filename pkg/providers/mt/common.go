// Package mt adapts chat-completion LLM APIs (Anthropic, OpenAI, Google,
// Groq) into dataplane.MTProvider. None of these APIs have a dedicated
// translation endpoint; each provider is prompted to behave as a terse
// incremental translator and to return nothing but the translated text.
package mt

import (
	"fmt"
	"strings"

	"github.com/lokutor-ai/interpret-dataplane/pkg/dataplane"
)

const translateSystemPrompt = "You are a real-time interpreter. Translate the user's message into %s. " +
	"Reply with ONLY the translation, no quotes, no commentary, no explanations. " +
	"If given prior conversation context, use it to resolve pronouns and terminology consistently, " +
	"but translate only the final line."

// buildPrompt turns a TranslationRequest into a system/user message pair
// shared by every chat-completion-backed provider in this package.
func buildPrompt(req dataplane.TranslationRequest) (system string, user string) {
	system = fmt.Sprintf(translateSystemPrompt, targetLanguageName(req.TargetLang))

	var b strings.Builder
	if req.ContextSnapshot != "" {
		b.WriteString(req.ContextSnapshot)
		b.WriteString("\n")
	}
	b.WriteString(req.Text)
	return system, b.String()
}

// targetLanguageName maps a BCP-47-ish tag to the display name an LLM
// prompt expects. Unknown tags are passed through verbatim.
func targetLanguageName(l dataplane.Language) string {
	switch strings.ToLower(string(l)) {
	case "en":
		return "English"
	case "es":
		return "Spanish"
	case "fr":
		return "French"
	case "de":
		return "German"
	case "it":
		return "Italian"
	case "pt":
		return "Portuguese"
	case "zh":
		return "Chinese"
	case "ja":
		return "Japanese"
	case "ko":
		return "Korean"
	case "ru":
		return "Russian"
	case "ar":
		return "Arabic"
	default:
		return string(l)
	}
}
