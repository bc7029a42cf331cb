// Package translate adapts third-party chat-completion APIs into the
// text-to-text translation contract the translation worker depends on.
package translate

import (
	"context"
	"fmt"
)

// Message is a single chat turn, shared by every provider's Complete call.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Translator is the contract the translation worker depends on.
type Translator interface {
	Name() string
	Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error)
}

// buildPrompt turns a translation request into the chat messages every
// provider in this package sends to its Complete method.
func buildPrompt(text, sourceLang, targetLang string) []Message {
	instruction := fmt.Sprintf(
		"You are a real-time speech translator. Translate the following %s text into %s. Reply with the translation only, no commentary or quotation marks.",
		sourceLang, targetLang,
	)
	return []Message{
		{Role: "system", Content: instruction},
		{Role: "user", Content: text},
	}
}
