// Package i18n provides localized progress messages for playlist generation runs.
package i18n

import (
	"fmt"
	"slices"
)

const (
	// DefaultLanguage is the fallback language when no translation is available
	DefaultLanguage = "en"
	// BerneseGermanMessages is a Swiss Dialect spoken in the Canton of Bern
	BerneseGermanMessages = "ch_be"
)

// Localizer formats message keys in one language.
type Localizer struct {
	language string
	messages map[string]string
}

// NewLocalizer creates a new localizer for the specified language
func NewLocalizer(language string) *Localizer {
	return &Localizer{
		language: language,
		messages: getMessages(language),
	}
}

// Language returns the language code the localizer was created with.
func (l *Localizer) Language() string {
	return l.language
}

// T formats the message for key with args. Missing keys fall back to English, then to the key itself.
func (l *Localizer) T(key string, args ...any) string {
	message, exists := l.messages[key]
	if !exists && l.language != DefaultLanguage {
		message, exists = getMessages(DefaultLanguage)[key]
	}
	if !exists {
		return key
	}

	if len(args) > 0 {
		return fmt.Sprintf(message, args...)
	}
	return message
}

// GetSupportedLanguages returns list of supported language codes
func GetSupportedLanguages() []string {
	return []string{DefaultLanguage, BerneseGermanMessages}
}

// IsSupported reports whether language has a message catalog.
func IsSupported(language string) bool {
	return slices.Contains(GetSupportedLanguages(), language)
}

func getMessages(language string) map[string]string {
	switch language {
	case BerneseGermanMessages:
		return berneseGermanMessages
	default:
		return englishMessages
	}
}
