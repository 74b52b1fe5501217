// Package langdetect guesses the language of a message from its opening
// greeting word.
package langdetect

import (
	"context"
	"regexp"
)

const (
	English = "en"
	Igbo    = "ig"
	Hausa   = "ha"
	Yoruba  = "yo"
)

// Detector returns an ISO 639-1 language code for text.
type Detector interface {
	Detect(ctx context.Context, text string) (string, error)
}

type rule struct {
	lang string
	re   *regexp.Regexp
}

// greeting words must be followed by whitespace, punctuation or the end of
// the message so "message" is not read as Hausa "me".
func greeting(words string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)^\s*(?:` + words + `)(?:[\s\p{P}]|$)`)
}

var rules = []rule{
	{lang: Igbo, re: greeting(`kedu|bia|gịnị|ụbọchị`)},
	{lang: Hausa, re: greeting(`sannu|barka|ina|me|yaya`)},
	{lang: Yoruba, re: greeting(`ekaro|bawo|kilode|se|nkan`)},
}

// GreetingDetector matches well-known Igbo, Hausa and Yoruba greetings and
// falls back to English.
type GreetingDetector struct{}

func (GreetingDetector) Detect(_ context.Context, text string) (string, error) {
	return DetectGreeting(text), nil
}

// DetectGreeting is the context-free form of GreetingDetector.Detect.
func DetectGreeting(text string) string {
	for _, r := range rules {
		if r.re.MatchString(text) {
			return r.lang
		}
	}
	return English
}

// Supported reports whether code is one of the detector's languages.
func Supported(code string) bool {
	switch code {
	case English, Igbo, Hausa, Yoruba:
		return true
	}
	return false
}
