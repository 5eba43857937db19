package flow

import (
	"regexp"
	"strings"
)

// Reset reasons.
const (
	ReasonGreeting = "greeting"
	ReasonCancel   = "cancel"
	ReasonQuestion = "question"
)

// Input is the part of an inbound message the state machine looks at.
type Input struct {
	Text     string
	HasMedia bool
}

// Decision is the state machine verdict for one inbound message.
// Reset must be applied (context cleared and persisted) before routing.
type Decision struct {
	Reset     bool
	FlowInput bool
	Reason    string
}

var (
	greetingWords = []string{"halo", "hallo", "hai", "hi", "hello", "pagi", "siang", "sore", "malam", "assalamualaikum"}
	cancelPhrases = []string{"batal", "cancel", "/batal", "/cancel", "stop", "gak jadi", "ga jadi", "nggak jadi"}
	questionWords = []string{"apa", "apakah", "berapa", "bagaimana", "gimana", "kapan", "dimana", "di mana", "what", "how", "when"}

	// Staff commands that run beside an open flow instead of feeding it.
	passThroughCommands = []string{"/verify", "/status", "/list", "/stats", "/edit", "/help"}

	whitespace = regexp.MustCompile(`\s+`)
)

// Check evaluates msg against the open flow in state. Escape patterns only
// apply while a flow is open and never to messages carrying media.
// Commands other than "/upload" leave any open flow untouched and are routed
// on their own.
func Check(state Context, in Input) Decision {
	if state.IsIdle() {
		return Decision{}
	}
	text := normalize(in.Text)
	if strings.HasPrefix(text, "/verify") || (!in.HasMedia && IsPassThroughCommand(text)) {
		return Decision{}
	}
	if state.Kind == KindLegacy {
		return Decision{Reset: true, Reason: "legacy"}
	}
	if !in.HasMedia {
		switch {
		case IsCancel(text):
			return Decision{Reset: true, Reason: ReasonCancel}
		case IsGreeting(text):
			return Decision{Reset: true, Reason: ReasonGreeting}
		case IsQuestion(text):
			return Decision{Reset: true, Reason: ReasonQuestion}
		}
	}
	return Decision{FlowInput: true}
}

// IsPassThroughCommand matches a leading slash command that does not belong
// to the upload flow, e.g. "/list avanza" or "/verify 0812...".
func IsPassThroughCommand(text string) bool {
	first, _, _ := strings.Cut(normalize(text), " ")
	for _, cmd := range passThroughCommands {
		if first == cmd {
			return true
		}
	}
	return false
}

// IsGreeting matches messages that open with a greeting word, e.g. "halo",
// "selamat pagi", "hi kak".
func IsGreeting(text string) bool {
	text = normalize(text)
	text = strings.TrimPrefix(text, "selamat ")
	first := firstWord(text)
	for _, word := range greetingWords {
		if first == word {
			return true
		}
	}
	return false
}

// IsCancel matches cancellation keywords as the whole message or its first word.
func IsCancel(text string) bool {
	text = normalize(text)
	for _, phrase := range cancelPhrases {
		if text == phrase || strings.HasPrefix(text, phrase+" ") {
			return true
		}
	}
	return false
}

// IsQuestion matches a trailing "?" or a leading question word.
func IsQuestion(text string) bool {
	text = normalize(text)
	if text == "" {
		return false
	}
	if strings.HasSuffix(text, "?") {
		return true
	}
	for _, word := range questionWords {
		if text == word || strings.HasPrefix(text, word+" ") {
			return true
		}
	}
	return false
}

func normalize(text string) string {
	return whitespace.ReplaceAllString(strings.ToLower(strings.TrimSpace(text)), " ")
}

func firstWord(text string) string {
	word, _, _ := strings.Cut(text, " ")
	return strings.Trim(word, ",.!")
}
