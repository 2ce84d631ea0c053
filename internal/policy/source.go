package policy

import "strings"

// SpeakSource labels who or what triggered an avatar speak request.
type SpeakSource string

const (
	// SourceUser is text typed or spoken by the end user.
	SourceUser SpeakSource = "user"
	// SourceAssistant is a reply produced by the chat backend.
	SourceAssistant SpeakSource = "assistant"
	// SourceKeepAlive is liveness-only speech (empty utterances used to hold
	// the provider session open).
	SourceKeepAlive SpeakSource = "keepalive"
)

// SourceDecision is the outcome of gating a speak request.
type SourceDecision struct {
	Source  SpeakSource
	Allowed bool
	Reason  string
}

// DecideSpeakSource gates a speak request on its source tag. Anything outside
// the allow-list is rejected so arbitrary callers cannot drive avatar speech.
func DecideSpeakSource(source string) SourceDecision {
	s := SpeakSource(strings.ToLower(strings.TrimSpace(source)))
	switch s {
	case SourceUser, SourceAssistant, SourceKeepAlive:
		return SourceDecision{Source: s, Allowed: true}
	case "":
		return SourceDecision{Allowed: false, Reason: "missing source tag"}
	default:
		return SourceDecision{Source: s, Allowed: false, Reason: "unrecognized source tag"}
	}
}
