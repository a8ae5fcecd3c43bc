// Package decision asks the human in the task thread how to proceed and turns
// the reply into a closed set of actions.
package decision

import "strings"

type Action string

const (
	ActionRetry    Action = "retry"
	ActionAbort    Action = "abort"
	ActionFollowUp Action = "follow_up"
	ActionEnd      Action = "end"
)

// Reason tells how a decision was reached.
type Reason string

const (
	ReasonReply         Reason = "reply"
	ReasonNotConfigured Reason = "not_configured"
	ReasonSendFailed    Reason = "send_failed"
	ReasonTimeout       Reason = "timeout"
	// ReasonCanceled means the host is shutting down while the question was open.
	ReasonCanceled Reason = "canceled"
)

const (
	MessageNotConfigured = "Slack channel/thread is not configured"
	MessageSendFailed    = "failed to send the question to Slack"
	MessageTimeout       = "timed out (no reply)"
	MessageCanceled      = "interrupted (finegate is shutting down)"
)

type Decision struct {
	Action Action
	// Message is the verbatim reply, or a description of why no reply was used.
	Message string
	// Instruction is the extra instruction to hand to the next worker run.
	// It is empty for keyword replies and terminal decisions.
	Instruction string
	Reason      Reason
}

// Terminal reports whether the decision ends the current loop.
func (d Decision) Terminal() bool {
	return d.Action == ActionAbort || d.Action == ActionEnd
}

type keyword int

const (
	keywordNone keyword = iota
	keywordRetry
	keywordAbort
	keywordEnd
)

func classify(text string) keyword {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "retry", "再実行":
		return keywordRetry
	case "abort", "中断":
		return keywordAbort
	case "end", "終了":
		return keywordEnd
	default:
		return keywordNone
	}
}

// ResolveErrorReply maps a reply to the error-resolution prompt. Every reply
// that is not an abort keyword retries; free text becomes the instruction.
func ResolveErrorReply(text string) Decision {
	switch classify(text) {
	case keywordAbort:
		return Decision{Action: ActionAbort, Message: text, Reason: ReasonReply}
	case keywordRetry:
		return Decision{Action: ActionRetry, Message: text, Reason: ReasonReply}
	default:
		return Decision{Action: ActionRetry, Message: text, Instruction: strings.TrimSpace(text), Reason: ReasonReply}
	}
}

// ResolveFollowUpReply maps a reply to the follow-up prompt.
func ResolveFollowUpReply(text string) Decision {
	switch classify(text) {
	case keywordEnd:
		return Decision{Action: ActionEnd, Message: text, Reason: ReasonReply}
	default:
		return Decision{Action: ActionFollowUp, Message: text, Instruction: strings.TrimSpace(text), Reason: ReasonReply}
	}
}
