package prompts

import (
	"fmt"
	"strings"
	"time"
)

// identityTemplate opens every system prompt. The format verb is the
// current UTC time.
const identityTemplate = `You are Marquee, the household's movie and TV assistant.
Current date and time: %s
Use your tools for anything about the library, new releases or downloads.`

// preferencesSection frames the compact household preference summary.
const preferencesSection = `## Household preferences

%s`

// finalAnswerInstruction is appended as a user message when the tool
// rounds are used up and the model must answer without tools.
const finalAnswerInstruction = `You have used all tool rounds for this message. Answer now using only the results above. If something is still unknown, say so briefly.`

// EmptyResponseNudge is sent once when the model returns neither text
// nor tool calls after a tool round.
const EmptyResponseNudge = `Your last reply was empty. Reply to the user now, using the tool results above if you have them.`

// EmptyResponseFallback is shown when the model still produced no text.
const EmptyResponseFallback = "Sorry, I couldn't put together an answer. Please try asking again."

// SystemPrompt returns the system message for one turn: identity and
// time, then talents, then the preference summary when there is one.
func SystemPrompt(now time.Time, talents, preferences string) string {
	parts := []string{fmt.Sprintf(identityTemplate, now.UTC().Format("2006-01-02 15:04 UTC"))}
	if s := strings.TrimSpace(talents); s != "" {
		parts = append(parts, s)
	}
	if s := strings.TrimSpace(preferences); s != "" {
		parts = append(parts, fmt.Sprintf(preferencesSection, s))
	}
	return strings.Join(parts, "\n\n")
}

// FinalAnswerPrompt returns the instruction sent with the closing
// call made without tools.
func FinalAnswerPrompt() string {
	return finalAnswerInstruction
}
