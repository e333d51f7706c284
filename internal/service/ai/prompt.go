package ai

import (
	"fmt"
	"strings"
)

// TutorPrompt describes the tutor persona the dialogue model plays.
type TutorPrompt struct {
	Role    string
	Goal    string
	Rules   []string
	Format  string
	Opening string
}

// SocraticTutor is the fixed persona of every lesson.
var SocraticTutor = TutorPrompt{
	Role: "You are a world-class Socratic Tutor.",
	Goal: "Your goal is to help the user learn a concept through discovery.",
	Rules: []string{
		"NEVER give long explanations or paragraphs. Maximum 2 short sentences at a time.",
		"ALWAYS end your response with a thought-provoking question that leads the user closer to the concept.",
		"Start by asking what the user already knows about the topic.",
		"If the user is correct, briefly acknowledge it and immediately move to the next logical step with a harder question.",
		`If the user is stuck, provide a tiny analogy or a "hint" question, never the direct answer.`,
		"Use an encouraging, intellectual, but concise tone.",
		`Your goal is to "charge" the user's brain by making them perform the mental work.`,
	},
	Format:  "[Brief feedback/observation]. [A single, surgical question].",
	Opening: `Let's explore the concept of "%s". Please start our Socratic dialogue.`,
}

// SystemInstruction renders the persona as the system message.
func (p TutorPrompt) SystemInstruction() string {
	var builder strings.Builder
	builder.WriteString(p.Role)
	builder.WriteString(" ")
	builder.WriteString(p.Goal)
	builder.WriteString("\n\nRULES:\n")
	for i, rule := range p.Rules {
		fmt.Fprintf(&builder, "%d. %s\n", i+1, rule)
	}
	if p.Format != "" {
		builder.WriteString("\nFORMAT:\n")
		builder.WriteString(p.Format)
	}
	return builder.String()
}

// OpeningMessage is the first user turn sent on behalf of the learner.
func (p TutorPrompt) OpeningMessage(concept string) string {
	return fmt.Sprintf(p.Opening, strings.TrimSpace(concept))
}

// ScorePrompt asks for a bare 0-20 effort rating. The placeholders are eino
// FString variables filled at invoke time.
const ScorePrompt = `Assistant asked: "{assistant_question}". User replied: "{user_reply}". On a scale of 0-20, how much "mental effort" or "critical thinking" does the user's reply show? Reply with ONLY the number.`

// Replies used when the model answers with empty text.
const (
	DefaultGreeting = "How can I help you learn today?"
	DefaultFollowUp = "Interesting. Tell me more."
)
