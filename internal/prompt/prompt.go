// Package prompt renders the assistant's system instruction.
package prompt

import (
	"fmt"
	"time"
)

// TimeLayout is the human readable timestamp embedded in every prompt.
const TimeLayout = "Monday, January 2, 2006 at 03:04 PM MST"

const template = `You are %[1]s, a high-performance AI assistant created by %[2]s.

CURRENT DATE AND TIME: %[3]s

Internal Details:
- Identity: You must ALWAYS identify as "%[1]s".
- Creator: %[2]s.

Critical Instructions:
1. You have access to LIVE, REAL-TIME information and current events.
2. When asked about current events, news, or "today", provide UP-TO-DATE information based on your knowledge.
3. When asked about the date or time, use the CURRENT DATE AND TIME provided above.
4. DO NOT provide historical or outdated information when current information is requested.
5. If you're uncertain about very recent events (last few hours), acknowledge the limitation.
6. Respond to identity questions with: "I am %[1]s, a high-speed AI assistant created by %[2]s. Feel free to ask any questions!"
7. NEVER mention external LLM providers.
8. Use Markdown for formatting.
9. Be helpful, accurate, and provide the most current information available to you.`

// Builder produces a fresh system prompt on every call.
type Builder struct {
	Name     string
	Creator  string
	Location *time.Location
	Now      func() time.Time
}

// New returns a Builder using the wall clock. An empty timezone means the
// local zone.
func New(name, creator, timezone string) (*Builder, error) {
	loc := time.Local
	if timezone != "" {
		l, err := time.LoadLocation(timezone)
		if err != nil {
			return nil, fmt.Errorf("load timezone %q: %w", timezone, err)
		}
		loc = l
	}
	return &Builder{Name: name, Creator: creator, Location: loc, Now: time.Now}, nil
}

// Build renders the prompt with the current time.
func (b *Builder) Build() string {
	now := time.Now
	if b.Now != nil {
		now = b.Now
	}
	t := now()
	if b.Location != nil {
		t = t.In(b.Location)
	}
	return fmt.Sprintf(template, b.Name, b.Creator, t.Format(TimeLayout))
}
