package enrich

import (
	"fmt"
	"strings"

	"github.com/tonean/mira/internal/store"
)

// maxDeepQuotes bounds how many quotes the combined profile prompt embeds;
// the lighter prompts take the full (already capped) list.
const maxDeepQuotes = 15

func personLabel(p *store.Person) string {
	switch {
	case p.DisplayName != "" && p.Username != "":
		return fmt.Sprintf("%s (@%s)", p.DisplayName, p.Username)
	case p.Username != "":
		return "@" + p.Username
	case p.DisplayName != "":
		return p.DisplayName
	default:
		return p.AccountID
	}
}

func writeQuotes(sb *strings.Builder, quotes []string, limit int) {
	if limit > 0 && len(quotes) > limit {
		quotes = quotes[:limit]
	}
	sb.WriteString("<QUOTES>\n")
	for _, q := range quotes {
		sb.WriteString("- ")
		sb.WriteString(q)
		sb.WriteString("\n")
	}
	sb.WriteString("</QUOTES>\n\n")
}

// profilePrompt asks for the combined multi-field analysis.
func profilePrompt(p *store.Person) string {
	var sb strings.Builder

	sb.WriteString("You are an analyst building a professional profile of a person from short text snippets attributed to or about them.\n\n")
	sb.WriteString(fmt.Sprintf("PERSON: %s\n\n", personLabel(p)))
	writeQuotes(&sb, p.Quotes, maxDeepQuotes)

	sb.WriteString("Respond with ONLY a JSON object, no prose, with exactly these keys:\n")
	sb.WriteString(`{
  "profile_overview": "2-3 sentence overview of who this person is",
  "expertise_areas": ["area", ...],
  "achievements": ["achievement", ...],
  "interests": ["interest", ...],
  "personality_traits": ["trait", ...],
  "connection_message": "one short, specific opening message to this person"
}`)
	sb.WriteString("\nBase every field only on the quotes. Keep lists to 3-5 entries.\n")

	return sb.String()
}

// timelinePrompt asks for predicted activity timeline entries.
func timelinePrompt(p *store.Person) string {
	var sb strings.Builder

	sb.WriteString("You are an analyst predicting a person's likely professional activity over the next year, from text snippets about them.\n\n")
	sb.WriteString(fmt.Sprintf("PERSON: %s\n\n", personLabel(p)))
	writeQuotes(&sb, p.Quotes, 0)

	sb.WriteString("Respond with ONLY a JSON object:\n")
	sb.WriteString(`{"timeline_entries": ["short dated prediction", ...]}`)
	sb.WriteString("\nGive 3-5 entries, each one sentence.\n")

	return sb.String()
}

// interestsPrompt asks for predicted future interests.
func interestsPrompt(p *store.Person) string {
	var sb strings.Builder

	sb.WriteString("You are an analyst inferring what topics a person is likely to become interested in next, from text snippets about them.\n\n")
	sb.WriteString(fmt.Sprintf("PERSON: %s\n\n", personLabel(p)))
	writeQuotes(&sb, p.Quotes, 0)

	sb.WriteString("Respond with ONLY a JSON object:\n")
	sb.WriteString(`{"predicted_interests": ["topic", ...]}`)
	sb.WriteString("\nGive 3-5 topics.\n")

	return sb.String()
}
