package enrich

import (
	"fmt"
	"strings"

	"github.com/tonean/mira/internal/quotes"
	"github.com/tonean/mira/internal/store"
)

// dominantTopics returns the topics a person's quotes actually score on,
// best first. Used to make fallback content specific to the person.
func dominantTopics(qs []string) []string {
	type scored struct {
		topic string
		score int
	}
	var ranked []scored
	for _, topic := range quotes.TopicNames() {
		total := 0
		for _, q := range qs {
			total += quotes.Score(q, topic)
		}
		if total > 0 {
			ranked = append(ranked, scored{topic, total})
		}
	}
	for i := 1; i < len(ranked); i++ {
		for j := i; j > 0 && ranked[j].score > ranked[j-1].score; j-- {
			ranked[j], ranked[j-1] = ranked[j-1], ranked[j]
		}
	}
	out := make([]string, len(ranked))
	for i, r := range ranked {
		out[i] = r.topic
	}
	return out
}

func topicPhrase(topics []string) string {
	switch len(topics) {
	case 0:
		return "a range of topics"
	case 1:
		return topics[0]
	default:
		return strings.Join(topics[:len(topics)-1], ", ") + " and " + topics[len(topics)-1]
	}
}

// fallbackProfile builds a synthetic-but-plausible profile from the person's
// known fields. Every overview it emits carries fallbackSignature so the
// skip check treats the person as still unenriched.
func fallbackProfile(p *store.Person) *Profile {
	label := personLabel(p)
	topics := dominantTopics(p.Quotes)
	phrase := topicPhrase(topics)

	interests := topics
	if len(interests) == 0 {
		interests = []string{"technology", "current events"}
	}

	return &Profile{
		Overview: fmt.Sprintf(
			"%s%s appears in this network through %d quoted posts and engages mostly with %s.",
			fallbackSignature, label, len(p.Quotes), phrase),
		ExpertiseAreas:    interests,
		Achievements:      []string{"Maintains an active public presence"},
		Interests:         interests,
		PersonalityTraits: []string{"engaged", "communicative"},
		ConnectionMessage: fmt.Sprintf(
			"Hi %s, I came across your posts about %s and would love to connect.",
			label, phrase),
	}
}

// fillProfile tops up empty fields of a parsed profile from the template so
// no definable field is left empty. The overview is left alone: a short
// parsed overview should fail the quality gate, not be papered over.
func fillProfile(profile *Profile, p *store.Person) {
	fb := fallbackProfile(p)
	if len(profile.ExpertiseAreas) == 0 {
		profile.ExpertiseAreas = fb.ExpertiseAreas
	}
	if len(profile.Achievements) == 0 {
		profile.Achievements = fb.Achievements
	}
	if len(profile.Interests) == 0 {
		profile.Interests = fb.Interests
	}
	if len(profile.PersonalityTraits) == 0 {
		profile.PersonalityTraits = fb.PersonalityTraits
	}
	if strings.TrimSpace(profile.ConnectionMessage) == "" {
		profile.ConnectionMessage = fb.ConnectionMessage
	}
}

func fallbackTimeline(p *store.Person) *Timeline {
	phrase := topicPhrase(dominantTopics(p.Quotes))
	return &Timeline{Entries: []string{
		fmt.Sprintf("Next quarter: likely to keep posting about %s.", phrase),
		"Next six months: continued regular public activity.",
		"Next year: gradual expansion into adjacent topics.",
	}}
}

func fallbackInterests(p *store.Person) *Interests {
	topics := dominantTopics(p.Quotes)
	if len(topics) == 0 {
		topics = []string{"technology"}
	}
	return &Interests{Predicted: topics}
}
