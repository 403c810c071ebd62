// Package enrich orchestrates profile enrichment: one generation call per
// aspect, a defensive parse ladder over the free-text response, template
// fallbacks, quality-gated writes, and pacing between people.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/tonean/mira/internal/gemini"
	"github.com/tonean/mira/internal/quotes"
	"github.com/tonean/mira/internal/report"
	"github.com/tonean/mira/internal/store"
)

// Mode selects which enrichment aspect a call produces.
type Mode string

const (
	ModeProfile   Mode = "profile"
	ModeTimeline  Mode = "timeline"
	ModeInterests Mode = "interests"
)

// ErrNoQuotes short-circuits enrichment of a person with no quotes; no
// network call is made.
var ErrNoQuotes = errors.New("person has no quotes")

// minOverviewLength is the quality gate on overview text: shorter results
// never overwrite a stored overview, and a stored overview longer than this
// marks the person as already enriched.
const minOverviewLength = 50

// fallbackSignature is the prefix every template-fallback overview carries.
// The skip check treats overviews with this signature as not yet
// meaningfully enriched, so a later run replaces them.
const fallbackSignature = "Based on their public activity, "

// defaultInterval spaces calls for successive people.
const defaultInterval = 1500 * time.Millisecond

// Profile is the combined multi-field analysis result.
type Profile struct {
	Overview          string   `json:"profile_overview"`
	ExpertiseAreas    []string `json:"expertise_areas"`
	Achievements      []string `json:"achievements"`
	Interests         []string `json:"interests"`
	PersonalityTraits []string `json:"personality_traits"`
	ConnectionMessage string   `json:"connection_message"`
}

// Timeline is the predicted-activity result.
type Timeline struct {
	Entries []string `json:"timeline_entries"`
}

// Interests is the predicted-interests result.
type Interests struct {
	Predicted []string `json:"predicted_interests"`
}

// Options configures an Enricher.
type Options struct {
	Model string
	// Temperature for generation; nil means the 0.7 default. A pointer so
	// an explicit 0 (deterministic output) stays distinguishable.
	Temperature *float64
	// Interval between consecutive people; 0 means the 1500ms default,
	// negative disables pacing (tests).
	Interval time.Duration
}

// Enricher drives enrichment for one owner's people, strictly sequentially.
type Enricher struct {
	client *gemini.Client
	people *store.Store
	opts   Options
	pacer  *rate.Limiter
}

// New creates an Enricher.
func New(client *gemini.Client, people *store.Store, opts Options) *Enricher {
	if opts.Model == "" {
		opts.Model = gemini.DefaultModel
	}
	if opts.Temperature == nil {
		temp := 0.7
		opts.Temperature = &temp
	}

	interval := opts.Interval
	if interval == 0 {
		interval = defaultInterval
	}
	var pacer *rate.Limiter
	if interval > 0 {
		pacer = rate.NewLimiter(rate.Every(interval), 1)
	} else {
		pacer = rate.NewLimiter(rate.Inf, 1)
	}

	return &Enricher{client: client, people: people, opts: opts, pacer: pacer}
}

// AlreadyEnriched reports whether a person passes the skip check: a stored
// overview longer than the quality threshold that is not one of our own
// template fallbacks counts as meaningfully enriched.
func AlreadyEnriched(p *store.Person) bool {
	return len(p.Overview) > minOverviewLength &&
		!strings.HasPrefix(p.Overview, fallbackSignature)
}

func (e *Enricher) generationConfig() *gemini.GenerationConfig {
	return &gemini.GenerationConfig{
		Temperature:     e.opts.Temperature,
		MaxOutputTokens: 1024,
	}
}

// EnrichProfile synthesizes the combined profile fields for one person.
// A person with no quotes returns ErrNoQuotes with no call made; a person
// passing the skip check returns (nil, nil) with no call made. An upstream
// failure returns the template fallback alongside the error so the caller
// still has usable content; a malformed response resolves to the fallback
// silently.
func (e *Enricher) EnrichProfile(ctx context.Context, p *store.Person) (*Profile, error) {
	if len(p.Quotes) == 0 {
		return nil, ErrNoQuotes
	}
	if AlreadyEnriched(p) {
		return nil, nil
	}

	text, err := e.client.GenerateText(ctx, e.opts.Model, profilePrompt(p), e.generationConfig())
	if err != nil {
		return fallbackProfile(p), fmt.Errorf("profile generation for %s: %w", p.AccountID, err)
	}

	var profile Profile
	if err := decodeObject(text, &profile); err != nil {
		return fallbackProfile(p), nil
	}
	fillProfile(&profile, p)
	return &profile, nil
}

// EnrichTimeline synthesizes predicted timeline entries for one person.
// When the person already has stored entries, a failed or malformed call
// yields no result rather than the template fallback, so a fallback can
// never replace entries an earlier successful run produced.
func (e *Enricher) EnrichTimeline(ctx context.Context, p *store.Person) (*Timeline, error) {
	if len(p.Quotes) == 0 {
		return nil, ErrNoQuotes
	}

	text, err := e.client.GenerateText(ctx, e.opts.Model, timelinePrompt(p), e.generationConfig())
	if err != nil {
		err = fmt.Errorf("timeline generation for %s: %w", p.AccountID, err)
		if len(p.TimelineEntries) > 0 {
			return nil, err
		}
		return fallbackTimeline(p), err
	}

	var tl Timeline
	if err := decodeObject(text, &tl); err != nil || len(tl.Entries) == 0 {
		if len(p.TimelineEntries) > 0 {
			return nil, nil
		}
		return fallbackTimeline(p), nil
	}
	return &tl, nil
}

// EnrichInterests synthesizes predicted future interests for one person.
// Same fallback discipline as EnrichTimeline: stored interests are never
// replaced by the template.
func (e *Enricher) EnrichInterests(ctx context.Context, p *store.Person) (*Interests, error) {
	if len(p.Quotes) == 0 {
		return nil, ErrNoQuotes
	}

	text, err := e.client.GenerateText(ctx, e.opts.Model, interestsPrompt(p), e.generationConfig())
	if err != nil {
		err = fmt.Errorf("interests generation for %s: %w", p.AccountID, err)
		if len(p.PredictedInterests) > 0 {
			return nil, err
		}
		return fallbackInterests(p), err
	}

	var in Interests
	if err := decodeObject(text, &in); err != nil || len(in.Predicted) == 0 {
		if len(p.PredictedInterests) > 0 {
			return nil, nil
		}
		return fallbackInterests(p), nil
	}
	return &in, nil
}

// profileFields applies the quality gates and returns only the columns that
// passed, so a targeted update never clobbers better existing data.
func profileFields(profile *Profile) map[string]any {
	fields := make(map[string]any)
	if len(profile.Overview) > minOverviewLength {
		fields["overview"] = profile.Overview
	}
	if len(profile.ExpertiseAreas) > 0 {
		fields["expertise_areas"] = profile.ExpertiseAreas
	}
	if len(profile.Achievements) > 0 {
		fields["achievements"] = profile.Achievements
	}
	if len(profile.Interests) > 0 {
		fields["interests"] = profile.Interests
	}
	if len(profile.PersonalityTraits) > 0 {
		fields["personality_traits"] = profile.PersonalityTraits
	}
	if strings.TrimSpace(profile.ConnectionMessage) != "" {
		fields["connection_message"] = profile.ConnectionMessage
	}
	return fields
}

// Apply writes an enrichment result for one person through the quality
// gates. A result failing every gate skips the update entirely.
func (e *Enricher) Apply(ctx context.Context, p *store.Person, mode Mode, result any) error {
	var fields map[string]any
	switch r := result.(type) {
	case *Profile:
		fields = profileFields(r)
	case *Timeline:
		if len(r.Entries) > 0 {
			fields = map[string]any{"timeline_entries": r.Entries}
		}
	case *Interests:
		if len(r.Predicted) > 0 {
			fields = map[string]any{"predicted_interests": r.Predicted}
		}
	default:
		return fmt.Errorf("unknown result type %T", result)
	}
	if len(fields) == 0 {
		return nil
	}
	return e.people.UpdateFields(ctx, p.UserEmail, p.AccountID, fields)
}

// EnrichAll lists people with quotes and enriches them one at a time in
// store order, pacing between calls. One person's failure is counted and
// the loop continues.
func (e *Enricher) EnrichAll(ctx context.Context, owner string, mode Mode, limit int) (report.Stats, error) {
	stats := report.Stats{}
	start := time.Now()

	people, err := e.people.ListForEnrichment(ctx, owner, limit)
	if err != nil {
		return stats, err
	}

	for _, p := range people {
		if err := e.pacer.Wait(ctx); err != nil {
			stats.Duration = time.Since(start)
			return stats, err
		}
		stats.Attempted++

		var result any
		var genErr error
		switch mode {
		case ModeTimeline:
			result, genErr = e.EnrichTimeline(ctx, p)
		case ModeInterests:
			result, genErr = e.EnrichInterests(ctx, p)
		default:
			result, genErr = e.EnrichProfile(ctx, p)
		}

		if errors.Is(genErr, ErrNoQuotes) {
			stats.Skipped++
			continue
		}
		if genErr != nil {
			// Upstream failure: record it, still write whatever fallback
			// fields pass the gates, and move on.
			fmt.Printf("Warning: enrichment of %s failed: %v\n", p.AccountID, genErr)
			stats.Failed++
		}
		if isNilResult(result) {
			// Skip check fired; already enriched.
			if genErr == nil {
				stats.Skipped++
			}
			continue
		}
		if err := e.Apply(ctx, p, mode, result); err != nil {
			fmt.Printf("Warning: failed to store enrichment for %s: %v\n", p.AccountID, err)
			if genErr == nil {
				stats.Failed++
			}
			continue
		}
		if genErr == nil {
			stats.Succeeded++
		}
	}

	stats.Duration = time.Since(start)
	return stats, nil
}

func isNilResult(result any) bool {
	switch r := result.(type) {
	case *Profile:
		return r == nil
	case *Timeline:
		return r == nil
	case *Interests:
		return r == nil
	default:
		return result == nil
	}
}

// ImproveQuotes re-runs topic selection over a person's stored quotes and
// writes the improved set back with a targeted update.
func (e *Enricher) ImproveQuotes(ctx context.Context, p *store.Person) error {
	if len(p.Quotes) == 0 {
		return nil
	}
	cleaned := make([]string, 0, len(p.Quotes))
	for _, q := range p.Quotes {
		c := quotes.Clean(q)
		if c.Text != "" {
			cleaned = append(cleaned, c.Text)
		}
	}
	selected := quotes.Select(cleaned)
	if len(selected) == 0 {
		return nil
	}
	return e.people.UpdateFields(ctx, p.UserEmail, p.AccountID, map[string]any{
		"quotes": selected,
	})
}
