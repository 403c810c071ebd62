package enrich

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonean/mira/internal/db"
	"github.com/tonean/mira/internal/gemini"
	"github.com/tonean/mira/internal/store"
)

// mockGeminiServer serves a fixed response text and counts calls.
func mockGeminiServer(t *testing.T, responseText string) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Method != "POST" {
			t.Errorf("expected POST, got %s", r.Method)
		}
		response := map[string]any{
			"candidates": []map[string]any{
				{
					"content": map[string]any{
						"parts": []map[string]any{
							{"text": responseText},
						},
					},
				},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(response)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

// mockGeminiError serves a non-retryable API error.
func mockGeminiError(t *testing.T) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"code": 400, "message": "bad request", "status": "INVALID_ARGUMENT"},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func newTestEnricher(t *testing.T, baseURL string) (*Enricher, *store.Store) {
	t.Helper()
	conn, err := db.OpenPath(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	people := store.New(conn)

	client := gemini.NewClient("test-key")
	client.SetBaseURL(baseURL)

	return New(client, people, Options{Interval: -1}), people
}

func quotedPerson() *store.Person {
	return &store.Person{
		UserEmail: "owner@example.com", AccountID: "7",
		Username: "bob", DisplayName: "Bob",
		RelationKind: store.RelationMentioned,
		Quotes:       []string{"neural networks are eating software", "our startup raised funding"},
	}
}

func TestEnrichProfile_FencedResponse(t *testing.T) {
	srv, calls := mockGeminiServer(t, "```json\n{\n"+
		`"profile_overview": "Bob is a machine learning engineer who writes at length about applied neural networks.",`+"\n"+
		`"expertise_areas": ["ml"],`+"\n"+
		`"achievements": ["raised funding"],`+"\n"+
		`"interests": ["ai"],`+"\n"+
		`"personality_traits": ["curious"],`+"\n"+
		`"connection_message": "Loved your post on neural nets."`+"\n"+
		"}\n```")
	e, _ := newTestEnricher(t, srv.URL)

	profile, err := e.EnrichProfile(context.Background(), quotedPerson())
	require.NoError(t, err)
	require.NotNil(t, profile)
	assert.Contains(t, profile.Overview, "machine learning engineer")
	assert.Equal(t, []string{"ml"}, profile.ExpertiseAreas)
	assert.Equal(t, int64(1), calls.Load(), "exactly one call per enrichment aspect")
}

func TestEnrichProfile_NoQuotes(t *testing.T) {
	srv, calls := mockGeminiServer(t, "{}")
	e, _ := newTestEnricher(t, srv.URL)

	p := quotedPerson()
	p.Quotes = nil
	_, err := e.EnrichProfile(context.Background(), p)
	require.ErrorIs(t, err, ErrNoQuotes)
	assert.Zero(t, calls.Load(), "no network call for a person without quotes")
}

func TestEnrichProfile_SkipAlreadyEnriched(t *testing.T) {
	srv, calls := mockGeminiServer(t, "{}")
	e, _ := newTestEnricher(t, srv.URL)

	p := quotedPerson()
	p.Overview = strings.Repeat("An established, well written overview. ", 3)
	profile, err := e.EnrichProfile(context.Background(), p)
	require.NoError(t, err)
	assert.Nil(t, profile)
	assert.Zero(t, calls.Load(), "re-running enrichment must make zero calls")
}

func TestEnrichProfile_FallbackOverviewNotSkipped(t *testing.T) {
	// A stored fallback overview is long but carries the template
	// signature; the person still counts as unenriched.
	p := quotedPerson()
	p.Overview = fallbackProfile(p).Overview
	require.Greater(t, len(p.Overview), minOverviewLength)
	assert.False(t, AlreadyEnriched(p))
}

func TestEnrichProfile_UpstreamError(t *testing.T) {
	srv, _ := mockGeminiError(t)
	e, _ := newTestEnricher(t, srv.URL)

	profile, err := e.EnrichProfile(context.Background(), quotedPerson())
	require.Error(t, err)
	require.NotNil(t, profile, "fallback result accompanies the error")
	assert.True(t, strings.HasPrefix(profile.Overview, fallbackSignature))
	assert.NotEmpty(t, profile.Interests)
	assert.NotEmpty(t, profile.ConnectionMessage)
}

func TestEnrichProfile_MalformedResponse(t *testing.T) {
	srv, _ := mockGeminiServer(t, "I am terribly sorry but I cannot produce JSON today.")
	e, _ := newTestEnricher(t, srv.URL)

	profile, err := e.EnrichProfile(context.Background(), quotedPerson())
	require.NoError(t, err, "malformed responses resolve via fallback, never error")
	require.NotNil(t, profile)
	assert.True(t, strings.HasPrefix(profile.Overview, fallbackSignature))
}

func TestEnrichProfile_ExplicitZeroTemperature(t *testing.T) {
	var gotTemp *float64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req gemini.GenerateContentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.GenerationConfig != nil {
			gotTemp = req.GenerationConfig.Temperature
		}
		json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{
				{"content": map[string]any{"parts": []map[string]any{{"text": "{}"}}}},
			},
		})
	}))
	t.Cleanup(srv.Close)

	conn, err := db.OpenPath(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	client := gemini.NewClient("test-key")
	client.SetBaseURL(srv.URL)
	zero := 0.0
	e := New(client, store.New(conn), Options{Interval: -1, Temperature: &zero})

	_, err = e.EnrichProfile(context.Background(), quotedPerson())
	require.NoError(t, err)
	require.NotNil(t, gotTemp, "temperature missing from generation config")
	assert.Equal(t, 0.0, *gotTemp, "explicit zero temperature must survive to the request")
}

func TestApply_QualityGate(t *testing.T) {
	srv, _ := mockGeminiServer(t, "{}")
	e, people := newTestEnricher(t, srv.URL)
	ctx := context.Background()

	p := quotedPerson()
	people.UpsertPeople(ctx, []*store.Person{p})
	existing := "A previously successful overview, long enough to pass every quality gate in place."
	require.NoError(t, people.UpdateFields(ctx, p.UserEmail, p.AccountID, map[string]any{
		"overview": existing,
	}))

	// Short overview fails the gate and must not clobber the stored one.
	err := e.Apply(ctx, p, ModeProfile, &Profile{
		Overview:       "too short",
		ExpertiseAreas: []string{"ml"},
	})
	require.NoError(t, err)

	got, err := people.Get(ctx, p.UserEmail, p.AccountID)
	require.NoError(t, err)
	assert.Equal(t, existing, got.Overview, "short overview overwrote a longer stored one")
	assert.Equal(t, []string{"ml"}, got.ExpertiseAreas, "passing fields still written")
}

func TestApply_AllGatesFailSkipsUpdate(t *testing.T) {
	srv, _ := mockGeminiServer(t, "{}")
	e, people := newTestEnricher(t, srv.URL)
	ctx := context.Background()

	p := quotedPerson()
	people.UpsertPeople(ctx, []*store.Person{p})

	require.NoError(t, e.Apply(ctx, p, ModeProfile, &Profile{Overview: "nope"}))

	after, err := people.Get(ctx, p.UserEmail, p.AccountID)
	require.NoError(t, err)
	assert.Empty(t, after.Overview, "gated overview must not be written")
}

func TestEnrichTimeline(t *testing.T) {
	srv, calls := mockGeminiServer(t, `{"timeline_entries": ["Q3: ships a model", "Q4: writes a paper"]}`)
	e, _ := newTestEnricher(t, srv.URL)

	tl, err := e.EnrichTimeline(context.Background(), quotedPerson())
	require.NoError(t, err)
	assert.Len(t, tl.Entries, 2)
	assert.Equal(t, int64(1), calls.Load())
}

func TestEnrichTimeline_FallbackNeverReplacesStoredEntries(t *testing.T) {
	srv, _ := mockGeminiError(t)
	e, people := newTestEnricher(t, srv.URL)
	ctx := context.Background()

	p := quotedPerson()
	people.UpsertPeople(ctx, []*store.Person{p})
	stored := []string{"Q1: genuine model-derived prediction", "Q2: another genuine one"}
	require.NoError(t, people.UpdateFields(ctx, p.UserEmail, p.AccountID, map[string]any{
		"timeline_entries": stored,
	}))

	stats, err := e.EnrichAll(ctx, p.UserEmail, ModeTimeline, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)

	got, err := people.Get(ctx, p.UserEmail, p.AccountID)
	require.NoError(t, err)
	assert.Equal(t, stored, got.TimelineEntries, "fallback replaced previously enriched entries")
}

func TestEnrichTimeline_MalformedKeepsStoredEntries(t *testing.T) {
	srv, _ := mockGeminiServer(t, "no JSON here at all")
	e, _ := newTestEnricher(t, srv.URL)

	p := quotedPerson()
	p.TimelineEntries = []string{"Q1: genuine entry"}
	tl, err := e.EnrichTimeline(context.Background(), p)
	require.NoError(t, err)
	assert.Nil(t, tl, "malformed response must yield no result when entries exist")

	// A person with nothing stored still gets the fallback.
	fresh := quotedPerson()
	tl, err = e.EnrichTimeline(context.Background(), fresh)
	require.NoError(t, err)
	require.NotNil(t, tl)
	assert.NotEmpty(t, tl.Entries)
}

func TestEnrichInterests_FallbackNeverReplacesStored(t *testing.T) {
	srv, _ := mockGeminiError(t)
	e, _ := newTestEnricher(t, srv.URL)

	p := quotedPerson()
	p.PredictedInterests = []string{"robotics"}
	in, err := e.EnrichInterests(context.Background(), p)
	require.Error(t, err)
	assert.Nil(t, in, "upstream failure must yield no result when interests exist")
}

func TestEnrichInterests_FallbackOnEmptyList(t *testing.T) {
	srv, _ := mockGeminiServer(t, `{"predicted_interests": []}`)
	e, _ := newTestEnricher(t, srv.URL)

	in, err := e.EnrichInterests(context.Background(), quotedPerson())
	require.NoError(t, err)
	assert.NotEmpty(t, in.Predicted, "empty list resolves to the fallback")
}

func TestEnrichAll(t *testing.T) {
	srv, calls := mockGeminiServer(t, `{
		"profile_overview": "A thorough overview of this person, long enough for every gating rule here.",
		"expertise_areas": ["x"], "achievements": ["y"], "interests": ["z"],
		"personality_traits": ["w"], "connection_message": "hello"
	}`)
	e, people := newTestEnricher(t, srv.URL)
	ctx := context.Background()

	people.UpsertPeople(ctx, []*store.Person{
		quotedPerson(),
		{UserEmail: "owner@example.com", AccountID: "8",
			RelationKind: store.RelationMentioned,
			Quotes:       []string{"another person with long quotes"}},
	})

	stats, err := e.EnrichAll(ctx, "owner@example.com", ModeProfile, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Attempted)
	assert.Equal(t, 2, stats.Succeeded)
	assert.Equal(t, int64(2), calls.Load())

	got, err := people.Get(ctx, "owner@example.com", "7")
	require.NoError(t, err)
	assert.Contains(t, got.Overview, "thorough overview")

	// A second run skips everyone and makes no further calls.
	stats, err = e.EnrichAll(ctx, "owner@example.com", ModeProfile, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Skipped)
	assert.Equal(t, int64(2), calls.Load())
}

func TestImproveQuotes(t *testing.T) {
	srv, _ := mockGeminiServer(t, "{}")
	e, people := newTestEnricher(t, srv.URL)
	ctx := context.Background()

	p := quotedPerson()
	p.Quotes = []string{
		"nothing topical in this one at all",
		"deep learning models and llm agents in production",
	}
	people.UpsertPeople(ctx, []*store.Person{p})

	require.NoError(t, e.ImproveQuotes(ctx, p))

	got, err := people.Get(ctx, p.UserEmail, p.AccountID)
	require.NoError(t, err)
	require.NotEmpty(t, got.Quotes)
	assert.Equal(t, "deep learning models and llm agents in production", got.Quotes[0],
		"topical quote should rank first after improvement")
}
