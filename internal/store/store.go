// Package store persists aggregated and enriched people keyed by
// (user_email, account_id). Merges are idempotent: the upsert never regresses
// the follow flag and never downgrades a specific relation kind back to
// follower, so repeated ingestion passes over the same archive are safe.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tonean/mira/internal/report"
)

// Relation kinds, in order of how a person entered the graph.
const (
	RelationFollower     = "follower"
	RelationFollowing    = "following"
	RelationMentioned    = "mentioned"
	RelationSelf         = "self"
	RelationEmailContact = "email-contact"
)

// Person is the aggregated profile for one individual observed in an archive.
type Person struct {
	ID            string
	UserEmail     string
	AccountID     string
	Username      string
	DisplayName   string
	RelationKind  string
	SourceChannel string
	IsFollowed    bool
	Quotes        []string

	// Enrichment fields, populated by the enrichment pass.
	Overview           string
	ExpertiseAreas     []string
	Achievements       []string
	Interests          []string
	PersonalityTraits  []string
	ConnectionMessage  string
	TimelineEntries    []string
	PredictedInterests []string

	UpdatedAt time.Time
}

// Store wraps the people relation.
type Store struct {
	db *sql.DB
}

// New creates a store over an open database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// relationRank orders relation kinds from least to most specific. A merge
// never moves a person down this ladder.
func relationRank(kind string) int {
	switch kind {
	case RelationFollower:
		return 0
	case RelationEmailContact:
		return 1
	case RelationMentioned:
		return 2
	case RelationFollowing:
		return 3
	case RelationSelf:
		return 4
	default:
		return 0
	}
}

// MergeRelation returns the more specific of two relation kinds.
func MergeRelation(existing, incoming string) string {
	if relationRank(incoming) > relationRank(existing) {
		return incoming
	}
	return existing
}

func marshalList(list []string) string {
	if len(list) == 0 {
		return "[]"
	}
	data, err := json.Marshal(list)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func unmarshalList(raw sql.NullString) []string {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	var list []string
	if err := json.Unmarshal([]byte(raw.String), &list); err != nil {
		return nil
	}
	return list
}

// UpsertPeople writes a batch of people. On (user_email, account_id) conflict
// the supplied columns replace the stored ones, except is_followed (monotonic
// OR) and relation_kind (follower never overwrites a more specific kind).
// A failed record is logged and counted; the batch continues.
func (s *Store) UpsertPeople(ctx context.Context, people []*Person) report.Stats {
	stats := report.Stats{}
	start := time.Now()

	for _, p := range people {
		stats.Attempted++
		if err := s.upsertOne(ctx, p); err != nil {
			fmt.Printf("Warning: failed to upsert %s/%s: %v\n", p.UserEmail, p.AccountID, err)
			stats.Failed++
			continue
		}
		stats.Succeeded++
	}

	stats.Duration = time.Since(start)
	return stats
}

func (s *Store) upsertOne(ctx context.Context, p *Person) error {
	if p.UserEmail == "" || p.AccountID == "" {
		return fmt.Errorf("user_email and account_id are required")
	}
	id := p.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := time.Now().Unix()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO people (
			id, user_email, account_id, username, display_name,
			relation_kind, source_channel, is_followed, quotes, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_email, account_id) DO UPDATE SET
			username = CASE WHEN excluded.username != '' THEN excluded.username ELSE people.username END,
			display_name = CASE WHEN excluded.display_name != '' THEN excluded.display_name ELSE people.display_name END,
			relation_kind = CASE WHEN excluded.relation_kind = 'follower' THEN people.relation_kind ELSE excluded.relation_kind END,
			source_channel = excluded.source_channel,
			is_followed = MAX(people.is_followed, excluded.is_followed),
			quotes = excluded.quotes,
			updated_at = excluded.updated_at
	`, id, p.UserEmail, p.AccountID, p.Username, p.DisplayName,
		p.RelationKind, p.SourceChannel, boolToInt(p.IsFollowed), marshalList(p.Quotes), now)
	if err != nil {
		return fmt.Errorf("failed to upsert person: %w", err)
	}
	return nil
}

// updatableColumns whitelists the columns UpdateFields may touch.
var updatableColumns = map[string]bool{
	"username":            true,
	"display_name":        true,
	"quotes":              true,
	"overview":            true,
	"expertise_areas":     true,
	"achievements":        true,
	"interests":           true,
	"personality_traits":  true,
	"connection_message":  true,
	"timeline_entries":    true,
	"predicted_interests": true,
}

// UpdateFields applies a targeted partial update to an already-located
// person. Callers pass only the columns that passed their quality gates, so
// previously written values survive. List values may be passed as []string.
func (s *Store) UpdateFields(ctx context.Context, userEmail, accountID string, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}

	query := "UPDATE people SET "
	args := make([]any, 0, len(fields)+3)
	first := true
	for col, val := range fields {
		if !updatableColumns[col] {
			return fmt.Errorf("column %q is not updatable", col)
		}
		if !first {
			query += ", "
		}
		first = false
		query += col + " = ?"
		if list, ok := val.([]string); ok {
			val = marshalList(list)
		}
		args = append(args, val)
	}
	query += ", updated_at = ? WHERE user_email = ? AND account_id = ?"
	args = append(args, time.Now().Unix(), userEmail, accountID)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update person: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("person %s/%s not found", userEmail, accountID)
	}
	return nil
}

const personColumns = `
	id, user_email, account_id, username, display_name,
	relation_kind, source_channel, is_followed, quotes,
	overview, expertise_areas, achievements, interests,
	personality_traits, connection_message, timeline_entries,
	predicted_interests, updated_at`

func scanPerson(row interface{ Scan(...any) error }) (*Person, error) {
	var p Person
	var username, displayName, quotes sql.NullString
	var overview, expertise, achievements, interests sql.NullString
	var traits, connMsg, timeline, predicted sql.NullString
	var isFollowed int
	var updatedAt int64

	err := row.Scan(&p.ID, &p.UserEmail, &p.AccountID, &username, &displayName,
		&p.RelationKind, &p.SourceChannel, &isFollowed, &quotes,
		&overview, &expertise, &achievements, &interests,
		&traits, &connMsg, &timeline, &predicted, &updatedAt)
	if err != nil {
		return nil, err
	}

	p.Username = username.String
	p.DisplayName = displayName.String
	p.IsFollowed = isFollowed != 0
	p.Quotes = unmarshalList(quotes)
	p.Overview = overview.String
	p.ExpertiseAreas = unmarshalList(expertise)
	p.Achievements = unmarshalList(achievements)
	p.Interests = unmarshalList(interests)
	p.PersonalityTraits = unmarshalList(traits)
	p.ConnectionMessage = connMsg.String
	p.TimelineEntries = unmarshalList(timeline)
	p.PredictedInterests = unmarshalList(predicted)
	p.UpdatedAt = time.Unix(updatedAt, 0)

	return &p, nil
}

// Get returns the person for (userEmail, accountID), or nil if not found.
func (s *Store) Get(ctx context.Context, userEmail, accountID string) (*Person, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT"+personColumns+" FROM people WHERE user_email = ? AND account_id = ?",
		userEmail, accountID)
	p, err := scanPerson(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get person: %w", err)
	}
	return p, nil
}

// GetByUsername returns the person for (userEmail, username), or nil.
func (s *Store) GetByUsername(ctx context.Context, userEmail, username string) (*Person, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT"+personColumns+" FROM people WHERE user_email = ? AND username = ? LIMIT 1",
		userEmail, username)
	p, err := scanPerson(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get person by username: %w", err)
	}
	return p, nil
}

// ListForEnrichment returns people with at least one quote, oldest-updated
// first, which is the order the enrichment loop processes them in.
// limit <= 0 means no limit.
func (s *Store) ListForEnrichment(ctx context.Context, userEmail string, limit int) ([]*Person, error) {
	query := "SELECT" + personColumns + ` FROM people
		WHERE user_email = ? AND quotes != '[]' AND quotes != ''
		ORDER BY updated_at ASC, account_id ASC`
	args := []any{userEmail}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list people: %w", err)
	}
	defer rows.Close()

	var people []*Person
	for rows.Next() {
		p, err := scanPerson(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan person: %w", err)
		}
		people = append(people, p)
	}
	return people, rows.Err()
}

// Count returns the number of people stored for an owner.
func (s *Store) Count(ctx context.Context, userEmail string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM people WHERE user_email = ?", userEmail).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count people: %w", err)
	}
	return n, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
