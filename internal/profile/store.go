package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/marginalia-app/marginalia/internal/conversation"
)

const profileCols = `reader_id, response_style, complexity_preference,
	topic_affinities, total_queries, feedback_count, created_at, updated_at`

// Store reads and incrementally updates learning profiles.
//
// Updates are plain read-modify-write: profiles are reader-scoped, so
// concurrent writers for the same reader are rare and last-writer-wins
// is acceptable.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewStore creates a profile Store.
func NewStore(pool *pgxpool.Pool, logger *slog.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}, nil
}

// Get returns the reader's profile, creating one with neutral defaults
// on first sight. Profiles are never deleted.
func (s *Store) Get(ctx context.Context, readerID string) (*Profile, error) {
	if readerID == "" {
		return nil, fmt.Errorf("readerID is required")
	}

	// Defaults come from the schema; DO NOTHING keeps an existing row
	// untouched.
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO learning_profiles (reader_id) VALUES ($1)
		 ON CONFLICT (reader_id) DO NOTHING`, readerID); err != nil {
		return nil, fmt.Errorf("ensuring profile for %s: %w", readerID, err)
	}

	var p Profile
	var affinitiesJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT `+profileCols+` FROM learning_profiles WHERE reader_id = $1`, readerID).
		Scan(&p.ReaderID, &p.ResponseStyle, &p.ComplexityPreference, &affinitiesJSON,
			&p.TotalQueries, &p.FeedbackCount, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("loading profile for %s: %w", readerID, err)
	}
	if err := json.Unmarshal(affinitiesJSON, &p.TopicAffinities); err != nil {
		return nil, fmt.Errorf("unmarshaling topic affinities for %s: %w", readerID, err)
	}
	return &p, nil
}

// save writes the mutable profile fields back.
func (s *Store) save(ctx context.Context, p *Profile) error {
	affinitiesJSON, err := json.Marshal(p.TopicAffinities)
	if err != nil {
		return fmt.Errorf("marshaling topic affinities: %w", err)
	}
	if p.TopicAffinities == nil {
		affinitiesJSON = []byte("[]")
	}

	_, err = s.pool.Exec(ctx,
		`UPDATE learning_profiles SET
			response_style        = $2,
			complexity_preference = $3,
			topic_affinities      = $4,
			total_queries         = $5,
			feedback_count        = $6,
			updated_at            = now()
		 WHERE reader_id = $1`,
		p.ReaderID, p.ResponseStyle, p.ComplexityPreference, affinitiesJSON,
		p.TotalQueries, p.FeedbackCount)
	if err != nil {
		return fmt.Errorf("saving profile for %s: %w", p.ReaderID, err)
	}
	return nil
}

// RecordQuery folds one completed exchange into the profile: topic
// affinities from the query text and the query counter. Returns the
// updated profile.
func (s *Store) RecordQuery(ctx context.Context, readerID, query string) (*Profile, error) {
	p, err := s.Get(ctx, readerID)
	if err != nil {
		return nil, err
	}

	p.TopicAffinities = MergeAffinities(p.TopicAffinities, ExtractTopics(query))
	p.TotalQueries++

	if err := s.save(ctx, p); err != nil {
		return nil, err
	}

	s.logger.Debug("recorded query into profile",
		"reader_id", readerID, "total_queries", p.TotalQueries, "topics", p.Topics())
	return p, nil
}

// RecordFeedback applies an explicit feedback label to the profile.
// The query is the reader message that prompted the judged answer; its
// classified complexity gates the complexity adjustment.
func (s *Store) RecordFeedback(ctx context.Context, readerID, query string, label conversation.FeedbackLabel) (*Profile, error) {
	if !label.Valid() {
		return nil, fmt.Errorf("invalid feedback label %q", label)
	}

	p, err := s.Get(ctx, readerID)
	if err != nil {
		return nil, err
	}

	p.ResponseStyle = AdaptStyle(p.ResponseStyle, label)
	p.ComplexityPreference = AdaptComplexity(p.ComplexityPreference, ClassifyComplexity(query), label)
	p.FeedbackCount++

	if err := s.save(ctx, p); err != nil {
		return nil, err
	}

	s.logger.Debug("recorded feedback into profile",
		"reader_id", readerID, "label", label,
		"style", p.ResponseStyle, "complexity", p.ComplexityPreference)
	return p, nil
}
