//go:build integration

package profile_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marginalia-app/marginalia/internal/conversation"
	"github.com/marginalia-app/marginalia/internal/profile"
	"github.com/marginalia-app/marginalia/internal/testutil"
)

func TestGet_LazyCreateWithDefaults(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	store, err := profile.NewStore(db.Pool, testutil.NewLogger())
	require.NoError(t, err)
	ctx := context.Background()

	p, err := store.Get(ctx, "reader-1")
	require.NoError(t, err)
	assert.Equal(t, profile.StyleBalanced, p.ResponseStyle)
	assert.Equal(t, profile.ComplexityModerate, p.ComplexityPreference)
	assert.Empty(t, p.TopicAffinities)
	assert.Zero(t, p.TotalQueries)

	// Second read must not reset anything.
	_, err = store.RecordQuery(ctx, "reader-1", "what motivates the protagonist?")
	require.NoError(t, err)
	again, err := store.Get(ctx, "reader-1")
	require.NoError(t, err)
	assert.Equal(t, 1, again.TotalQueries)
	assert.Equal(t, []string{"character"}, again.Topics())
}

func TestRecordFeedback_StepsStyleAndComplexity(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	store, err := profile.NewStore(db.Pool, testutil.NewLogger())
	require.NoError(t, err)
	ctx := context.Background()

	// too_long from the balanced default lands on concise.
	p, err := store.RecordFeedback(ctx, "reader-2", "tell me about the ending", conversation.FeedbackTooLong)
	require.NoError(t, err)
	assert.Equal(t, profile.StyleConcise, p.ResponseStyle)

	// Clamped at the short end.
	p, err = store.RecordFeedback(ctx, "reader-2", "and the sequel?", conversation.FeedbackTooLong)
	require.NoError(t, err)
	assert.Equal(t, profile.StyleConcise, p.ResponseStyle)
	assert.Equal(t, 2, p.FeedbackCount)

	// helpful on an advanced query pulls moderate up one step.
	p, err = store.RecordFeedback(ctx, "reader-2", "analyze the framing device", conversation.FeedbackHelpful)
	require.NoError(t, err)
	assert.Equal(t, profile.ComplexityAdvanced, p.ComplexityPreference)

	// A two-step outlier cannot swing it back down.
	p, err = store.RecordFeedback(ctx, "reader-2", "what is chapter one about", conversation.FeedbackHelpful)
	require.NoError(t, err)
	assert.Equal(t, profile.ComplexityAdvanced, p.ComplexityPreference)
}
