package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"crmsync/internal/database"
	"crmsync/internal/models"
	"crmsync/internal/platform"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupTestDB opens an isolated in-memory database with the full schema.
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, database.Migrate(db))
	return db
}

func createTestPage(t *testing.T, db *gorm.DB) *models.Page {
	t.Helper()
	page := &models.Page{
		PageID:      fmt.Sprintf("page-%s", t.Name()),
		Name:        "Test Page",
		AccessToken: "token",
		Platforms:   models.StringSlice{"messenger"},
	}
	require.NoError(t, db.Create(page).Error)
	return page
}

// fakeStream serves a fixed conversation slice, optionally failing at one
// index to simulate a platform error mid-stream.
type fakeStream struct {
	conversations []platform.Conversation
	failAt        int // -1 disables
	failWith      error
	pos           int
}

func (s *fakeStream) Next(ctx context.Context) (*platform.Conversation, bool, error) {
	if s.failAt >= 0 && s.pos == s.failAt {
		return nil, false, s.failWith
	}
	if s.pos >= len(s.conversations) {
		return nil, false, nil
	}
	conv := s.conversations[s.pos]
	s.pos++
	return &conv, true, nil
}

// fakeClient serves canned conversations and messages keyed by conversation
// id, and counts message fetches so cache behaviour is observable.
type fakeClient struct {
	mu            sync.Mutex
	conversations []platform.Conversation
	messages      map[string][]platform.Message
	messageCalls  map[string]int
	failAt        int
	failWith      error
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		messages:     make(map[string][]platform.Message),
		messageCalls: make(map[string]int),
		failAt:       -1,
	}
}

func (c *fakeClient) Conversations(ctx context.Context, pageID string, p models.Platform) (platform.ConversationStream, error) {
	return &fakeStream{conversations: c.conversations, failAt: c.failAt, failWith: c.failWith}, nil
}

func (c *fakeClient) Messages(ctx context.Context, conversationID string) ([]platform.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messageCalls[conversationID]++
	return c.messages[conversationID], nil
}

func (c *fakeClient) callCount(conversationID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.messageCalls[conversationID]
}

// fakeScorer returns a fixed score, or an error when broken.
type fakeScorer struct {
	score  int
	ctx    string
	broken bool
}

func (s *fakeScorer) Score(_ context.Context, _ string, _ []platform.Message) (*ContactAnalysis, error) {
	if s.broken {
		return nil, fmt.Errorf("scoring backend unavailable")
	}
	return &ContactAnalysis{LeadScore: s.score, Context: s.ctx}, nil
}

func ts(t *testing.T, value string) *time.Time {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339, value)
	require.NoError(t, err)
	return &parsed
}
