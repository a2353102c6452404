package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"cubis-academy/cache"
	"cubis-academy/models"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)
	require.NoError(t, AutoMigrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func newTestUserService(db *gorm.DB) *UserService {
	s := NewUserService(db, discardLogger)
	s.bcryptCost = bcrypt.MinCost
	return s
}

func createTestUser(t *testing.T, users *UserService, email string, role models.UserRole) *models.User {
	t.Helper()
	user, err := users.Create(context.Background(), CreateUserInput{
		Email:    email,
		FullName: "Test User",
		Password: "correct horse",
		Role:     role,
	})
	require.NoError(t, err)
	return user
}

// testClock is a settable time source.
type testClock struct {
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Now().UTC().Truncate(time.Millisecond)}
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

// failingCache is a cache whose backend is unreachable.
type failingCache struct{}

var errCacheDown = errors.New("cache unavailable")

func (failingCache) Get(context.Context, string) ([]byte, error) { return nil, errCacheDown }

func (failingCache) Set(context.Context, string, []byte, time.Duration) error { return errCacheDown }

func (failingCache) Delete(context.Context, string) error { return errCacheDown }

func (failingCache) Name() string { return "failing" }

var _ cache.Cache = failingCache{}

type sessionFixture struct {
	db      *gorm.DB
	cache   *cache.Memory
	users   *UserService
	clock   *testClock
	manager *SessionManager
}

func newSessionFixture(t *testing.T) *sessionFixture {
	t.Helper()
	db := newTestDB(t)
	f := &sessionFixture{
		db:    db,
		cache: cache.NewMemory(0),
		users: newTestUserService(db),
		clock: newTestClock(),
	}
	f.manager = NewSessionManager(db, f.cache, f.users, WithLogger(discardLogger), WithClock(f.clock.Now))
	return f
}

func (f *sessionFixture) cached(t *testing.T, token string) bool {
	t.Helper()
	_, err := f.cache.Get(context.Background(), sessionCacheKey(token))
	if errors.Is(err, cache.ErrMiss) {
		return false
	}
	require.NoError(t, err)
	return true
}

func (f *sessionFixture) row(t *testing.T, token string) models.Session {
	t.Helper()
	var s models.Session
	require.NoError(t, f.db.Where("session_token = ?", token).Take(&s).Error)
	return s
}
