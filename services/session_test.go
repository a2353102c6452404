package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cubis-academy/cache"
	"cubis-academy/config"
	"cubis-academy/models"
)

const chromeUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

func TestSessionManager_UnknownToken(t *testing.T) {
	ctx := context.Background()
	f := newSessionFixture(t)

	_, err := f.manager.Get(ctx, "no-such-token")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	result, err := f.manager.Validate(ctx, "no-such-token")
	require.NoError(t, err)
	assert.Equal(t, ValidationResult{Valid: false, Reason: ReasonNotFound}, result)

	result, err = f.manager.Validate(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, ReasonNotFound, result.Reason)
}

func TestSessionManager_CreateThenGet(t *testing.T) {
	ctx := context.Background()
	f := newSessionFixture(t)
	user := createTestUser(t, f.users, "ada@cubis.academy", models.RoleStudent)

	created, err := f.manager.Create(ctx, CreateSessionInput{
		UserID:       user.ID,
		SessionToken: "tok-a",
		DeviceID:     "device-1",
		IPAddress:    "10.0.0.1",
		UserAgent:    chromeUA,
		Location:     "Phnom Penh",
		LoginMethod:  "credentials",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.True(t, created.IsActive)
	assert.WithinDuration(t, f.clock.Now().Add(config.SessionLifetime), created.ExpiresAt, time.Second)
	assert.True(t, f.cached(t, "tok-a"), "create should write through to the cache")

	check := func(t *testing.T, got *models.Session) {
		assert.Equal(t, "tok-a", got.SessionToken)
		assert.Equal(t, user.ID, got.UserID)
		assert.Equal(t, created.ID, got.ID)
		assert.Equal(t, DeviceDesktop, got.Device)
		assert.Equal(t, "Chrome", got.Browser)
		assert.Equal(t, "Windows 10", got.OS)
		assert.Equal(t, "device-1", got.DeviceID)
		assert.Equal(t, "Phnom Penh", got.Location)
	}

	t.Run("cache hit", func(t *testing.T) {
		got, err := f.manager.Get(ctx, "tok-a")
		require.NoError(t, err)
		check(t, got)
	})

	t.Run("cache miss", func(t *testing.T) {
		f.cache.Reset()
		got, err := f.manager.Get(ctx, "tok-a")
		require.NoError(t, err)
		check(t, got)
		assert.True(t, f.cached(t, "tok-a"), "a store hit should repopulate the cache")
	})
}

func TestSessionManager_CreateWithoutUserAgent(t *testing.T) {
	ctx := context.Background()
	f := newSessionFixture(t)

	created, err := f.manager.Create(ctx, CreateSessionInput{UserID: "u1", SessionToken: "tok"})
	require.NoError(t, err)
	assert.Empty(t, created.Device)
	assert.Empty(t, created.Browser)
	assert.Empty(t, created.OS)

	_, err = f.manager.Create(ctx, CreateSessionInput{UserID: "u1"})
	assert.Error(t, err)
}

func TestSessionManager_ReentrantCreate(t *testing.T) {
	ctx := context.Background()
	f := newSessionFixture(t)

	first, err := f.manager.Create(ctx, CreateSessionInput{UserID: "u1", SessionToken: "tok-r", IPAddress: "10.0.0.1"})
	require.NoError(t, err)
	require.NoError(t, f.manager.Revoke(ctx, "tok-r"))

	f.clock.Advance(time.Minute)
	second, err := f.manager.Create(ctx, CreateSessionInput{UserID: "u1", SessionToken: "tok-r", IPAddress: "10.0.0.2"})
	require.NoError(t, err)

	var count int64
	require.NoError(t, f.db.Model(&models.Session{}).Where("session_token = ?", "tok-r").Count(&count).Error)
	assert.Equal(t, int64(1), count)

	row := f.row(t, "tok-r")
	assert.Equal(t, "10.0.0.2", row.IPAddress, "last write wins")
	assert.True(t, row.IsActive, "re-entry forces the session active")
	assert.Equal(t, first.ID, second.ID)
	assert.True(t, second.LastActivity.After(first.LastActivity))

	got, err := f.manager.Get(ctx, "tok-r")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.2", got.IPAddress)
}

func TestSessionManager_ValidateExpired(t *testing.T) {
	ctx := context.Background()
	f := newSessionFixture(t)
	user := createTestUser(t, f.users, "grace@cubis.academy", models.RoleTeacher)

	_, err := f.manager.Create(ctx, CreateSessionInput{
		UserID:       user.ID,
		SessionToken: "tok-old",
		ExpiresAt:    f.clock.Now().Add(-time.Hour),
	})
	require.NoError(t, err)

	result, err := f.manager.Validate(ctx, "tok-old")
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Equal(t, ReasonExpired, result.Reason)

	assert.False(t, f.row(t, "tok-old").IsActive, "expired sessions are revoked by validate")
	assert.False(t, f.cached(t, "tok-old"))

	result, err = f.manager.Validate(ctx, "tok-old")
	require.NoError(t, err)
	assert.Equal(t, ReasonInactive, result.Reason)
}

func TestSessionManager_ValidateExpiresWhileCached(t *testing.T) {
	ctx := context.Background()
	f := newSessionFixture(t)
	user := createTestUser(t, f.users, "alan@cubis.academy", models.RoleStudent)

	_, err := f.manager.Create(ctx, CreateSessionInput{
		UserID:       user.ID,
		SessionToken: "tok-short",
		ExpiresAt:    f.clock.Now().Add(time.Hour),
	})
	require.NoError(t, err)
	require.True(t, f.cached(t, "tok-short"))

	f.clock.Advance(2 * time.Hour)
	result, err := f.manager.Validate(ctx, "tok-short")
	require.NoError(t, err)
	assert.Equal(t, ReasonExpired, result.Reason)
	assert.False(t, f.cached(t, "tok-short"))
}

func TestSessionManager_ValidateOwner(t *testing.T) {
	ctx := context.Background()
	f := newSessionFixture(t)
	user := createTestUser(t, f.users, "linus@cubis.academy", models.RoleStudent)

	_, err := f.manager.Create(ctx, CreateSessionInput{UserID: user.ID, SessionToken: "tok-ok"})
	require.NoError(t, err)
	_, err = f.manager.Create(ctx, CreateSessionInput{UserID: "ghost", SessionToken: "tok-ghost"})
	require.NoError(t, err)

	result, err := f.manager.Validate(ctx, "tok-ok")
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Equal(t, user.ID, result.UserID)
	require.NotNil(t, result.User)
	assert.Equal(t, user.Email, result.User.Email)

	result, err = f.manager.Validate(ctx, "tok-ghost")
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Equal(t, ReasonUserNotFound, result.Reason)
	assert.Nil(t, result.User)

	require.NoError(t, f.users.SetActive(ctx, user.ID, false))
	result, err = f.manager.Validate(ctx, "tok-ok")
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Equal(t, ReasonUserInactive, result.Reason)
	assert.Equal(t, user.ID, result.UserID)
}

func TestSessionManager_RevokeIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newSessionFixture(t)

	_, err := f.manager.Create(ctx, CreateSessionInput{UserID: "u1", SessionToken: "tok-x"})
	require.NoError(t, err)

	require.NoError(t, f.manager.Revoke(ctx, "tok-x"))
	stateAfterOne := f.row(t, "tok-x")
	require.NoError(t, f.manager.Revoke(ctx, "tok-x"))
	stateAfterTwo := f.row(t, "tok-x")

	assert.False(t, stateAfterOne.IsActive)
	assert.Equal(t, stateAfterOne, stateAfterTwo)
	assert.False(t, f.cached(t, "tok-x"))

	assert.NoError(t, f.manager.Revoke(ctx, "never-issued"))
}

func TestSessionManager_RevokeAllExceptCurrent(t *testing.T) {
	ctx := context.Background()
	f := newSessionFixture(t)
	user := createTestUser(t, f.users, "barbara@cubis.academy", models.RoleStudent)
	other := createTestUser(t, f.users, "ken@cubis.academy", models.RoleStudent)

	for _, token := range []string{"current", "laptop", "phone"} {
		_, err := f.manager.Create(ctx, CreateSessionInput{UserID: user.ID, SessionToken: token})
		require.NoError(t, err)
	}
	_, err := f.manager.Create(ctx, CreateSessionInput{UserID: other.ID, SessionToken: "someone-else"})
	require.NoError(t, err)

	n, err := f.manager.RevokeAllExceptCurrent(ctx, user.ID, "current")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	result, err := f.manager.Validate(ctx, "current")
	require.NoError(t, err)
	assert.True(t, result.Valid)

	for _, token := range []string{"laptop", "phone"} {
		result, err := f.manager.Validate(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, ValidationResult{UserID: user.ID, Reason: ReasonInactive}, result, token)
		assert.False(t, f.cached(t, token))
	}

	result, err = f.manager.Validate(ctx, "someone-else")
	require.NoError(t, err)
	assert.True(t, result.Valid, "other users are untouched")

	n, err = f.manager.RevokeAllExceptCurrent(ctx, user.ID, "current")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestSessionManager_RevokeAll(t *testing.T) {
	ctx := context.Background()
	f := newSessionFixture(t)

	for _, token := range []string{"a", "b"} {
		_, err := f.manager.Create(ctx, CreateSessionInput{UserID: "u1", SessionToken: token})
		require.NoError(t, err)
	}
	_, err := f.manager.Create(ctx, CreateSessionInput{UserID: "u2", SessionToken: "c"})
	require.NoError(t, err)

	n, err := f.manager.RevokeAll(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	for _, token := range []string{"a", "b"} {
		_, err := f.manager.Get(ctx, token)
		assert.ErrorIs(t, err, ErrSessionNotFound)
		assert.False(t, f.cached(t, token))
	}
	_, err = f.manager.Get(ctx, "c")
	assert.NoError(t, err)
}

func TestSessionManager_Lifecycle(t *testing.T) {
	ctx := context.Background()
	f := newSessionFixture(t)

	created, err := f.manager.Create(ctx, CreateSessionInput{
		UserID:       "u1",
		SessionToken: "tok-a",
		ExpiresAt:    f.clock.Now().Add(30 * 24 * time.Hour),
	})
	require.NoError(t, err)

	got, err := f.manager.Get(ctx, "tok-a")
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)

	f.clock.Advance(5 * time.Minute)
	require.NoError(t, f.manager.UpdateActivity(ctx, "tok-a"))

	row := f.row(t, "tok-a")
	assert.True(t, row.LastActivity.After(created.LastActivity))
	assert.Equal(t, created.ExpiresAt.Unix(), row.ExpiresAt.Unix(), "activity does not extend expiry")

	got, err = f.manager.Get(ctx, "tok-a")
	require.NoError(t, err)
	assert.True(t, got.LastActivity.After(created.LastActivity), "cached copy sees the new activity")

	require.NoError(t, f.manager.Revoke(ctx, "tok-a"))
	_, err = f.manager.Get(ctx, "tok-a")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSessionManager_Sweep(t *testing.T) {
	ctx := context.Background()
	f := newSessionFixture(t)
	user := createTestUser(t, f.users, "edsger@cubis.academy", models.RoleStudent)

	for _, token := range []string{"stale-1", "stale-2"} {
		_, err := f.manager.Create(ctx, CreateSessionInput{
			UserID:       user.ID,
			SessionToken: token,
			ExpiresAt:    f.clock.Now().Add(time.Hour),
		})
		require.NoError(t, err)
	}
	_, err := f.manager.Create(ctx, CreateSessionInput{UserID: user.ID, SessionToken: "fresh"})
	require.NoError(t, err)

	f.clock.Advance(2 * time.Hour)
	n, err := f.manager.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	for _, token := range []string{"stale-1", "stale-2"} {
		assert.False(t, f.cached(t, token))
		result, err := f.manager.Validate(ctx, token)
		require.NoError(t, err)
		assert.False(t, result.Valid)
		assert.Contains(t, []string{ReasonExpired, ReasonInactive}, result.Reason)
	}

	result, err := f.manager.Validate(ctx, "fresh")
	require.NoError(t, err)
	assert.True(t, result.Valid)

	n, err = f.manager.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

// seedSessions inserts n active sessions for userID directly into the store.
func (f *sessionFixture) seedSessions(t *testing.T, userID, prefix string, n int, expiresAt time.Time) {
	t.Helper()
	now := f.clock.Now()
	rows := make([]models.Session, n)
	for i := range rows {
		rows[i] = models.Session{
			ID:           fmt.Sprintf("%s-%06d", prefix, i),
			UserID:       userID,
			SessionToken: fmt.Sprintf("%s-token-%06d", prefix, i),
			IsActive:     true,
			LastActivity: now,
			ExpiresAt:    expiresAt,
			CreatedAt:    now,
		}
	}
	require.NoError(t, f.db.CreateInBatches(&rows, 100).Error)
}

func TestSessionManager_SweepLargeBacklog(t *testing.T) {
	ctx := context.Background()
	f := newSessionFixture(t)
	backlog := 3*revokeBatchSize + 17

	f.seedSessions(t, "u1", "old", backlog, f.clock.Now().Add(-time.Hour))
	f.seedSessions(t, "u1", "live", 5, f.clock.Now().Add(time.Hour))

	n, err := f.manager.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(backlog), n)

	var active int64
	require.NoError(t, f.db.Model(&models.Session{}).Where("is_active = ?", true).Count(&active).Error)
	assert.Equal(t, int64(5), active)

	n, err = f.manager.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSessionManager_RevokeAllLargeUser(t *testing.T) {
	ctx := context.Background()
	f := newSessionFixture(t)
	total := revokeBatchSize + 3

	f.seedSessions(t, "u1", "many", total, f.clock.Now().Add(time.Hour))
	f.seedSessions(t, "u2", "other", 2, f.clock.Now().Add(time.Hour))

	n, err := f.manager.RevokeAllExceptCurrent(ctx, "u1", "many-token-000000")
	require.NoError(t, err)
	assert.Equal(t, int64(total-1), n)
	assert.True(t, f.row(t, "many-token-000000").IsActive)

	n, err = f.manager.RevokeAll(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.True(t, f.row(t, "other-token-000001").IsActive)
}

func TestSessionManager_StaleCacheHit(t *testing.T) {
	ctx := context.Background()
	f := newSessionFixture(t)

	_, err := f.manager.Create(ctx, CreateSessionInput{UserID: "u1", SessionToken: "tok-s"})
	require.NoError(t, err)

	// Revoked by another instance: the store changes, this cache does not.
	require.NoError(t, f.db.Model(&models.Session{}).
		Where("session_token = ?", "tok-s").
		Update("is_active", false).Error)
	require.True(t, f.cached(t, "tok-s"))

	_, err = f.manager.Get(ctx, "tok-s")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.False(t, f.cached(t, "tok-s"), "stale entries are evicted")
}

func TestSessionManager_ListActive(t *testing.T) {
	ctx := context.Background()
	f := newSessionFixture(t)

	for _, token := range []string{"first", "second", "third"} {
		_, err := f.manager.Create(ctx, CreateSessionInput{UserID: "u1", SessionToken: token})
		require.NoError(t, err)
		f.clock.Advance(time.Minute)
	}
	require.NoError(t, f.manager.UpdateActivity(ctx, "first"))
	require.NoError(t, f.manager.Revoke(ctx, "second"))

	sessions, err := f.manager.ListActive(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "first", sessions[0].SessionToken)
	assert.Equal(t, "third", sessions[1].SessionToken)

	count, err := f.manager.CountActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestSessionManager_CacheUnavailable(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	users := newTestUserService(db)
	user := createTestUser(t, users, "margaret@cubis.academy", models.RoleAdmin)
	manager := NewSessionManager(db, failingCache{}, users, WithLogger(discardLogger))

	_, err := manager.Create(ctx, CreateSessionInput{UserID: user.ID, SessionToken: "tok"})
	require.NoError(t, err)

	got, err := manager.Get(ctx, "tok")
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.UserID)

	result, err := manager.Validate(ctx, "tok")
	require.NoError(t, err)
	assert.True(t, result.Valid)

	require.NoError(t, manager.Revoke(ctx, "tok"))
	result, err = manager.Validate(ctx, "tok")
	require.NoError(t, err)
	assert.Equal(t, ReasonInactive, result.Reason)
}

func TestSessionManager_StoreFailure(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	manager := NewSessionManager(db, cache.NewMemory(0), newTestUserService(db), WithLogger(discardLogger))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	_, err = manager.Create(ctx, CreateSessionInput{UserID: "u1", SessionToken: "tok"})
	assert.Error(t, err)

	_, err = manager.Validate(ctx, "tok")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrSessionNotFound)
}
