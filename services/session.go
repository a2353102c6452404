package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"cubis-academy/cache"
	"cubis-academy/config"
	"cubis-academy/models"
)

// Validation failure reasons
const (
	ReasonNotFound     = "not found"
	ReasonInactive     = "inactive"
	ReasonExpired      = "expired"
	ReasonUserNotFound = "user not found"
	ReasonUserInactive = "user inactive"
)

const sessionCacheKeyPrefix = "session:"

var ErrSessionNotFound = errors.New("session not found")

// GenerateSessionToken generates a secure random session token
func GenerateSessionToken() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

// CreateSessionInput is what the sign-in flow knows about a new session.
type CreateSessionInput struct {
	UserID       string
	SessionToken string
	DeviceID     string
	IPAddress    string
	UserAgent    string
	Location     string
	LoginMethod  string
	// ExpiresAt defaults to now + config.SessionLifetime.
	ExpiresAt time.Time
}

// ValidationResult is the outcome of SessionManager.Validate. A failed
// validation is a value, not an error.
type ValidationResult struct {
	Valid  bool   `json:"valid"`
	UserID string `json:"user_id,omitempty"`
	Reason string `json:"reason,omitempty"`
	// User is the session owner, set when Valid.
	User *models.User `json:"-"`
}

// SessionManager owns the session lifecycle. The relational store is
// authoritative; the cache mirrors active sessions keyed by token and is
// re-checked against the store on every hit. The two writes are not
// transactional, so the cache may briefly lag the store.
type SessionManager struct {
	db    *gorm.DB
	cache cache.Cache
	users UserDirectory
	log   *slog.Logger
	now   func() time.Time
}

// SessionOption configures a SessionManager.
type SessionOption func(*SessionManager)

// WithLogger sets the logger used by the manager.
func WithLogger(l *slog.Logger) SessionOption {
	return func(m *SessionManager) {
		if l != nil {
			m.log = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) SessionOption {
	return func(m *SessionManager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewSessionManager creates a SessionManager over db and c. users is
// consulted by Validate to check that the session owner is still active.
func NewSessionManager(db *gorm.DB, c cache.Cache, users UserDirectory, opts ...SessionOption) *SessionManager {
	m := &SessionManager{
		db:    db,
		cache: c,
		users: users,
		log:   slog.Default(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create stores a session for a successful sign-in. Presenting a token that
// already exists updates that row in place (provider callbacks may retry),
// so there is never more than one row per token.
func (m *SessionManager) Create(ctx context.Context, in CreateSessionInput) (*models.Session, error) {
	defer newTimingLogger(m.log, time.Now(), "executed sql query", "method", "create session")()

	if in.UserID == "" || in.SessionToken == "" {
		return nil, fmt.Errorf("user id and session token are required")
	}

	now := m.clock()
	expiresAt := in.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = now.Add(config.SessionLifetime)
	}
	info := ParseUserAgent(in.UserAgent)

	row := models.Session{
		ID:           uuid.NewString(),
		UserID:       in.UserID,
		SessionToken: in.SessionToken,
		DeviceID:     in.DeviceID,
		IPAddress:    in.IPAddress,
		UserAgent:    in.UserAgent,
		Device:       info.Device,
		Browser:      info.Browser,
		OS:           info.OS,
		Location:     in.Location,
		LoginMethod:  in.LoginMethod,
		IsActive:     true,
		LastActivity: now,
		ExpiresAt:    expiresAt.UTC(),
		CreatedAt:    now,
	}

	err := m.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "session_token"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"user_id", "device_id", "ip_address", "user_agent", "device", "browser", "os",
			"location", "login_method", "is_active", "last_activity", "expires_at",
		}),
	}).Create(&row).Error
	if err != nil {
		return nil, logAndWrapErr(m.log, "failed to create session", err, "user_id", in.UserID)
	}

	// Re-read so a re-entrant create returns the original row id and created time.
	session, err := m.findByToken(ctx, in.SessionToken)
	if err != nil {
		return nil, logAndWrapErr(m.log, "failed to read created session", err, "user_id", in.UserID)
	}

	m.cacheStore(ctx, session)
	sessionsCreated.Inc()

	m.log.Debug("created session", "session_id", session.ID, "user_id", session.UserID)
	return session, nil
}

// Get returns the active, unexpired session for token or ErrSessionNotFound.
func (m *SessionManager) Get(ctx context.Context, token string) (*models.Session, error) {
	if token == "" {
		return nil, ErrSessionNotFound
	}
	now := m.clock()

	if session, ok := m.cacheLoad(ctx, token); ok {
		// The cached copy may predate a revoke issued elsewhere.
		var state models.Session
		err := m.db.WithContext(ctx).
			Select("is_active", "expires_at").
			Where("session_token = ?", token).
			Take(&state).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("failed to get session: %w", err)
		}
		if err != nil || !state.IsValid(now) {
			sessionCacheRequests.WithLabelValues(cacheStale).Inc()
			m.cacheEvict(ctx, token)
			return nil, ErrSessionNotFound
		}

		sessionCacheRequests.WithLabelValues(cacheHit).Inc()
		session.IsActive = state.IsActive
		session.ExpiresAt = state.ExpiresAt
		return session, nil
	}
	sessionCacheRequests.WithLabelValues(cacheMiss).Inc()

	var session models.Session
	err := m.db.WithContext(ctx).
		Where("session_token = ? AND is_active = ? AND expires_at > ?", token, true, now).
		Take(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSessionNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	m.cacheStore(ctx, &session)
	return &session, nil
}

// UpdateActivity records activity on token in the store and in the cached
// copy, if any. Callers may ignore its error.
func (m *SessionManager) UpdateActivity(ctx context.Context, token string) error {
	now := m.clock()
	err := m.db.WithContext(ctx).
		Model(&models.Session{}).
		Where("session_token = ?", token).
		Update("last_activity", now).Error
	if err != nil {
		return fmt.Errorf("failed to update session activity: %w", err)
	}

	if session, ok := m.cacheLoad(ctx, token); ok {
		session.LastActivity = now
		m.cacheStore(ctx, session)
	}
	return nil
}

// Revoke marks the session inactive and evicts it from the cache. Revoking an
// unknown or already revoked token is a no-op.
func (m *SessionManager) Revoke(ctx context.Context, token string) error {
	result := m.db.WithContext(ctx).
		Model(&models.Session{}).
		Where("session_token = ? AND is_active = ?", token, true).
		Update("is_active", false)
	if result.Error != nil {
		return fmt.Errorf("failed to revoke session: %w", result.Error)
	}
	sessionsRevoked.Add(float64(result.RowsAffected))

	m.cacheEvict(ctx, token)
	return nil
}

// RevokeAll revokes every active session of userID and returns the count.
func (m *SessionManager) RevokeAll(ctx context.Context, userID string) (int64, error) {
	n, err := m.revokeWhere(ctx, func(db *gorm.DB) *gorm.DB {
		return db.Where("user_id = ? AND is_active = ?", userID, true)
	})
	if err != nil {
		return 0, logAndWrapErr(m.log, "failed to revoke user sessions", err, "user_id", userID)
	}
	sessionsRevoked.Add(float64(n))
	m.log.Info("Revoked user sessions", "user_id", userID, "count", n)
	return n, nil
}

// RevokeAllExceptCurrent revokes every active session of userID other than
// currentToken and returns how many were revoked.
func (m *SessionManager) RevokeAllExceptCurrent(ctx context.Context, userID, currentToken string) (int64, error) {
	n, err := m.revokeWhere(ctx, func(db *gorm.DB) *gorm.DB {
		return db.Where("user_id = ? AND is_active = ? AND session_token <> ?", userID, true, currentToken)
	})
	if err != nil {
		return 0, logAndWrapErr(m.log, "failed to revoke other sessions", err, "user_id", userID)
	}
	sessionsRevoked.Add(float64(n))
	m.log.Info("Revoked other sessions", "user_id", userID, "count", n)
	return n, nil
}

// Validate checks token for use by request guards. Expired sessions found
// along the way are revoked.
func (m *SessionManager) Validate(ctx context.Context, token string) (ValidationResult, error) {
	session, err := m.Get(ctx, token)
	if errors.Is(err, ErrSessionNotFound) {
		result, err := m.explainInvalid(ctx, token)
		if err == nil {
			sessionValidations.WithLabelValues(result.Reason).Inc()
		}
		return result, err
	} else if err != nil {
		return ValidationResult{}, err
	}

	result := ValidationResult{UserID: session.UserID}
	user, err := m.users.FindByID(ctx, session.UserID)
	switch {
	case errors.Is(err, ErrUserNotFound):
		result.Reason = ReasonUserNotFound
	case err != nil:
		return ValidationResult{}, fmt.Errorf("failed to load session owner: %w", err)
	case !user.IsActive:
		result.Reason = ReasonUserInactive
	default:
		result.Valid = true
		result.User = user
		if err := m.UpdateActivity(ctx, token); err != nil {
			m.log.Warn("Failed to update session activity", "error", err)
		}
	}

	outcome := result.Reason
	if result.Valid {
		outcome = "valid"
	}
	sessionValidations.WithLabelValues(outcome).Inc()
	return result, nil
}

// ListActive returns the user's active sessions, most recently active first.
func (m *SessionManager) ListActive(ctx context.Context, userID string) ([]models.Session, error) {
	var sessions []models.Session
	err := m.db.WithContext(ctx).
		Where("user_id = ? AND is_active = ? AND expires_at > ?", userID, true, m.clock()).
		Order("last_activity DESC").
		Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get user sessions: %w", err)
	}
	return sessions, nil
}

// SweepExpired marks active sessions past their expiry inactive, evicts them
// from the cache and returns the count. It is driven by an external trigger.
func (m *SessionManager) SweepExpired(ctx context.Context) (int64, error) {
	defer newTimingLogger(m.log, time.Now(), "executed sql query", "method", "sweep sessions")()

	now := m.clock()
	n, err := m.revokeWhere(ctx, func(db *gorm.DB) *gorm.DB {
		return db.Where("is_active = ? AND expires_at < ?", true, now)
	})
	if err != nil {
		return 0, logAndWrapErr(m.log, "failed to sweep expired sessions", err)
	}
	sessionsSwept.Add(float64(n))
	return n, nil
}

// CountActive counts active, unexpired sessions across all users.
func (m *SessionManager) CountActive(ctx context.Context) (int64, error) {
	var count int64
	err := m.db.WithContext(ctx).
		Model(&models.Session{}).
		Where("is_active = ? AND expires_at > ?", true, m.clock()).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count active sessions: %w", err)
	}
	return count, nil
}

func (m *SessionManager) explainInvalid(ctx context.Context, token string) (ValidationResult, error) {
	if token == "" {
		return ValidationResult{Reason: ReasonNotFound}, nil
	}
	session, err := m.findByToken(ctx, token)
	if errors.Is(err, ErrSessionNotFound) {
		return ValidationResult{Reason: ReasonNotFound}, nil
	} else if err != nil {
		return ValidationResult{}, err
	}

	result := ValidationResult{UserID: session.UserID}
	switch {
	case !session.IsActive:
		result.Reason = ReasonInactive
	case !session.ExpiresAt.After(m.clock()):
		if err := m.Revoke(ctx, token); err != nil {
			return ValidationResult{}, err
		}
		result.Reason = ReasonExpired
	default:
		// Created after the lookup above missed it.
		result.Reason = ReasonNotFound
	}
	return result, nil
}

// revokeBatchSize bounds the tokens bound into one UPDATE; drivers cap the
// number of statement parameters.
var revokeBatchSize = 500

// revokeWhere flips every active session matched by scope to inactive in
// batches and evicts the affected tokens. scope must only match active rows.
func (m *SessionManager) revokeWhere(ctx context.Context, scope func(*gorm.DB) *gorm.DB) (int64, error) {
	var total int64
	for {
		var tokens []string
		err := m.db.WithContext(ctx).
			Model(&models.Session{}).
			Scopes(scope).
			Order("session_token").
			Limit(revokeBatchSize).
			Pluck("session_token", &tokens).Error
		if err != nil {
			return total, err
		}
		if len(tokens) == 0 {
			return total, nil
		}

		result := m.db.WithContext(ctx).
			Model(&models.Session{}).
			Where("session_token IN ? AND is_active = ?", tokens, true).
			Update("is_active", false)
		if result.Error != nil {
			return total, result.Error
		}
		total += result.RowsAffected

		for _, token := range tokens {
			m.cacheEvict(ctx, token)
		}
		if len(tokens) < revokeBatchSize || result.RowsAffected == 0 {
			return total, nil
		}
	}
}

func (m *SessionManager) findByToken(ctx context.Context, token string) (*models.Session, error) {
	var session models.Session
	err := m.db.WithContext(ctx).Where("session_token = ?", token).Take(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSessionNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return &session, nil
}

func (m *SessionManager) clock() time.Time {
	return m.now().UTC()
}

// cachedSession carries the token, which models.Session hides from JSON.
type cachedSession struct {
	models.Session
	Token string `json:"token"`
}

func sessionCacheKey(token string) string {
	return sessionCacheKeyPrefix + token
}

func (m *SessionManager) cacheLoad(ctx context.Context, token string) (*models.Session, bool) {
	raw, err := m.cache.Get(ctx, sessionCacheKey(token))
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			sessionCacheRequests.WithLabelValues(cacheError).Inc()
			m.log.Warn("Session cache read failed", "backend", m.cache.Name(), "error", err)
		}
		return nil, false
	}

	var entry cachedSession
	if err := json.Unmarshal(raw, &entry); err != nil || entry.Token != token {
		m.log.Warn("Discarding malformed session cache entry", "backend", m.cache.Name(), "error", err)
		m.cacheEvict(ctx, token)
		return nil, false
	}
	entry.Session.SessionToken = entry.Token
	return &entry.Session, true
}

func (m *SessionManager) cacheStore(ctx context.Context, session *models.Session) {
	ttl := session.ExpiresAt.Sub(m.clock())
	if ttl <= 0 || !session.IsActive {
		m.cacheEvict(ctx, session.SessionToken)
		return
	}

	raw, err := json.Marshal(cachedSession{Session: *session, Token: session.SessionToken})
	if err != nil {
		m.log.Warn("Failed to encode session for cache", "error", err)
		return
	}
	if err := m.cache.Set(ctx, sessionCacheKey(session.SessionToken), raw, ttl); err != nil {
		sessionCacheRequests.WithLabelValues(cacheError).Inc()
		m.log.Warn("Session cache write failed", "backend", m.cache.Name(), "error", err)
	}
}

func (m *SessionManager) cacheEvict(ctx context.Context, token string) {
	if err := m.cache.Delete(ctx, sessionCacheKey(token)); err != nil {
		sessionCacheRequests.WithLabelValues(cacheError).Inc()
		m.log.Warn("Session cache delete failed", "backend", m.cache.Name(), "error", err)
	}
}
