package services

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"cubis-academy/models"
)

// SessionStats is a point-in-time rollup of the sessions table.
type SessionStats struct {
	Active        int64            `json:"active"`
	Revoked       int64            `json:"revoked"`
	AwaitingSweep int64            `json:"awaiting_sweep"`
	ActiveUsers   int64            `json:"active_users"`
	ByBrowser     map[string]int64 `json:"by_browser"`
	ByOS          map[string]int64 `json:"by_os"`
	GeneratedAt   time.Time        `json:"generated_at"`
}

// Analytics computes read-only session rollups for the admin dashboard.
type Analytics struct {
	db  *gorm.DB
	now func() time.Time
}

func NewAnalytics(db *gorm.DB) *Analytics {
	return &Analytics{db: db, now: time.Now}
}

type labelCount struct {
	Label string
	Count int64
}

// SessionStats runs the rollups concurrently and fails if any of them fails.
func (a *Analytics) SessionStats(ctx context.Context) (*SessionStats, error) {
	now := a.now().UTC()
	stats := &SessionStats{GeneratedAt: now}
	g, gctx := errgroup.WithContext(ctx)

	sessions := func() *gorm.DB {
		return a.db.WithContext(gctx).Model(&models.Session{})
	}
	active := func() *gorm.DB {
		return sessions().Where("is_active = ? AND expires_at > ?", true, now)
	}

	g.Go(func() error {
		return active().Count(&stats.Active).Error
	})
	g.Go(func() error {
		return sessions().Where("is_active = ?", false).Count(&stats.Revoked).Error
	})
	g.Go(func() error {
		return sessions().Where("is_active = ? AND expires_at <= ?", true, now).Count(&stats.AwaitingSweep).Error
	})
	g.Go(func() error {
		return active().Distinct("user_id").Count(&stats.ActiveUsers).Error
	})
	g.Go(func() (err error) {
		stats.ByBrowser, err = countBy(active(), "browser")
		return err
	})
	g.Go(func() (err error) {
		stats.ByOS, err = countBy(active(), "os")
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to compute session stats: %w", err)
	}
	return stats, nil
}

// countBy groups scope by column. Sessions without a value are counted under
// "unknown".
func countBy(scope *gorm.DB, column string) (map[string]int64, error) {
	var rows []labelCount
	err := scope.
		Select(column + " AS label, COUNT(*) AS count").
		Group(column).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		label := row.Label
		if label == "" {
			label = "unknown"
		}
		counts[label] += row.Count
	}
	return counts, nil
}
