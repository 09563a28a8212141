package leaderboard

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"promotion_engine/internal/domain"
	"promotion_engine/internal/scoring"
	"promotion_engine/internal/utils"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Paging limits
const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// ScoreType selects the score window a leaderboard is ranked by
type ScoreType string

// Score windows
const (
	ScoreAll        ScoreType = "all"
	ScoreMonthly    ScoreType = "monthly"
	ScoreWeekly     ScoreType = "weekly"
	ScorePast28Days ScoreType = "past28days"
)

// ErrInvalidScoreType rejects unknown windows
var ErrInvalidScoreType = errors.New("invalid score type")

// ParseScoreType converts a query value, defaulting to all-time
func ParseScoreType(s string) (ScoreType, error) {
	switch t := ScoreType(s); t {
	case "":
		return ScoreAll, nil
	case ScoreAll, ScoreMonthly, ScoreWeekly, ScorePast28Days:
		return t, nil
	}
	return "", domain.Invalid("score_type", ErrInvalidScoreType)
}

// column returns the score column and, for calendar windows, the period column that must match now
func (t ScoreType) column() (score, periodCol string, period scoring.Period) {
	switch t {
	case ScoreMonthly:
		return "monthly_score", "month_key", scoring.Monthly
	case ScoreWeekly:
		return "weekly_score", "week_key", scoring.Weekly
	case ScorePast28Days:
		return "past28_days_score", "", 0
	default:
		return "total_score", "", 0
	}
}

// Query describes one leaderboard read
type Query struct {
	EntityType domain.EntityType
	ScoreType  ScoreType
	Region     string
	Limit      int
	Offset     int
}

// Entry is one ranked entity
type Entry struct {
	Rank       int               `json:"rank"`
	EntityType domain.EntityType `json:"entity_type"`
	EntityID   string            `json:"entity_id"`
	Score      int64             `json:"score"`
	Name       string            `json:"name"`
	ImageURL   string            `json:"image_url"`
	Slug       string            `json:"slug"`
	Region     string            `json:"region"`
}

// Page is a slice of a leaderboard
type Page struct {
	EntityType domain.EntityType `json:"entity_type"`
	ScoreType  ScoreType         `json:"score_type"`
	Region     string            `json:"region,omitempty"`
	Entries    []Entry           `json:"entries"`
	Total      int64             `json:"total"`
	Limit      int               `json:"limit"`
	Offset     int               `json:"offset"`
	AsOf       time.Time         `json:"as_of"`
}

// PromoterEntry is one ranked user
type PromoterEntry struct {
	Rank             int         `json:"rank"`
	UserID           uint        `json:"user_id"`
	DisplayName      string      `json:"display_name"`
	TotalPointsSpent int64       `json:"total_points_spent"`
	Tier             domain.Tier `json:"tier"`
	StreakDays       int         `json:"streak_days"`
}

// PromoterPage is a slice of the top promoters ranking
type PromoterPage struct {
	Entries []PromoterEntry `json:"entries"`
	Total   int64           `json:"total"`
	Limit   int             `json:"limit"`
	Offset  int             `json:"offset"`
	AsOf    time.Time       `json:"as_of"`
}

// Service answers ranked reads against the aggregate tables. It never locks.
type Service struct {
	db       *gorm.DB
	rdb      *redis.Client
	cacheTTL time.Duration
	now      func() time.Time
}

// NewService constructs the query service. rdb may be nil to disable caching.
func NewService(db *gorm.DB, rdb *redis.Client, cacheTTL time.Duration, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{db: db, rdb: rdb, cacheTTL: cacheTTL, now: func() time.Time { return now().UTC() }}
}

// normalizePaging clamps limit and offset into the accepted range
func normalizePaging(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// GetLeaderboard ranks entities by the chosen window, score descending then entity id ascending
func (s *Service) GetLeaderboard(ctx context.Context, q Query) (*Page, error) {
	if !q.EntityType.Valid() {
		return nil, domain.Invalid("entity_type", domain.ErrInvalidEntityType)
	}
	if q.ScoreType == "" {
		q.ScoreType = ScoreAll
	}
	if _, err := ParseScoreType(string(q.ScoreType)); err != nil {
		return nil, err
	}
	q.Limit, q.Offset = normalizePaging(q.Limit, q.Offset)

	now := s.now()
	scoreCol, periodCol, period := q.ScoreType.column()
	periodKey := ""
	if periodCol != "" {
		periodKey = period.Key(now)
	}

	cacheKey := "leaderboard:" + string(q.EntityType) + ":" + string(q.ScoreType) + ":" + periodKey +
		":region=" + q.Region + ":limit=" + strconv.Itoa(q.Limit) + ":offset=" + strconv.Itoa(q.Offset)
	var cached Page
	if found, err := utils.GetCache(ctx, s.rdb, cacheKey, &cached); err == nil && found {
		return &cached, nil
	}

	base := s.db.WithContext(ctx).Model(&domain.PromotionScore{}).
		Where("entity_type = ?", q.EntityType).
		Where(scoreCol + " > 0")
	if periodCol != "" {
		base = base.Where(periodCol+" = ?", periodKey)
	}
	if q.Region != "" {
		base = base.Where("region = ?", q.Region)
	}

	page := &Page{EntityType: q.EntityType, ScoreType: q.ScoreType, Region: q.Region, Limit: q.Limit, Offset: q.Offset, AsOf: now}
	if err := base.Session(&gorm.Session{}).Count(&page.Total).Error; err != nil {
		return nil, fmt.Errorf("count leaderboard: %w", err)
	}
	var rows []domain.PromotionScore
	if err := base.Session(&gorm.Session{}).
		Order(scoreCol + " desc").
		Order("entity_id asc").
		Limit(q.Limit).
		Offset(q.Offset).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load leaderboard: %w", err)
	}
	page.Entries = make([]Entry, len(rows))
	for i, r := range rows {
		page.Entries[i] = Entry{
			Rank:       q.Offset + i + 1,
			EntityType: r.EntityType,
			EntityID:   r.EntityID,
			Score:      scoreOf(q.ScoreType, &r),
			Name:       r.Name,
			ImageURL:   r.ImageURL,
			Slug:       r.Slug,
			Region:     r.Region,
		}
	}

	if err := utils.SetCache(ctx, s.rdb, cacheKey, page, s.cacheTTL); err != nil {
		logrus.WithFields(logrus.Fields{"key": cacheKey, "error": err.Error()}).Warn("Leaderboard cache write failed")
	}
	return page, nil
}

func scoreOf(t ScoreType, r *domain.PromotionScore) int64 {
	switch t {
	case ScoreMonthly:
		return r.MonthlyScore
	case ScoreWeekly:
		return r.WeeklyScore
	case ScorePast28Days:
		return r.Past28DaysScore
	default:
		return r.TotalScore
	}
}

// GetTopPromoters ranks users by subscription points spent, ties broken by user id
func (s *Service) GetTopPromoters(ctx context.Context, limit, offset int) (*PromoterPage, error) {
	limit, offset = normalizePaging(limit, offset)
	now := s.now()

	cacheKey := "leaderboard:promoters:limit=" + strconv.Itoa(limit) + ":offset=" + strconv.Itoa(offset)
	var cached PromoterPage
	if found, err := utils.GetCache(ctx, s.rdb, cacheKey, &cached); err == nil && found {
		return &cached, nil
	}

	page := &PromoterPage{Limit: limit, Offset: offset, AsOf: now}
	db := s.db.WithContext(ctx)
	if err := db.Model(&domain.TopPromoter{}).Where("total_points_spent > 0").Count(&page.Total).Error; err != nil {
		return nil, fmt.Errorf("count promoters: %w", err)
	}
	var rows []struct {
		UserID           uint
		DisplayName      string
		Username         string
		TotalPointsSpent int64
		Tier             domain.Tier
		StreakDays       int
	}
	if err := db.Table("top_promoters").
		Select("top_promoters.user_id, users.display_name, users.username, top_promoters.total_points_spent, top_promoters.tier, top_promoters.streak_days").
		Joins("LEFT JOIN users ON users.id = top_promoters.user_id").
		Where("top_promoters.total_points_spent > 0").
		Order("top_promoters.total_points_spent desc").
		Order("top_promoters.user_id asc").
		Limit(limit).
		Offset(offset).
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("load promoters: %w", err)
	}
	page.Entries = make([]PromoterEntry, len(rows))
	for i, r := range rows {
		name := r.DisplayName
		if name == "" {
			name = r.Username
		}
		page.Entries[i] = PromoterEntry{
			Rank:             offset + i + 1,
			UserID:           r.UserID,
			DisplayName:      name,
			TotalPointsSpent: r.TotalPointsSpent,
			Tier:             r.Tier,
			StreakDays:       r.StreakDays,
		}
	}
	if err := utils.SetCache(ctx, s.rdb, cacheKey, page, s.cacheTTL); err != nil {
		logrus.WithFields(logrus.Fields{"key": cacheKey, "error": err.Error()}).Warn("Promoter cache write failed")
	}
	return page, nil
}
