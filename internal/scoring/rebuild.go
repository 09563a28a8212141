package scoring

import (
	"context"
	"fmt"
	"time"

	"promotion_engine/internal/domain"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RebuildOptions controls a re-derivation from the ledger
type RebuildOptions struct {
	DryRun bool // Compare only, leave stored aggregates untouched
}

// Mismatch is one stored aggregate that disagrees with the ledger
type Mismatch struct {
	Kind   string `json:"kind"` // "score" or "promoter"
	Key    string `json:"key"`
	Stored int64  `json:"stored"`
	Ledger int64  `json:"ledger"`
}

// RebuildReport summarises a re-derivation
type RebuildReport struct {
	At         time.Time  `json:"at"`
	Entries    int        `json:"entries"`
	Scores     int        `json:"scores"`
	Promoters  int        `json:"promoters"`
	Mismatches []Mismatch `json:"mismatches"`
	DryRun     bool       `json:"dry_run"`
}

// Rebuild replays the ledger and compares, then replaces, every PromotionScore and TopPromoter row.
// Entries committed after the rebuild starts keep their outbox rows and are applied by the next drain.
func (a *Aggregator) Rebuild(ctx context.Context, opts RebuildOptions) (RebuildReport, error) {
	unlock := a.lockAll()
	defer unlock()

	now := a.now()
	report := RebuildReport{At: now, DryRun: opts.DryRun}
	err := a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var maxID uint64
		if err := tx.Model(&domain.PromotionLedgerEntry{}).Select("COALESCE(MAX(id), 0)").Scan(&maxID).Error; err != nil {
			return err
		}
		// entries still in the outbox are folded in here; the drain must not apply them twice
		var pending map[uint64]bool
		if !opts.DryRun {
			if err := claimForRebuild(tx, maxID); err != nil {
				return err
			}
		} else {
			var ids []uint64
			if err := tx.Model(&domain.PromotionOutbox{}).Pluck("ledger_entry_id", &ids).Error; err != nil {
				return err
			}
			pending = make(map[uint64]bool, len(ids))
			for _, id := range ids {
				pending[id] = true
			}
		}

		scores := map[entityKey]*domain.PromotionScore{}
		promoters := map[uint]*domain.TopPromoter{}
		var batch []domain.PromotionLedgerEntry
		res := tx.Where("id <= ?", maxID).FindInBatches(&batch, 500, func(_ *gorm.DB, _ int) error {
			for i := range batch {
				e := &batch[i]
				if pending[e.ID] {
					continue
				}
				report.Entries++
				k := entityKey{e.EntityType, e.EntityID}
				s, ok := scores[k]
				if !ok {
					s = &domain.PromotionScore{EntityType: e.EntityType, EntityID: e.EntityID, Region: e.Region}
					scores[k] = s
				}
				Apply(s, e.PointsSpent, e.CreatedAt, now)
				if e.Source == domain.SourceSubscription {
					p, ok := promoters[e.UserID]
					if !ok {
						p = &domain.TopPromoter{UserID: e.UserID}
						promoters[e.UserID] = p
					}
					p.TotalPointsSpent += e.PointsSpent
					if !e.CreatedAt.Before(p.LastSpentAt) {
						p.Tier, p.StreakDays, p.LastSpentAt = e.Tier, e.StreakDaysAtSpend, e.CreatedAt
					}
				}
			}
			return nil
		})
		if res.Error != nil {
			return res.Error
		}

		if err := compareStored(tx, scores, promoters, &report); err != nil {
			return err
		}
		report.Scores, report.Promoters = len(scores), len(promoters)
		if opts.DryRun {
			return nil
		}
		return replaceAggregates(tx, scores, promoters)
	})
	if err != nil {
		return report, fmt.Errorf("rebuild aggregates: %w", err)
	}
	logrus.WithFields(logrus.Fields{
		"entries":    report.Entries,
		"scores":     report.Scores,
		"promoters":  report.Promoters,
		"mismatches": len(report.Mismatches),
		"dry_run":    report.DryRun,
	}).Info("Aggregates rebuilt from ledger")
	return report, nil
}

func compareStored(tx *gorm.DB, scores map[entityKey]*domain.PromotionScore, promoters map[uint]*domain.TopPromoter, report *RebuildReport) error {
	var storedScores []domain.PromotionScore
	if err := tx.Find(&storedScores).Error; err != nil {
		return err
	}
	seen := map[entityKey]bool{}
	for _, s := range storedScores {
		k := entityKey{s.EntityType, s.EntityID}
		seen[k] = true
		var want int64
		if r, ok := scores[k]; ok {
			want = r.TotalScore
			r.Name, r.ImageURL, r.Slug = s.Name, s.ImageURL, s.Slug
			if s.Region != "" {
				r.Region = s.Region
			}
		}
		if s.TotalScore != want {
			report.Mismatches = append(report.Mismatches, Mismatch{Kind: "score", Key: string(k.EntityType) + "/" + k.EntityID, Stored: s.TotalScore, Ledger: want})
		}
	}
	for k, r := range scores {
		if !seen[k] {
			report.Mismatches = append(report.Mismatches, Mismatch{Kind: "score", Key: string(k.EntityType) + "/" + k.EntityID, Ledger: r.TotalScore})
		}
	}

	var storedPromoters []domain.TopPromoter
	if err := tx.Find(&storedPromoters).Error; err != nil {
		return err
	}
	seenUsers := map[uint]bool{}
	for _, p := range storedPromoters {
		seenUsers[p.UserID] = true
		var want int64
		if r, ok := promoters[p.UserID]; ok {
			want = r.TotalPointsSpent
		}
		if p.TotalPointsSpent != want {
			report.Mismatches = append(report.Mismatches, Mismatch{Kind: "promoter", Key: fmt.Sprint(p.UserID), Stored: p.TotalPointsSpent, Ledger: want})
		}
	}
	for id, r := range promoters {
		if !seenUsers[id] {
			report.Mismatches = append(report.Mismatches, Mismatch{Kind: "promoter", Key: fmt.Sprint(id), Ledger: r.TotalPointsSpent})
		}
	}
	return nil
}

// claimForRebuild locks every aggregate row and consumes the outbox rows the rebuild covers.
// Drains in other processes block on these locks until the rebuild commits, and later find the covered rows gone.
func claimForRebuild(tx *gorm.DB, maxID uint64) error {
	var scores []domain.PromotionScore
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Select("entity_type, entity_id").Find(&scores).Error; err != nil {
		return err
	}
	var promoters []domain.TopPromoter
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Select("user_id").Find(&promoters).Error; err != nil {
		return err
	}
	return tx.Where("ledger_entry_id <= ?", maxID).Delete(&domain.PromotionOutbox{}).Error
}

func replaceAggregates(tx *gorm.DB, scores map[entityKey]*domain.PromotionScore, promoters map[uint]*domain.TopPromoter) error {
	if err := tx.Where("1 = 1").Delete(&domain.PromotionScore{}).Error; err != nil {
		return err
	}
	if err := tx.Where("1 = 1").Delete(&domain.TopPromoter{}).Error; err != nil {
		return err
	}
	rows := make([]*domain.PromotionScore, 0, len(scores))
	for _, s := range scores {
		if err := refreshMetadata(tx, s); err != nil {
			return err
		}
		rows = append(rows, s)
	}
	if len(rows) > 0 {
		if err := tx.CreateInBatches(rows, 200).Error; err != nil {
			return err
		}
	}
	prows := make([]*domain.TopPromoter, 0, len(promoters))
	for _, p := range promoters {
		prows = append(prows, p)
	}
	if len(prows) > 0 {
		return tx.CreateInBatches(prows, 200).Error
	}
	return nil
}
