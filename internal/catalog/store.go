package catalog

import (
	"context"
	"errors"
	"time"

	"promotion_engine/internal/domain"
	"promotion_engine/internal/utils"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const cacheTTL = 5 * time.Minute

// Store is the local mirror of the catalog service, read through Redis when available
type Store struct {
	db  *gorm.DB
	rdb *redis.Client
}

// NewStore constructs a catalog store. rdb may be nil.
func NewStore(db *gorm.DB, rdb *redis.Client) *Store {
	return &Store{db: db, rdb: rdb}
}

func cacheKey(entityType domain.EntityType, entityID string) string {
	return "catalog:" + string(entityType) + ":" + entityID
}

// Lookup returns an active entity or domain.ErrUnknownEntity
func (s *Store) Lookup(ctx context.Context, entityType domain.EntityType, entityID string) (*domain.CatalogEntity, error) {
	key := cacheKey(entityType, entityID)
	var entity domain.CatalogEntity
	if found, err := utils.GetCache(ctx, s.rdb, key, &entity); err == nil && found {
		return &entity, nil
	}
	err := s.db.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ? AND active = ?", entityType, entityID, true).
		Take(&entity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrUnknownEntity
	}
	if err != nil {
		return nil, err
	}
	if err := utils.SetCache(ctx, s.rdb, key, entity, cacheTTL); err != nil {
		logrus.WithFields(logrus.Fields{"key": key, "error": err.Error()}).Warn("Catalog cache write failed")
	}
	return &entity, nil
}

// Upsert stores the entity as pushed by the catalog service
func (s *Store) Upsert(ctx context.Context, entity *domain.CatalogEntity) error {
	if !entity.EntityType.Valid() {
		return domain.Invalid("entity_type", domain.ErrInvalidEntityType)
	}
	if entity.EntityID == "" {
		return domain.Invalid("entity_id", domain.ErrUnknownEntity)
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "entity_type"}, {Name: "entity_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "image_url", "slug", "region", "active", "updated_at"}),
	}).Create(entity).Error
	if err != nil {
		return err
	}
	return utils.DeleteCache(ctx, s.rdb, cacheKey(entity.EntityType, entity.EntityID))
}
