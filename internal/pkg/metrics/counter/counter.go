package counter

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/MichaelBrandt/CourseGate/app/models"
	"github.com/MichaelBrandt/CourseGate/internal/pkg/cache"
	"github.com/MichaelBrandt/CourseGate/internal/pkg/database"
	"gorm.io/gorm"
)

const engineCountersKey = "engine:counters"

const (
	fieldWebhooksProcessed = "webhooks_processed"
	fieldWebhooksRejected  = "webhooks_rejected"
	fieldSweepChecked      = "sweep_checked"
	fieldSweepChanged      = "sweep_changed"
	fieldSweepErrors       = "sweep_errors"
)

// AddWebhookProcessed increments the pending processed-webhook counter in Redis
func AddWebhookProcessed() error {
	ctx := context.Background()
	return cache.GetClient().HIncrBy(ctx, engineCountersKey, fieldWebhooksProcessed, 1).Err()
}

// AddWebhookRejected increments the pending rejected-webhook counter in Redis
func AddWebhookRejected() error {
	ctx := context.Background()
	return cache.GetClient().HIncrBy(ctx, engineCountersKey, fieldWebhooksRejected, 1).Err()
}

// AddSweepResult records one sweep pass in the pending counters
func AddSweepResult(checked, changed, errors int) error {
	ctx := context.Background()
	rdb := cache.GetClient()
	if err := rdb.HIncrBy(ctx, engineCountersKey, fieldSweepChecked, int64(checked)).Err(); err != nil {
		return err
	}
	if err := rdb.HIncrBy(ctx, engineCountersKey, fieldSweepChanged, int64(changed)).Err(); err != nil {
		return err
	}
	return rdb.HIncrBy(ctx, engineCountersKey, fieldSweepErrors, int64(errors)).Err()
}

// FlushAll drains the pending counters and applies them to the stats row.
// Uses RENAME to a temporary key for atomic drain without losing in-flight
// increments.
func FlushAll() error {
	ctx := context.Background()
	rdb := cache.GetClient()

	tmpKey := fmt.Sprintf("%s:tmp:%d", engineCountersKey, time.Now().UnixNano())
	if err := rdb.Do(ctx, "RENAME", engineCountersKey, tmpKey).Err(); err != nil {
		// If key does not exist, nothing to flush
		if strings.Contains(strings.ToLower(err.Error()), "no such key") {
			return nil
		}
		return err
	}
	defer rdb.Del(ctx, tmpKey)

	fields, err := rdb.HGetAll(ctx, tmpKey).Result()
	if err != nil {
		return err
	}
	if len(fields) == 0 {
		return nil
	}

	db := database.GetDB()
	if db == nil {
		return fmt.Errorf("database connection is nil")
	}

	stats, err := getOrCreateStats(db)
	if err != nil {
		return err
	}

	updates := map[string]interface{}{}
	for field, raw := range fields {
		delta, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || delta == 0 {
			continue
		}
		switch field {
		case fieldWebhooksProcessed, fieldWebhooksRejected, fieldSweepChecked, fieldSweepChanged, fieldSweepErrors:
			updates[field] = gorm.Expr(field+" + ?", delta)
		}
	}
	if _, ok := updates[fieldSweepChecked]; ok {
		now := time.Now()
		updates["last_sweep_at"] = &now
	}
	if len(updates) == 0 {
		return nil
	}

	return db.Model(&models.EngineStats{}).Where("id = ?", stats.ID).Updates(updates).Error
}

func getOrCreateStats(db *gorm.DB) (*models.EngineStats, error) {
	var stats models.EngineStats
	err := db.First(&stats).Error
	if err == nil {
		return &stats, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, err
	}
	stats = models.EngineStats{}
	if err := db.Create(&stats).Error; err != nil {
		return nil, err
	}
	return &stats, nil
}
