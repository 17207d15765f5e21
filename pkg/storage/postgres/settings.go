package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"sigscan/internal/detector"
	"sigscan/internal/subscription"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LoadOrCreateSettings returns the stored configuration for user, creating a
// row with the defaults on first sight. The result is always normalized.
func (p *Client) LoadOrCreateSettings(ctx context.Context, user subscription.UserID) (detector.UserConfig, error) {
	var record UserSettingsRecord
	err := p.DB.WithContext(ctx).First(&record, "user_id = ?", int64(user)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		cfg := detector.DefaultUserConfig()
		if err := p.SaveSettings(ctx, user, cfg); err != nil {
			return detector.UserConfig{}, err
		}
		return cfg, nil
	}
	if err != nil {
		return detector.UserConfig{}, fmt.Errorf("load settings: %w", err)
	}

	var cfg detector.UserConfig
	if err := json.Unmarshal(record.Settings, &cfg); err != nil {
		return detector.UserConfig{}, fmt.Errorf("decode settings: %w", err)
	}
	return cfg.Normalized(), nil
}

// AllUserIDs lists every user with stored settings, for restart recovery.
func (p *Client) AllUserIDs(ctx context.Context) ([]subscription.UserID, error) {
	var ids []int64
	err := p.DB.WithContext(ctx).
		Model(&UserSettingsRecord{}).
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}

	out := make([]subscription.UserID, len(ids))
	for i, id := range ids {
		out[i] = subscription.UserID(id)
	}
	return out, nil
}

// SaveSettings upserts one user's configuration blob.
func (p *Client) SaveSettings(ctx context.Context, user subscription.UserID, cfg detector.UserConfig) error {
	blob, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}

	return p.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		UpdateAll: true,
	}).Create(&UserSettingsRecord{
		UserID:   int64(user),
		Settings: blob,
	}).Error
}
