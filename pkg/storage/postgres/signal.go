package postgres

import (
	"context"
	"encoding/json"
	"time"

	"sigscan/internal/market"
	"sigscan/internal/subscription"

	"gorm.io/gorm/clause"
)

// InsertSignal logs one delivered signal. A conflict on the UUID means the
// signal was already logged and is silently skipped.
func (p *Client) InsertSignal(ctx context.Context, user subscription.UserID, sig *market.Signal) error {
	record, err := toSignalRecord(user, sig)
	if err != nil {
		return err
	}

	return p.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoNothing: true,
	}).Create(record).Error
}

// RecentSignals returns the newest signals for one user, newest first.
func (p *Client) RecentSignals(ctx context.Context, user subscription.UserID, limit int) ([]SignalRecord, error) {
	var records []SignalRecord
	err := p.DB.WithContext(ctx).
		Where("user_id = ?", int64(user)).
		Order("signaled_at DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

// DeleteOldSignals drops log rows older than before.
func (p *Client) DeleteOldSignals(ctx context.Context, before time.Time) error {
	return p.DB.WithContext(ctx).
		Where("signaled_at < ?", before).
		Delete(&SignalRecord{}).Error
}

func toSignalRecord(user subscription.UserID, sig *market.Signal) (*SignalRecord, error) {
	detail, err := json.Marshal(sig.Detail)
	if err != nil {
		return nil, err
	}
	return &SignalRecord{
		ID:         sig.ID,
		UserID:     int64(user),
		Exchange:   string(sig.Exchange),
		Symbol:     sig.Symbol,
		Timeframe:  string(sig.Detail.Timeframe),
		Kind:       string(sig.Kind),
		Side:       string(sig.Side),
		Price:      sig.Price,
		Detail:     detail,
		SignaledAt: sig.Time,
	}, nil
}
