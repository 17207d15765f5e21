package postgres

import "time"

// SignalRecord is one delivered signal persisted for later analysis. The ID
// is the signal UUID assigned at detection time, so redelivery attempts
// collapse into a single row.
type SignalRecord struct {
	ID string `gorm:"type:uuid;primaryKey"`

	UserID    int64  `gorm:"not null;index:idx_signal_user"`
	Exchange  string `gorm:"type:varchar(16);not null;index:idx_signal_market"`
	Symbol    string `gorm:"type:text;not null;index:idx_signal_market"`
	Timeframe string `gorm:"type:varchar(8);not null"`
	Kind      string `gorm:"type:varchar(16);not null"`
	Side      string `gorm:"type:varchar(8);not null"`

	Price float64 `gorm:"type:numeric;not null"`

	// Detail is the detector measurement set, JSON-encoded.
	Detail []byte `gorm:"type:jsonb"`

	SignaledAt time.Time `gorm:"not null;index:idx_signal_time"`
	RecordedAt time.Time `gorm:"autoCreateTime"`
}

// TableName overrides the default table name for GORM.
func (SignalRecord) TableName() string {
	return "signal_record"
}

// UserSettingsRecord stores one user's scanner configuration as an opaque
// JSON blob. The schema never chases config field changes this way.
type UserSettingsRecord struct {
	UserID   int64  `gorm:"primaryKey"`
	Settings []byte `gorm:"type:jsonb;not null"`

	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// TableName overrides the default table name for GORM.
func (UserSettingsRecord) TableName() string {
	return "user_settings"
}
