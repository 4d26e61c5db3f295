package models

import "time"

// Setting is one key/value row of persisted operator configuration.
// Secret-classed keys are masked on read by the settings service.
type Setting struct {
	ID        uint      `gorm:"primary_key" json:"id"`
	Key       string    `gorm:"column:setting_key;uniqueIndex;size:100;not null" json:"key"`
	Value     string    `gorm:"type:text;not null" json:"value"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
