package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// Platform identifies a messaging surface a page is connected to.
type Platform string

const (
	PlatformMessenger Platform = "messenger"
	PlatformInstagram Platform = "instagram"
)

// StageUpdateMode controls whether auto-classification overwrites existing
// stage assignments during a sync.
type StageUpdateMode string

const (
	StageUpdateSkipExisting   StageUpdateMode = "skip_existing"
	StageUpdateUpdateExisting StageUpdateMode = "update_existing"
)

// StringSlice is a custom type for storing string arrays in database
type StringSlice []string

// Scan implements the sql.Scanner interface
func (s *StringSlice) Scan(value interface{}) error {
	if value == nil {
		*s = []string{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		if str, isString := value.(string); isString {
			bytes = []byte(str)
		} else {
			return nil
		}
	}
	return json.Unmarshal(bytes, s)
}

// Value implements the driver.Valuer interface
func (s StringSlice) Value() (driver.Value, error) {
	if len(s) == 0 {
		return "[]", nil
	}
	return json.Marshal(s)
}

// Page represents a connected source page on the messaging platform.
// Contacts and sync jobs are always scoped to one page.
type Page struct {
	ID              uint            `gorm:"primaryKey" json:"id"`
	PageID          string          `gorm:"uniqueIndex;not null;type:varchar(64)" json:"pageId"` // remote page id
	Name            string          `gorm:"not null" json:"name"`
	AccessToken     string          `gorm:"not null" json:"-"`
	Platforms       StringSlice     `gorm:"type:json" json:"platforms"` // surfaces to sync, e.g. ["messenger","instagram"]
	AutoPipelineID  *uint           `gorm:"index" json:"autoPipelineId,omitempty"`
	AutoPipeline    *Pipeline       `gorm:"foreignKey:AutoPipelineID;constraint:OnUpdate:CASCADE,OnDelete:SET NULL;" json:"autoPipeline,omitempty"`
	StageUpdateMode StageUpdateMode `gorm:"type:varchar(32);default:'skip_existing'" json:"stageUpdateMode"`
	SyncEnabled     bool            `gorm:"default:false" json:"syncEnabled"`
	SyncInterval    int             `gorm:"default:3600" json:"syncInterval"` // seconds between scheduled syncs
	LastSyncAt      *time.Time      `json:"lastSyncAt,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// Contact represents a remote participant known to a page.
// The (participant_id, page_id) pair is the identity key: the same person
// talking to two pages is two contact rows. The sync pipeline never deletes
// contacts; removal is an explicit user action.
type Contact struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	ParticipantID   string     `gorm:"not null;uniqueIndex:idx_participant_page;type:varchar(64)" json:"participantId"`
	PageID          uint       `gorm:"not null;uniqueIndex:idx_participant_page" json:"pageId"`
	Page            Page       `gorm:"foreignKey:PageID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	Name            string     `json:"name"`
	HasMessenger    bool       `gorm:"default:false" json:"hasMessenger"`
	HasInstagram    bool       `gorm:"default:false" json:"hasInstagram"`
	LastInteraction *time.Time `gorm:"index" json:"lastInteraction,omitempty"`
	AIContext       string     `gorm:"type:text" json:"aiContext,omitempty"`
	LeadScore       int        `gorm:"default:0" json:"leadScore"`
	PipelineID      *uint      `gorm:"index" json:"pipelineId,omitempty"`
	StageID         *uint      `gorm:"index" json:"stageId,omitempty"`
	StageEnteredAt  *time.Time `json:"stageEnteredAt,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// Pipeline is a sales pipeline contacts can be auto-classified into.
type Pipeline struct {
	ID        uint            `gorm:"primaryKey" json:"id"`
	Name      string          `gorm:"not null" json:"name"`
	IsDefault bool            `gorm:"default:false" json:"isDefault"`
	Stages    []PipelineStage `gorm:"foreignKey:PipelineID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"stages,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// PipelineStage belongs to a Pipeline. LeadScoreMin/Max define the score
// range used for auto-classification; both zero means the range is still an
// unconfigured placeholder.
type PipelineStage struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	PipelineID   uint      `gorm:"not null;index" json:"pipelineId"`
	Name         string    `gorm:"not null" json:"name"`
	Type         string    `gorm:"type:varchar(32)" json:"type"` // e.g. "lead", "qualified", "customer"
	Order        int       `gorm:"column:stage_order;not null" json:"order"`
	LeadScoreMin int       `gorm:"default:0" json:"leadScoreMin"`
	LeadScoreMax int       `gorm:"default:0" json:"leadScoreMax"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// ContactSyncState persists the timestamp of the newest ingested message per
// (participant, page, platform). It is the durability anchor for differential
// sync: read before any fetch, advanced only after a successful batch write.
type ContactSyncState struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	ParticipantID string     `gorm:"not null;uniqueIndex:idx_sync_state_key;type:varchar(64)" json:"participantId"`
	PageID        uint       `gorm:"not null;uniqueIndex:idx_sync_state_key" json:"pageId"`
	Platform      Platform   `gorm:"not null;uniqueIndex:idx_sync_state_key;type:varchar(16)" json:"platform"`
	LastMessageAt *time.Time `json:"lastMessageAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}
