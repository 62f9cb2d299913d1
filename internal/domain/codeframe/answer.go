package codeframe

import (
	"time"

	"github.com/google/uuid"
)

const CodeStatusConfirmed = "confirmed"

// Answer is the local view of one source survey answer. Code fields are
// written only by apply.
type Answer struct {
	ID                uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	CategoryID        uuid.UUID  `gorm:"type:uuid;not null;index" json:"category_id"`
	Text              string     `gorm:"column:text;not null" json:"text"`
	Code              string     `gorm:"column:code" json:"code,omitempty"`
	CodeStatus        string     `gorm:"column:code_status;index" json:"code_status,omitempty"`
	CodedGenerationID *uuid.UUID `gorm:"type:uuid;column:coded_generation_id" json:"coded_generation_id,omitempty"`
	CodedNodeID       *uuid.UUID `gorm:"type:uuid;column:coded_node_id" json:"coded_node_id,omitempty"`
	CodedAt           *time.Time `gorm:"column:coded_at" json:"coded_at,omitempty"`
	CreatedAt         time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"not null" json:"updated_at"`
}

func (Answer) TableName() string { return "answer" }

func (a *Answer) Confirmed() bool { return a.CodeStatus == CodeStatusConfirmed }
