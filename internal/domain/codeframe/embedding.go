package codeframe

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// EmbeddingCacheEntry memoizes one answer's vector under one model. The row
// is stale once ContentHash no longer matches the answer's current text.
type EmbeddingCacheEntry struct {
	AnswerID    uuid.UUID      `gorm:"type:uuid;primaryKey" json:"answer_id"`
	ModelName   string         `gorm:"column:model_name;primaryKey" json:"model_name"`
	Vector      datatypes.JSON `gorm:"column:vector;not null" json:"vector"`
	ContentHash string         `gorm:"column:content_hash;not null" json:"content_hash"`
	CreatedAt   time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"not null" json:"updated_at"`
}

func (EmbeddingCacheEntry) TableName() string { return "embedding_cache_entry" }

func (e *EmbeddingCacheEntry) Floats() []float32 {
	var out []float32
	if len(e.Vector) > 0 {
		_ = json.Unmarshal(e.Vector, &out)
	}
	return out
}

func EncodeVector(v []float32) datatypes.JSON {
	b, _ := json.Marshal(v)
	return datatypes.JSON(b)
}

// ContentHash is the cache key for answer text. Surrounding whitespace and
// runs of inner whitespace do not change the hash.
func ContentHash(text string) string {
	normalized := strings.Join(strings.Fields(text), " ")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
