package indexer

import (
	"time"

	"github.com/google/uuid"
)

// Block is one committed block as seen by the indexer.
type Block struct {
	Height       uint64 `gorm:"primaryKey;autoIncrement:false"`
	Hash         string `gorm:"uniqueIndex;size:66"`
	Timestamp    uint64
	Author       string `gorm:"index"`
	StateDigest  string `gorm:"size:66"`
	ReceiptsRoot string `gorm:"size:66"`
	Calls        int
	FailedCalls  int
	Session      *uint64
	Era          *uint64
	Expired      int
	CreatedAt    time.Time
}

// EventRecord is one emitted event. Attributes hold the JSON encoded
// attribute map so the table stays portable between sqlite and postgres.
type EventRecord struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Height     uint64    `gorm:"index:idx_event_position,priority:1"`
	Position   int       `gorm:"index:idx_event_position,priority:2"`
	Type       string    `gorm:"index;size:96"`
	Attributes string
	CreatedAt  time.Time
}

// Receipt is the outcome of one call.
type Receipt struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Height    uint64    `gorm:"index"`
	Position  int
	Call      string `gorm:"index;size:96"`
	Origin    string `gorm:"index"`
	Fee       string
	Error     string
	CreatedAt time.Time
}
