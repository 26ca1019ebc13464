package queue

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"edusocial/apps/rag/internal/content"
)

type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

const DefaultMaxRetries = 3

var ErrValidation = errors.New("invalid queue item")

// Item is one unit of ingestion work: a piece of content waiting for
// chunking and embedding.
type Item struct {
	ID                  int64
	ContentType         content.Type
	ContentID           string
	Text                string
	ContentHash         string
	Priority            int
	Status              Status
	RetryCount          int
	MaxRetries          int
	ErrorMessage        string
	ScheduledAt         time.Time
	ProcessingStartedAt *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Counts is the queue status snapshot for the operational surface.
type Counts struct {
	Queued     int `json:"queued"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Total      int `json:"total"`
}

// Hash fingerprints normalized text so re-enqueuing identical content is
// a no-op.
func Hash(text string) string {
	normalized := strings.Join(strings.Fields(text), " ")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
