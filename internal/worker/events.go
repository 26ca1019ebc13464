package worker

// ContentUpdatePayload arrives on the content.update topic whenever the
// platform creates or edits content that should be searchable.
type ContentUpdatePayload struct {
	ContentType   string `json:"content_type"`
	ContentID     string `json:"content_id"`
	Text          string `json:"text"`
	Priority      int    `json:"priority"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// EmbedResultPayload is published on the embed.result topic when a queue
// item reaches a terminal state.
type EmbedResultPayload struct {
	ContentType   string `json:"content_type"`
	ContentID     string `json:"content_id"`
	Status        string `json:"status"`
	ChunkCount    int    `json:"chunk_count"`
	Error         string `json:"error,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}
