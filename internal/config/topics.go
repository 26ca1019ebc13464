package config

const (
	// TopicContentUpdate is the NSQ topic that platform services publish to
	// whenever content is created or edited (profile save, post publish, etc.).
	TopicContentUpdate = "content.update"

	// TopicEmbedResult is the NSQ topic for terminal ingestion outcomes
	// (completed/failed), consumed by dashboards and audit tooling.
	TopicEmbedResult = "embed.result"
)
