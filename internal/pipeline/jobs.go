package pipeline

// Queue names.
const (
	QueueIngest  = "ingest"
	QueueProcess = "process"
	QueueNotify  = "notify"
)

// IngestJob asks for one fetch of a source.
type IngestJob struct {
	SourceID string `json:"source_id"`
}

// ProcessJob turns a stored raw item into an Item.
type ProcessJob struct {
	RawItemID string `json:"raw_item_id"`
	SourceID  string `json:"source_id"`
}

// NotifyJob delivers an item to the owner of a matched rule.
type NotifyJob struct {
	UserID string `json:"user_id"`
	ItemID string `json:"item_id"`
	RuleID string `json:"rule_id,omitempty"`
}
