package audit

// Entry is one line in the hash-chained JSONL detection journal.
// All fields are plain values so json.Marshal output is deterministic
// for reproducible hashing.
type Entry struct {
	Timestamp  string `json:"ts"`
	ID         string `json:"id"`
	Kind       string `json:"kind"` // "alert", "toast" or "detection"
	Severity   string `json:"severity,omitempty"`
	Category   string `json:"category,omitempty"`
	Text       string `json:"text"`
	ConfigHash string `json:"config_hash,omitempty"`
	PrevHash   string `json:"prev_hash"`
}
