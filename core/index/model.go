package index

import "time"

// Entry is one indexed key plus its size and modification metadata.
// The index never holds entry content.
type Entry struct {
	// Key is the entry's logical key, unique across the index.
	Key string `gorm:"primaryKey;size:512" json:"key"`
	// Size is the content size in bytes.
	Size int64 `json:"size"`
	// ModifiedAt is the backing store's last modification time for the key.
	ModifiedAt time.Time `json:"modified_at"`
	// IndexedAt records when the index last confirmed the entry's presence.
	IndexedAt time.Time `json:"indexed_at"`
}

// TableName maps Entry to a stable table name.
func (Entry) TableName() string {
	return "entries"
}

// metaRow holds durable scalars such as the last-refresh timestamp.
type metaRow struct {
	Name  string `gorm:"primaryKey;size:64"`
	Value string
}

func (metaRow) TableName() string {
	return "index_meta"
}

const metaLastRefresh = "last_refresh"
