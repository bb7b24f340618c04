package storage

// DocumentSnapshot stores the durable binary state of one document. The
// payload is opaque to this service beyond its byte length and is kept
// base64-encoded in a text column.
type DocumentSnapshot struct {
	NoteID           int64  `gorm:"column:note_id;primaryKey"`
	SnapshotB64      string `gorm:"column:snapshot_b64;type:text;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (DocumentSnapshot) TableName() string {
	return "document_snapshots"
}
