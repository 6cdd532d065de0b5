package domain

import "time"

// CheckpointRecord is the database row backing a column-level checkpoint.
// At most one record exists per dataset; saving overwrites it.
type CheckpointRecord struct {
	DatasetRef       string        `gorm:"type:text;primaryKey" json:"dataset_ref"`
	RunID            string        `gorm:"type:text;not null;index" json:"run_id"`
	IDColumn         string        `gorm:"type:text" json:"id_column"`
	SelectedColumns  StringArray   `gorm:"type:text" json:"selected_columns"`
	CompletedColumns StringArray   `gorm:"type:text" json:"completed_columns"`
	Results          ColumnResults `gorm:"type:text" json:"results"`
	FailedRows       FailedRowList `gorm:"type:text" json:"failed_rows"`
	SavedAt          time.Time     `json:"saved_at"`
}

// TableName returns the database table name for CheckpointRecord.
func (CheckpointRecord) TableName() string {
	return "checkpoints"
}
