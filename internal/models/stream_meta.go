package models

// Health status values for a probed forwarding target. "unknown" is reserved
// for streams that have never been probed.
const (
	HealthStatusOK      = "ok"
	HealthStatusError   = "error"
	HealthStatusUnknown = "unknown"
)

// PendingHealthMsg is reported for streams that have never been probed.
const PendingHealthMsg = "Pending..."

// StreamMeta stores locally owned metadata for an NPM stream, keyed by the
// id assigned by NPM. The row doubles as the durable HealthRecord: the
// health_* columns hold the most recent probe observation and survive both
// annotation edits and remote stream deletion.
type StreamMeta struct {
	NPMID   uint   `gorm:"column:npm_id;primaryKey" json:"npm_id"`
	Memo    string `gorm:"column:memo" json:"memo"`
	DocURL  string `gorm:"column:doc_url" json:"doc_url"`
	TestURL string `gorm:"column:test_url" json:"test_url"`
	RepoURL string `gorm:"column:repo_url" json:"repo_url"`

	HealthStatus    string `gorm:"column:health_status" json:"health_status"`
	HealthMsg       string `gorm:"column:health_msg" json:"health_msg"`
	HealthLastCheck *int64 `gorm:"column:health_last_check" json:"health_last_check"` // epoch seconds
}

// TableName keeps the table name used by earlier installations so
// AutoMigrate only appends the newer columns.
func (StreamMeta) TableName() string {
	return "streams"
}
