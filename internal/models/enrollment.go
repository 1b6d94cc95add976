package models

const (
	SourceTransaction  = "transaction"
	SourceSubscription = "subscription"
)

// EnrollmentGrant tracks one course-access grant (or revocation) driven by a
// committed transaction or subscription change. (UserID, CourseID, SourceID)
// dedupes redispatch: a granted row is terminal success.
type EnrollmentGrant struct {
	BaseModel
	UserID     string      `gorm:"type:uuid;not null;index" json:"user_id"`
	CourseID   string      `gorm:"not null;index" json:"course_id"`
	SourceType string      `gorm:"type:varchar(16);not null" json:"source_type"` // "transaction" | "subscription"
	SourceID   string      `gorm:"type:uuid;not null;index" json:"source_id"`
	Revoke     bool        `gorm:"default:false" json:"revoke"`
	Status     GrantStatus `gorm:"type:varchar(16);default:'pending';index" json:"status"`
	Attempts   int         `gorm:"default:0" json:"attempts"`
	LastError  string      `json:"last_error,omitempty"`
}
