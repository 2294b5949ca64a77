package hits

import "time"

// DefaultPurpose labels hits recorded without an explicit purpose.
const DefaultPurpose = "General"

// Profile aggregates usage per canonical identity. Created on the first
// observed hit and incremented afterwards; never deleted.
type Profile struct {
	Steam64ID string `gorm:"column:steam64id;primaryKey;size:32;not null" json:"steam64id"`
	Name      string `gorm:"column:name;size:190" json:"name"`
	Hits      int64  `gorm:"column:hits;not null" json:"hits"`
}

// TableName exposes the table backing profiles.
func (Profile) TableName() string {
	return "profiles"
}

// Hit is one recorded access. Append-only.
type Hit struct {
	ID         int64     `gorm:"column:id;primaryKey;autoIncrement"`
	Steam64ID  string    `gorm:"column:steam64id;size:32;not null;index"`
	RecordedAt time.Time `gorm:"column:recorded_at;not null"`
	Purpose    string    `gorm:"column:purpose;size:190"`
	Address    string    `gorm:"column:address;size:64"`
}

// TableName exposes the table backing hits.
func (Hit) TableName() string {
	return "hits"
}
