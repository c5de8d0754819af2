package models

import "gorm.io/gorm"

// Migrate creates or updates all scheduler tables.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&User{},
		&Campaign{},
		&Contact{},
		&SendingIdentity{},
		&WarmupLog{},
		&Outreach{},
		&Job{},
	)
}
