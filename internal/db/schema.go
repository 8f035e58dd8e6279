package db

import "gorm.io/gorm"

func EnsureSchema(d *gorm.DB, schema string) error {
	return d.Exec(`CREATE SCHEMA IF NOT EXISTS "` + schema + `"`).Error
}

// EnsureUUIDExtension enables uuid_generate_v4() used as a column default.
func EnsureUUIDExtension(d *gorm.DB) error {
	return d.Exec(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp"`).Error
}
