package lifecycle

import "gorm.io/gorm"

// Migrate creates the entity tables.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&Folder{}, &File{}, &FileVersion{})
}
