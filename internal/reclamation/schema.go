package reclamation

import (
	"fmt"

	"gorm.io/gorm"
)

// Migrate creates the three queue tables and their indexes. It is safe to run
// repeatedly.
func Migrate(db *gorm.DB) error {
	for _, kind := range Kinds() {
		table := kind.TableName()
		if err := db.Table(table).AutoMigrate(&Record{}); err != nil {
			return fmt.Errorf("reclamation: migrate %s: %w", table, err)
		}
		statements := []string{
			fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_pending ON %s (enqueued, processed, created_at_s) WHERE enqueued = false AND processed = false", table, table),
			fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_created ON %s (created_at_s)", table, table),
		}
		for _, statement := range statements {
			if err := db.Exec(statement).Error; err != nil {
				return fmt.Errorf("reclamation: index %s: %w", table, err)
			}
		}
	}
	return nil
}
