package usage

import "gorm.io/gorm"

var ledgerIndexes = []string{
	"CREATE UNIQUE INDEX IF NOT EXISTS idx_usage_ledger_user_period_type ON usage_ledger (user_id, period, type) WHERE type IN ('daily', 'monthly', 'yearly')",
	"CREATE INDEX IF NOT EXISTS idx_usage_ledger_type_period ON usage_ledger (type, period)",
}

// Migrate creates the ledger and rollup marker tables.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&LedgerEntry{}, &RollupRun{}); err != nil {
		return err
	}
	for _, statement := range ledgerIndexes {
		if err := db.Exec(statement).Error; err != nil {
			return err
		}
	}
	return nil
}
