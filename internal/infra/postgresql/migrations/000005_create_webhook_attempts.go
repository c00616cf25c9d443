package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/taskflow/internal/repository"
	"gorm.io/gorm"
)

func createWebhookAttemptsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000005_create_webhook_attempts",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.WebhookAttemptModel{}); err != nil {
				return err
			}
			return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_webhook_attempts_subscription_created ON webhook_attempts (subscription_id, created_at DESC)`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.WebhookAttemptModel{})
		},
	}
}
