package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/taskflow/internal/repository"
	"gorm.io/gorm"
)

func createDeliveryJobsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000004_create_delivery_jobs",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.DeliveryJobModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE INDEX IF NOT EXISTS idx_delivery_jobs_due ON delivery_jobs (next_run_at) WHERE status IN ('QUEUED', 'RETRYING')`,
				`CREATE INDEX IF NOT EXISTS idx_delivery_jobs_notification_id ON delivery_jobs (notification_id)`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.DeliveryJobModel{})
		},
	}
}
