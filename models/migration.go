package models

import (
	"log"

	"bitbucket.org/ideiasys/ecomsync_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Setting{},
		&SyncLock{},
		&PlatformToken{},
		&SyncMapping{},
		&SyncLog{},
		&SyncJob{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
