// seed-operator creates or updates a privileged operator user in the ERP
// database so the sync console login works on a fresh install. The ERP
// connection settings must already be stored in the app database (via the
// settings API or EnsureDefaults plus PUT /api/settings).
//
// Usage (from backend directory):
//   DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... \
//   SEED_OPERATOR_EMAIL=ops@example.com SEED_OPERATOR_PASSWORD=... go run ./cmd/seed-operator
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"bitbucket.org/ideiasys/ecomsync_backend/config"
	"bitbucket.org/ideiasys/ecomsync_backend/erpdb"
	"bitbucket.org/ideiasys/ecomsync_backend/settings"
	"bitbucket.org/ideiasys/ecomsync_backend/utils"
	"github.com/joho/godotenv"
	"gorm.io/gorm"
)

const (
	defaultEmail = "operator@ideiasys.com.br"
	defaultName  = "Sync Operator"
)

func main() {
	_ = godotenv.Load()
	ctx := context.Background()
	logger := config.GetLogger()

	email := utils.StringFromEnv("SEED_OPERATOR_EMAIL", defaultEmail)
	name := utils.StringFromEnv("SEED_OPERATOR_NAME", defaultName)
	password := os.Getenv("SEED_OPERATOR_PASSWORD")
	if password == "" {
		fmt.Fprintln(os.Stderr, "SEED_OPERATOR_PASSWORD is required")
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	if config.GetDB() == nil {
		fmt.Fprintln(os.Stderr, "app database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}

	settingsService := settings.NewService(config.GetDB(), logger)
	provider := erpdb.NewProvider(settingsService, logger)
	defer provider.Disconnect()

	db, err := provider.DB(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to reach the ERP database: %v\n", err)
		fmt.Fprintln(os.Stderr, "check the ERP_DB_* settings stored via the settings API.")
		os.Exit(1)
	}

	hashed, err := utils.HashPassword(password)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to hash password: %v\n", err)
		os.Exit(1)
	}
	hashedStr := string(hashed)
	now := time.Now()

	var existing erpdb.User
	err = db.WithContext(ctx).
		Where("email = ? AND flagexcluido = 0", email).
		First(&existing).Error
	if err != nil {
		if err != gorm.ErrRecordNotFound {
			fmt.Fprintf(os.Stderr, "failed to lookup user: %v\n", err)
			os.Exit(1)
		}
		u := erpdb.User{
			Name:       name,
			Email:      &email,
			Password:   &hashedStr,
			Privileged: 1,
			CreatedAt:  &now,
		}
		if err := db.WithContext(ctx).Create(&u).Error; err != nil {
			fmt.Fprintf(os.Stderr, "failed to create user: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("created privileged user %q (usuario_id=%d)\n", email, u.Id)
		return
	}

	updates := map[string]any{
		"senha":            hashedStr,
		"flagprivilegiado": 1,
		"dataalterado":     now,
	}
	if err := db.WithContext(ctx).Model(&erpdb.User{}).
		Where("usuario_id = ?", existing.Id).
		Updates(updates).Error; err != nil {
		fmt.Fprintf(os.Stderr, "failed to update user: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("updated user %q (usuario_id=%d): password reset, privilege granted\n", email, existing.Id)
}
