// Package main provides a one-off provisioning command for a portal deployment.
//
// It brings the schema up to date, makes sure the avatar bucket exists and
// optionally bootstraps the first admin account. Running it twice is safe.
//
// Usage:
//
//	go run ./cmd/provision --dry-run
//	go run ./cmd/provision --admin-email ops@example.com --admin-password 'changeme123'
//
// Environment variables are the same as the API server (DB_*, STORAGE_*).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"client-portal/internal/config"
	"client-portal/internal/models"
	"client-portal/internal/repository"
	"client-portal/internal/storage"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ProvisionStats tracks what the run changed
type ProvisionStats struct {
	StartTime     time.Time
	EndTime       time.Time
	SchemaApplied bool
	BucketCreated bool
	AdminCreated  bool
	AdminPromoted bool
}

// Print renders the run summary
func (s *ProvisionStats) Print() {
	fmt.Println("\n========================================")
	fmt.Println("Provisioning Summary")
	fmt.Println("========================================")
	fmt.Printf("Duration:        %v\n", s.EndTime.Sub(s.StartTime))
	fmt.Printf("Schema applied:  %t\n", s.SchemaApplied)
	fmt.Printf("Bucket created:  %t\n", s.BucketCreated)
	fmt.Printf("Admin created:   %t\n", s.AdminCreated)
	fmt.Printf("Admin promoted:  %t\n", s.AdminPromoted)
	fmt.Println("========================================")
}

func main() {
	dryRun := flag.Bool("dry-run", false, "Report what would change without applying it")
	adminEmail := flag.String("admin-email", "", "Bootstrap an admin account with this e-mail")
	adminPassword := flag.String("admin-password", "", "Password for the bootstrapped admin (optional; magic links work without it)")
	verbose := flag.Bool("verbose", false, "Enable verbose logging")
	flag.Parse()

	_ = godotenv.Load()
	cfg := config.New()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if *verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	if *dryRun {
		log.Info("=== DRY RUN MODE - No changes will be made ===")
	}
	if *adminPassword != "" && len(*adminPassword) < 8 {
		log.Fatal("Admin password must be at least 8 characters")
	}

	db, err := initDatabase(cfg.Database, *verbose)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to database")
	}

	ctx := context.Background()
	stats := &ProvisionStats{StartTime: time.Now()}

	if err := run(ctx, db, cfg, *dryRun, *adminEmail, *adminPassword, stats, log); err != nil {
		log.WithError(err).Error("Provisioning failed")
		os.Exit(1)
	}

	stats.EndTime = time.Now()
	stats.Print()
}

func initDatabase(cfg config.DatabaseConfig, verbose bool) (*gorm.DB, error) {
	logLevel := logger.Silent
	if verbose {
		logLevel = logger.Info
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

func run(ctx context.Context, db *gorm.DB, cfg *config.Config, dryRun bool, adminEmail, adminPassword string, stats *ProvisionStats, log *logrus.Logger) error {
	if dryRun {
		log.Info("[DRY RUN] Would apply portal schema")
	} else {
		if err := repository.Migrate(db); err != nil {
			return err
		}
		stats.SchemaApplied = true
		log.Info("Schema is up to date")
	}

	store, err := storage.NewProvider(ctx, cfg.Storage, log)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	bucket := cfg.Storage.AvatarBucket
	if dryRun {
		exists, err := store.BucketExists(ctx, bucket)
		if err != nil {
			return fmt.Errorf("failed to check bucket %s: %w", bucket, err)
		}
		log.WithFields(logrus.Fields{"bucket": bucket, "exists": exists, "provider": store.Name()}).Info("[DRY RUN] Avatar bucket")
	} else {
		created, err := storage.CreateBucketIfMissing(ctx, store, bucket)
		if err != nil {
			return err
		}
		stats.BucketCreated = created
		log.WithFields(logrus.Fields{"bucket": bucket, "created": created}).Info("Avatar bucket is ready")
	}

	if adminEmail == "" {
		return nil
	}
	return bootstrapAdmin(ctx, repository.NewUserRepository(db), adminEmail, adminPassword, dryRun, stats, log)
}

// bootstrapAdmin creates or promotes the admin account for email
func bootstrapAdmin(ctx context.Context, users *repository.UserRepository, email, password string, dryRun bool, stats *ProvisionStats, log *logrus.Logger) error {
	email = models.NormalizeEmail(email)
	entry := log.WithField("email", email)

	identity, err := users.GetIdentityByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("failed to look up identity: %w", err)
	}

	if dryRun {
		entry.WithField("exists", identity != nil).Info("[DRY RUN] Would ensure admin account")
		return nil
	}

	now := time.Now()
	if identity == nil {
		identity = &models.Identity{ID: uuid.New(), Email: email, EmailConfirmedAt: &now}
		if password != "" {
			hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
			if err != nil {
				return fmt.Errorf("failed to hash password: %w", err)
			}
			identity.PasswordHash = string(hash)
		}
		if err := users.CreateIdentity(ctx, identity); err != nil {
			return err
		}
		stats.AdminCreated = true
		entry.Info("Created admin identity")
	}

	user, err := users.CreateUserIfMissing(ctx, &models.User{
		ID:       identity.ID,
		FullName: "Portal Admin",
		Role:     models.RoleAdmin,
		Timezone: "UTC",
	})
	if err != nil {
		return err
	}
	if user != nil && user.Role != models.RoleAdmin {
		if _, err := users.UpdateUser(ctx, user.ID, map[string]interface{}{"role": models.RoleAdmin}); err != nil {
			return err
		}
		stats.AdminPromoted = true
		entry.WithField("previous_role", user.Role).Warn("Promoted existing user to admin")
	}
	return nil
}
