package database

import (
	"fmt"
	"log"
	"strings"

	"gorm.io/gorm"

	"apuracao-service/internal/models"
)

// RunMigrations runs all pending database migrations
func RunMigrations(db *gorm.DB) error {
	log.Println("Starting database migrations...")

	// Step 1: Run GORM AutoMigrate for model schema (one by one for better error handling)
	log.Println("  → Running schema migrations...")
	modelsToMigrate := []struct {
		name  string
		model interface{}
	}{
		{"Apuracao", &models.Apuracao{}},
		{"GrupoAnexo", &models.GrupoAnexo{}},
		{"DAS", &models.DAS{}},
		{"ItemDetalhamentoDAS", &models.ItemDetalhamentoDAS{}},
	}
	for _, m := range modelsToMigrate {
		log.Printf("    → Migrating %s...", m.name)
		if err := db.AutoMigrate(m.model); err != nil {
			return fmt.Errorf("failed to auto-migrate %s: %w", m.name, err)
		}
		log.Printf("    ✓ %s migrated", m.name)
	}
	log.Println("  ✓ Schema migrations complete")

	// Step 2: Ensure unique indexes exist
	// GORM AutoMigrate cannot express partial indexes, so they are created explicitly
	log.Println("  → Ensuring unique indexes exist...")
	if err := ensureUniqueIndexes(db); err != nil {
		return fmt.Errorf("failed to create unique indexes: %w", err)
	}
	log.Println("  ✓ Unique indexes verified")

	log.Println("✓ All database migrations complete")
	return nil
}

// ensureUniqueIndexes creates the uniqueness guarantees the service relies on.
// idx_apuracao_ativa enforces at most one non-cancelled apuração per
// (tenant, client, period); the service pre-check is advisory, this index is
// the authority under concurrency.
func ensureUniqueIndexes(db *gorm.DB) error {
	indexes := []struct {
		name  string
		sql   string
		table string
	}{
		{
			name:  "idx_apuracao_ativa",
			sql:   `CREATE UNIQUE INDEX IF NOT EXISTS idx_apuracao_ativa ON apuracoes (tenant_id, client_id, periodo) WHERE status <> 'cancelada'`,
			table: "apuracoes",
		},
		{
			name:  "idx_das_numero_doc",
			sql:   `CREATE UNIQUE INDEX IF NOT EXISTS idx_das_numero_doc ON das_documentos (numero_doc)`,
			table: "das_documentos",
		},
	}

	for _, idx := range indexes {
		var exists bool
		checkSQL := fmt.Sprintf("SELECT EXISTS (SELECT FROM information_schema.tables WHERE table_name = '%s')", idx.table)
		if err := db.Raw(checkSQL).Scan(&exists).Error; err != nil {
			log.Printf("    (warning: could not check table %s: %v)", idx.table, err)
			continue
		}
		if !exists {
			log.Printf("    (skipping index %s: table %s does not exist)", idx.name, idx.table)
			continue
		}

		if err := db.Exec(idx.sql).Error; err != nil {
			if strings.Contains(err.Error(), "already exists") {
				log.Printf("    (index %s already exists, skipping)", idx.name)
				continue
			}
			return err
		}
		log.Printf("    ✓ Created/verified index %s", idx.name)
	}

	return nil
}
