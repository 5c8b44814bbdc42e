package kb

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open opens (creating if needed) the SQLite knowledge base at path and
// migrates its tables.
func Open(path string, log *zap.Logger) (*gorm.DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// One connection keeps SQLite writers from contending with each other.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(
		&DocumentRecord{},
		&ChunkRecord{},
		&VectorRecord{},
		&MetaRecord{},
		&UnansweredRecord{},
	); err != nil {
		return nil, fmt.Errorf("automigrate: %w", err)
	}
	if err := backfillQuestionKeys(db); err != nil {
		return nil, err
	}
	log.Debug("knowledge base opened", zap.String("path", path))
	return db, nil
}

// backfillQuestionKeys fills the match key of log entries written before the
// column existed.
func backfillQuestionKeys(db *gorm.DB) error {
	var recs []UnansweredRecord
	if err := db.Where("question_key = '' OR question_key IS NULL").Find(&recs).Error; err != nil {
		return fmt.Errorf("scan unanswered questions: %w", err)
	}
	for _, r := range recs {
		err := db.Model(&UnansweredRecord{}).Where("id = ?", r.ID).
			Update("question_key", normalizeQuestion(r.Question)).Error
		if err != nil {
			return fmt.Errorf("backfill unanswered question %d: %w", r.ID, err)
		}
	}
	return nil
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
