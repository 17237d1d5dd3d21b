// Package postgres implements the store adapter over PostgreSQL via GORM:
// every per-conversation table is keyed by conversation_id (the
// shares_by_user reverse index is keyed by grantee), prepared statements are
// left to the pgx driver's per-connection statement cache (GORM's own
// PrepareStmt mode is not enabled), and grouped writes are scoped to one
// partition via db.Transaction.
package postgres

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/conversation-tree/internal/config"
	registrycache "github.com/chirino/conversation-tree/internal/registry/cache"
	registrymigrate "github.com/chirino/conversation-tree/internal/registry/migrate"
	registrystore "github.com/chirino/conversation-tree/internal/registry/store"
	"github.com/chirino/conversation-tree/internal/security"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func init() {
	registrystore.Register(registrystore.Plugin{
		Name:   "postgres",
		Loader: load,
	})
	registrymigrate.Register(registrymigrate.Plugin{Order: 100, Migrator: &postgresMigrator{}})
}

func load(ctx context.Context) (registrystore.Store, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil {
		return nil, fmt.Errorf("postgres store: no config in context")
	}

	db, err := openDB(cfg.DBURL, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: %w", err)
	}

	readDB := db
	if cfg.ReadReplicaDBURL != "" {
		readDB, err = openDB(cfg.ReadReplicaDBURL, cfg)
		if err != nil {
			return nil, fmt.Errorf("postgres store: read replica: %w", err)
		}
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("postgres store: failed to get underlying db: %w", err)
	}
	if security.DBPoolMaxConnections != nil {
		security.DBPoolMaxConnections.Set(float64(cfg.DBMaxOpenConns))
	}
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if security.DBPoolOpenConnections != nil {
					security.DBPoolOpenConnections.Set(float64(sqlDB.Stats().OpenConnections))
				}
			}
		}
	}()

	store := &Store{
		db:      db,
		readDB:  readDB,
		cfg:     cfg,
		lineage: registrycache.LineageCacheFromContext(ctx),
	}
	if cfg.EncryptionKey != "" && !cfg.EncryptionDBDisabled {
		keys, err := config.DecodeEncryptionKeysCSV(cfg.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("postgres store: invalid encryption key: %w", err)
		}
		for _, key := range keys {
			gcm, err := newGCM(key)
			if err != nil {
				return nil, fmt.Errorf("postgres store: %w", err)
			}
			store.gcms = append(store.gcms, gcm)
		}
	}
	return store, nil
}

func openDB(dsn string, cfg *config.Config) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying db: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.DBMaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.DBMaxIdleConns)
	return db, nil
}

type postgresMigrator struct{}

func (m *postgresMigrator) Name() string { return "postgres-schema" }

func (m *postgresMigrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg != nil && !cfg.DatastoreMigrateAtStart {
		return nil
	}
	log.Info("Running migration", "name", m.Name())
	db, err := gorm.Open(postgres.Open(cfg.DBURL), &gorm.Config{})
	if err != nil {
		return fmt.Errorf("migration: failed to connect: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	if _, err := sqlDB.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migration: failed to execute schema: %w", err)
	}
	log.Info("Postgres schema migration complete")
	return nil
}

// Store implements registrystore.Store using GORM + PostgreSQL.
type Store struct {
	db      *gorm.DB
	readDB  *gorm.DB // consulted for LOCAL_ONE reads; equals db when no replica is configured
	cfg     *config.Config
	gcms    []cipher.AEAD
	lineage registrycache.LineageCache
}

var _ registrystore.Store = (*Store)(nil)

func (s *Store) maxDepth() int {
	if s.cfg != nil && s.cfg.MaxLineageDepth > 0 {
		return s.cfg.MaxLineageDepth
	}
	return 1000
}

func (s *Store) maxBatch() int {
	if s.cfg != nil && s.cfg.MaxBatchSize > 0 {
		return s.cfg.MaxBatchSize
	}
	return 100
}

func (s *Store) encryptContent(plaintext string) (string, error) {
	if len(s.gcms) == 0 || plaintext == "" {
		return plaintext, nil
	}
	gcm := s.gcms[0]
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return encodeCiphertext(ciphertext), nil
}

func (s *Store) decryptContent(stored string) (string, error) {
	if len(s.gcms) == 0 || stored == "" {
		return stored, nil
	}
	ciphertext, ok := decodeCiphertext(stored)
	if !ok {
		// Data predates encryption being enabled; tolerate as plaintext.
		return stored, nil
	}
	var lastErr error
	for _, gcm := range s.gcms {
		nonceSize := gcm.NonceSize()
		if len(ciphertext) < nonceSize {
			lastErr = fmt.Errorf("ciphertext too short")
			continue
		}
		nonce, payload := ciphertext[:nonceSize], ciphertext[nonceSize:]
		plaintext, err := gcm.Open(nil, nonce, payload, nil)
		if err == nil {
			return string(plaintext), nil
		}
		lastErr = err
	}
	return "", fmt.Errorf("failed to decrypt content: %w", lastErr)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	return cipher.NewGCM(block)
}
