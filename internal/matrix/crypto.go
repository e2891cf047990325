// ABOUTME: End-to-end encryption for the Matrix transport via the mautrix crypto helper
// ABOUTME: Keeps a per-account crypto store and verifies the device with the recovery key

package matrix

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/crypto/cryptohelper"
)

// CryptoManager owns the crypto helper attached to a client.
type CryptoManager struct {
	helper *cryptohelper.CryptoHelper
	logger *slog.Logger
}

// SetupCrypto attaches an initialized crypto helper to client. A failed
// recovery key verification is logged; encryption still works without
// cross-signing.
func SetupCrypto(ctx context.Context, client *mautrix.Client, userID, recoveryKey, dataDir string, logger *slog.Logger) (*CryptoManager, error) {
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating crypto data directory: %w", err)
	}

	dbPath := cryptoStorePath(dataDir, userID)
	logger.Info("setting up encryption", "db", dbPath)

	helper, err := openCryptoHelper(ctx, client, storeKey(userID), dbPath, logger)
	if err != nil {
		return nil, err
	}
	client.Crypto = helper

	cm := &CryptoManager{helper: helper, logger: logger}
	if recoveryKey != "" {
		if err := cm.verify(ctx, recoveryKey); err != nil {
			logger.Warn("recovery key verification failed, continuing without cross-signing", "error", err)
		} else {
			logger.Info("device verified with recovery key")
		}
	}
	return cm, nil
}

func (cm *CryptoManager) verify(ctx context.Context, recoveryKey string) error {
	machine := cm.helper.Machine()
	if machine == nil {
		return errors.New("crypto machine not initialized")
	}
	return machine.VerifyWithRecoveryKey(ctx, recoveryKey)
}

// Close releases the crypto store.
func (cm *CryptoManager) Close() error {
	if cm.helper == nil {
		return nil
	}
	return cm.helper.Close()
}

// cryptoStorePath names the store after the account so several bots can share a directory.
func cryptoStorePath(dataDir, userID string) string {
	return filepath.Join(dataDir, fmt.Sprintf("assistant-crypto-%s.db", accountSlug(userID)))
}

// accountSlug turns "@bot:example.org" into "bot_example.org".
func accountSlug(userID string) string {
	var b strings.Builder
	for _, r := range strings.TrimPrefix(userID, "@") {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		case r == ':':
			b.WriteByte('_')
		}
	}
	return b.String()
}

func storeKey(userID string) []byte {
	sum := sha256.Sum256([]byte("meeting-assistant-crypto:" + userID))
	return sum[:]
}

// openCryptoHelper creates the helper, wiping a store that belongs to a
// different device first. A new login yields a new device id and the old
// keys cannot be reused.
func openCryptoHelper(ctx context.Context, client *mautrix.Client, key []byte, dbPath string, logger *slog.Logger) (*cryptohelper.CryptoHelper, error) {
	stale, err := storeBelongsToOtherDevice(dbPath, client.DeviceID.String())
	if err != nil {
		logger.Debug("could not read stored device id", "error", err)
	} else if stale {
		logger.Warn("crypto store belongs to another device, resetting it")
		if err := removeStore(dbPath); err != nil {
			return nil, err
		}
	}

	helper, err := cryptohelper.NewCryptoHelper(client, key, dbPath)
	if err != nil {
		return nil, fmt.Errorf("creating crypto helper: %w", err)
	}
	if err := helper.Init(ctx); err != nil {
		return nil, fmt.Errorf("initializing crypto helper: %w", err)
	}
	return helper, nil
}

func removeStore(dbPath string) error {
	if err := os.Remove(dbPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing crypto store: %w", err)
	}
	_ = os.Remove(dbPath + "-wal")
	_ = os.Remove(dbPath + "-shm")
	return nil
}

// storeBelongsToOtherDevice reports whether dbPath holds an account for a
// device other than deviceID. A missing store or empty account table is not stale.
func storeBelongsToOtherDevice(dbPath, deviceID string) (bool, error) {
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return false, nil
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return false, err
	}
	defer db.Close()

	var stored string
	err = db.QueryRow("SELECT device_id FROM crypto_account LIMIT 1").Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return stored != deviceID, nil
}
