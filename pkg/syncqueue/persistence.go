package syncqueue

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/crypto/chacha20poly1305"
)

// snapshot is the on-disk envelope. The format is opaque to callers and
// carries no cross-version compatibility guarantees.
type snapshot struct {
	Version int     `json:"version"`
	SavedAt int64   `json:"saved_at"`
	Items   []*Item `json:"items"`
}

const snapshotVersion = 1

// Persister writes queue snapshots to a single file, optionally compressed
// with zstd and sealed with ChaCha20-Poly1305.
type Persister struct {
	path     string
	compress bool
	level    zstd.EncoderLevel
	aead     cipher.AEAD
	logger   *slog.Logger
}

// NewPersister builds a persister from the queue config. The config must
// already be validated.
func NewPersister(cfg Config, logger *slog.Logger) (*Persister, error) {
	if cfg.PersistencePath == "" {
		return nil, errors.New("syncqueue: persistence path is empty")
	}
	if logger == nil {
		logger = slog.Default()
	}

	p := &Persister{
		path:     cfg.PersistencePath,
		compress: cfg.EnableCompression,
		level:    encoderLevel(cfg.CompressionLevel),
		logger:   logger,
	}

	if cfg.EnableEncryption {
		aead, err := chacha20poly1305.New(cfg.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("syncqueue: building snapshot cipher: %w", err)
		}
		p.aead = aead
	}
	return p, nil
}

func encoderLevel(level int) zstd.EncoderLevel {
	switch {
	case level <= 3:
		return zstd.SpeedFastest
	case level <= 6:
		return zstd.SpeedDefault
	case level <= 9:
		return zstd.SpeedBetterCompression
	default:
		return zstd.SpeedBestCompression
	}
}

// Save writes the items atomically: temp file then rename.
func (p *Persister) Save(items []*Item) error {
	data, err := json.Marshal(snapshot{
		Version: snapshotVersion,
		SavedAt: time.Now().UnixMilli(),
		Items:   items,
	})
	if err != nil {
		return fmt.Errorf("syncqueue: encoding snapshot: %w", err)
	}

	if p.compress {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(p.level))
		if err != nil {
			return fmt.Errorf("syncqueue: creating compressor: %w", err)
		}
		data = enc.EncodeAll(data, nil)
		enc.Close()
	}

	if p.aead != nil {
		nonce := make([]byte, p.aead.NonceSize())
		if _, err := rand.Read(nonce); err != nil {
			return fmt.Errorf("syncqueue: generating nonce: %w", err)
		}
		data = append(nonce, p.aead.Seal(nil, nonce, data, nil)...)
	}

	if dir := filepath.Dir(p.path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("syncqueue: creating snapshot directory: %w", err)
		}
	}

	tmp := p.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("syncqueue: writing snapshot: %w", err)
	}
	if err := os.Rename(tmp, p.path); err != nil {
		return fmt.Errorf("syncqueue: finalizing snapshot: %w", err)
	}
	return nil
}

// Load reads the snapshot back, reversing encryption and compression and
// normalizing seconds-valued timestamps. A missing file yields no items.
func (p *Persister) Load() ([]*Item, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("syncqueue: reading snapshot: %w", err)
	}

	if p.aead != nil {
		ns := p.aead.NonceSize()
		if len(data) < ns {
			return nil, errors.New("syncqueue: snapshot too short for nonce")
		}
		data, err = p.aead.Open(nil, data[:ns], data[ns:], nil)
		if err != nil {
			return nil, fmt.Errorf("syncqueue: decrypting snapshot: %w", err)
		}
	}

	if p.compress {
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("syncqueue: creating decompressor: %w", err)
		}
		data, err = dec.DecodeAll(data, nil)
		dec.Close()
		if err != nil {
			return nil, fmt.Errorf("syncqueue: decompressing snapshot: %w", err)
		}
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("syncqueue: decoding snapshot: %w", err)
	}

	for _, item := range snap.Items {
		item.NextRetryAt = normalizeMillis(item.NextRetryAt)
		item.CreatedAt = normalizeMillis(item.CreatedAt)
	}
	p.logger.Info("loaded queue snapshot", "items", len(snap.Items), "version", snap.Version)
	return snap.Items, nil
}
