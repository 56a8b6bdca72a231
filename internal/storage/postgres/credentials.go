package postgres

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/jmoiron/sqlx"
)

// CredentialStore is an opaque key-value vault for the account secrets.
// Values are AES-256-GCM encrypted at rest; overwriting a key atomically
// replaces the old value, it is never appended.
type CredentialStore struct {
	db   *sqlx.DB
	aead cipher.AEAD
}

// NewCredentialStore derives the store's AES-256 key from secret via SHA-256.
func NewCredentialStore(db *sqlx.DB, secret string) (*CredentialStore, error) {
	key := sha256.Sum256([]byte(secret))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create AEAD: %w", err)
	}
	return &CredentialStore{db: db, aead: aead}, nil
}

// Set stores or replaces the value for key. Participates in a surrounding
// transaction when one is carried by ctx.
func (s *CredentialStore) Set(ctx context.Context, key, value string) error {
	encrypted, err := s.encrypt(value)
	if err != nil {
		return fmt.Errorf("encrypt credential %q: %w", key, err)
	}

	query := `
		INSERT INTO credentials (key, value, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET
			value = EXCLUDED.value,
			updated_at = EXCLUDED.updated_at`

	_, err = GetExecutor(ctx, s.db).ExecContext(ctx, query, key, encrypted)
	if err != nil {
		return fmt.Errorf("set credential %q: %w", key, err)
	}
	return nil
}

// Get retrieves the value for key. Missing keys are not an error; the result
// is simply empty.
func (s *CredentialStore) Get(ctx context.Context, key string) (string, error) {
	var encrypted string
	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &encrypted,
		"SELECT value FROM credentials WHERE key = $1", key)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get credential %q: %w", key, err)
	}

	value, err := s.decrypt(encrypted)
	if err != nil {
		return "", fmt.Errorf("decrypt credential %q: %w", key, err)
	}
	return value, nil
}

func (s *CredentialStore) encrypt(plaintext string) (string, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := s.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (s *CredentialStore) decrypt(encoded string) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", err
	}
	if len(sealed) < s.aead.NonceSize() {
		return "", fmt.Errorf("ciphertext shorter than nonce")
	}
	nonce, data := sealed[:s.aead.NonceSize()], sealed[s.aead.NonceSize():]
	plain, err := s.aead.Open(nil, nonce, data, nil)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}
