package repository

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

var ErrTokensNotFound = errors.New("tokens not found")

// TokenRepository stores per-user OAuth token blobs, encrypted at rest
// with AES-GCM when an encryption key is configured. Without a key, blobs
// are stored as plain JSON and a warning is logged at startup.
type TokenRepository struct {
	db     *pgxpool.Pool
	aead   cipher.AEAD
	logger *zap.Logger
}

func NewTokenRepository(db *pgxpool.Pool, encryptionKey string, logger *zap.Logger) (*TokenRepository, error) {
	repo := &TokenRepository{db: db, logger: logger}

	if encryptionKey == "" {
		logger.Warn("DATA_ENCRYPTION_KEY is not set, OAuth tokens will be stored unencrypted")
		return repo, nil
	}

	// Any key string works: it is stretched to 32 bytes.
	key := sha256.Sum256([]byte(encryptionKey))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("failed to init token cipher: %w", err)
	}
	repo.aead, err = cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to init token cipher: %w", err)
	}
	return repo, nil
}

func (r *TokenRepository) SaveTokens(ctx context.Context, email string, token *oauth2.Token) error {
	raw, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to encode token: %w", err)
	}

	blob, err := r.seal(raw)
	if err != nil {
		return err
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO gmail_tokens (email, token_blob, encrypted, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (email) DO UPDATE
		SET token_blob = EXCLUDED.token_blob, encrypted = EXCLUDED.encrypted, updated_at = NOW()
	`, strings.ToLower(email), blob, r.aead != nil)
	if err != nil {
		return fmt.Errorf("failed to save tokens: %w", err)
	}
	return nil
}

func (r *TokenRepository) GetTokens(ctx context.Context, email string) (*oauth2.Token, error) {
	var blob []byte
	var encrypted bool
	err := r.db.QueryRow(ctx,
		`SELECT token_blob, encrypted FROM gmail_tokens WHERE email = $1`,
		strings.ToLower(email),
	).Scan(&blob, &encrypted)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTokensNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tokens: %w", err)
	}

	raw := blob
	if encrypted {
		raw, err = r.open(blob)
		if err != nil {
			return nil, err
		}
	}

	var token oauth2.Token
	if err := json.Unmarshal(raw, &token); err != nil {
		return nil, fmt.Errorf("failed to decode token: %w", err)
	}
	return &token, nil
}

func (r *TokenRepository) HasCredentials(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM gmail_tokens WHERE email = $1)`,
		strings.ToLower(email),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check credentials: %w", err)
	}
	return exists, nil
}

func (r *TokenRepository) DeleteTokens(ctx context.Context, email string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM gmail_tokens WHERE email = $1`, strings.ToLower(email))
	if err != nil {
		return fmt.Errorf("failed to delete tokens: %w", err)
	}
	return nil
}

func (r *TokenRepository) seal(plaintext []byte) ([]byte, error) {
	if r.aead == nil {
		return plaintext, nil
	}
	nonce := make([]byte, r.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return r.aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (r *TokenRepository) open(blob []byte) ([]byte, error) {
	if r.aead == nil {
		return nil, errors.New("stored tokens are encrypted but no encryption key is configured")
	}
	if len(blob) < r.aead.NonceSize() {
		return nil, errors.New("token blob too short")
	}
	nonce, ciphertext := blob[:r.aead.NonceSize()], blob[r.aead.NonceSize():]
	plaintext, err := r.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt tokens: %w", err)
	}
	return plaintext, nil
}
