package qr

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/skip2/go-qrcode"
)

var ErrInvalidToken = errors.New("invalid ticket token")

// Payload is what a scanner recovers from a ticket QR code.
type Payload struct {
	TicketID string    `json:"ticket_id"`
	EventID  int64     `json:"event_id"`
	UserID   string    `json:"user_id"`
	IssuedAt time.Time `json:"issued_at"`
}

type QRGenerator struct {
	aead cipher.AEAD
	size int
}

func NewQRGenerator(secret string, size int) (*QRGenerator, error) {
	hashed := sha256.Sum256([]byte(secret)) // normalize to 32 bytes
	block, err := aes.NewCipher(hashed[:])
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if size <= 0 {
		size = 256
	}
	return &QRGenerator{aead: aead, size: size}, nil
}

// Token seals the payload into a URL-safe string.
func (q *QRGenerator) Token(p Payload) (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, q.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := q.aead.Seal(nonce, nonce, data, nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// PNG renders the sealed payload as a QR code image.
func (q *QRGenerator) PNG(p Payload) ([]byte, error) {
	token, err := q.Token(p)
	if err != nil {
		return nil, fmt.Errorf("seal ticket payload: %w", err)
	}
	return qrcode.Encode(token, qrcode.Medium, q.size)
}

// Open reverses Token. Tampered or foreign tokens return ErrInvalidToken.
func (q *QRGenerator) Open(token string) (*Payload, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, ErrInvalidToken
	}
	n := q.aead.NonceSize()
	if len(raw) < n {
		return nil, ErrInvalidToken
	}
	data, err := q.aead.Open(nil, raw[:n], raw[n:], nil)
	if err != nil {
		return nil, ErrInvalidToken
	}

	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, ErrInvalidToken
	}
	return &p, nil
}
