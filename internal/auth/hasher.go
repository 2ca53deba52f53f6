package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

var ErrEmptyPassword = errors.New("password is empty")

// HasherConfig holds the argon2id cost parameters. The encoded hash embeds
// them, so changing the configuration never breaks verification of old
// hashes; it only makes NeedsRehash report true for them.
type HasherConfig struct {
	Time        uint32
	MemoryKiB   uint32
	Parallelism uint8
	KeyLength   uint32
	SaltLength  int
}

func DefaultHasherConfig() HasherConfig {
	return HasherConfig{
		Time:        3,
		MemoryKiB:   64 * 1024,
		Parallelism: 4,
		KeyLength:   32,
		SaltLength:  16,
	}
}

// Hasher hashes and verifies passwords with argon2id.
type Hasher struct {
	cfg HasherConfig
}

func NewHasher(cfg HasherConfig) *Hasher {
	defaults := DefaultHasherConfig()
	if cfg.Time == 0 {
		cfg.Time = defaults.Time
	}
	if cfg.MemoryKiB == 0 {
		cfg.MemoryKiB = defaults.MemoryKiB
	}
	if cfg.Parallelism == 0 {
		cfg.Parallelism = defaults.Parallelism
	}
	if cfg.KeyLength == 0 {
		cfg.KeyLength = defaults.KeyLength
	}
	if cfg.SaltLength == 0 {
		cfg.SaltLength = defaults.SaltLength
	}
	return &Hasher{cfg: cfg}
}

func (h *Hasher) Hash(password string) (string, error) {
	if strings.TrimSpace(password) == "" {
		return "", ErrEmptyPassword
	}

	salt := make([]byte, h.cfg.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	key := argon2.IDKey([]byte(password), salt, h.cfg.Time, h.cfg.MemoryKiB, h.cfg.Parallelism, h.cfg.KeyLength)

	encoded := fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.cfg.MemoryKiB, h.cfg.Time, h.cfg.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	)
	return encoded, nil
}

// Verify reports whether password matches the encoded hash. A malformed
// hash or a mismatch is a normal false outcome, never an error.
func (h *Hasher) Verify(password, encoded string) bool {
	if password == "" {
		return false
	}

	params, salt, expected, err := parseHash(encoded)
	if err != nil {
		return false
	}

	key := argon2.IDKey([]byte(password), salt, params.Time, params.MemoryKiB, params.Parallelism, uint32(len(expected)))

	return subtle.ConstantTimeCompare(key, expected) == 1
}

// NeedsRehash reports whether the hash was produced with parameters that
// differ from the current configuration. Malformed hashes need a rehash.
func (h *Hasher) NeedsRehash(encoded string) bool {
	params, salt, key, err := parseHash(encoded)
	if err != nil {
		return true
	}

	return params.Time != h.cfg.Time ||
		params.MemoryKiB != h.cfg.MemoryKiB ||
		params.Parallelism != h.cfg.Parallelism ||
		uint32(len(key)) != h.cfg.KeyLength ||
		len(salt) != h.cfg.SaltLength
}

func parseHash(encoded string) (HasherConfig, []byte, []byte, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return HasherConfig{}, nil, nil, errors.New("invalid argon2id hash format")
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return HasherConfig{}, nil, nil, fmt.Errorf("parse argon2id version: %w", err)
	}
	if version != argon2.Version {
		return HasherConfig{}, nil, nil, errors.New("unsupported argon2id version")
	}

	var params HasherConfig
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &params.MemoryKiB, &params.Time, &params.Parallelism); err != nil {
		return HasherConfig{}, nil, nil, fmt.Errorf("parse argon2id params: %w", err)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return HasherConfig{}, nil, nil, fmt.Errorf("decode salt: %w", err)
	}

	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return HasherConfig{}, nil, nil, fmt.Errorf("decode hash: %w", err)
	}

	return params, salt, key, nil
}
