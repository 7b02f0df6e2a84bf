package password

import (
	"crypto/rand"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

var (
	ErrInvalidHash         = errors.New("invalid hash format")
	ErrIncompatibleVersion = errors.New("incompatible argon2 version")
)

// Params defines the parameters for Argon2id hashing
type Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultParams returns secure default parameters for Argon2id
// Based on OWASP recommendations (2023)
func DefaultParams() *Params {
	return &Params{
		Memory:      64 * 1024, // 64 MB
		Iterations:  3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// GenerateSalt returns SaltLength random bytes from crypto/rand, hex-encoded
func GenerateSalt() (string, error) {
	salt := make([]byte, DefaultParams().SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	return hex.EncodeToString(salt), nil
}

// HashWithSalt derives an Argon2id hash of password using salt. The result is
// deterministic for a given (password, salt, params) triple and carries the
// parameters, so it can be checked later with Verify.
func HashWithSalt(password, salt string, params *Params) string {
	if params == nil {
		params = DefaultParams()
	}
	return encode([]byte(salt), derive(password, []byte(salt), params), params)
}

// Verify checks if the password matches the hash
func Verify(password, encodedHash string) (bool, error) {
	params, salt, hash, err := decodeHash(encodedHash)
	if err != nil {
		return false, err
	}

	otherHash := derive(password, salt, params)

	// Constant-time comparison to prevent timing attacks
	return subtle.ConstantTimeCompare(hash, otherHash) == 1, nil
}

// Matches checks password against a stored hash. Argon2id encodings are
// verified directly; legacy hex SHA-512 digests of password+salt are
// recomputed with the stored salt.
func Matches(password, storedHash, salt string) (bool, error) {
	if IsLegacy(storedHash) {
		digest := legacyDigest(password, salt)
		return subtle.ConstantTimeCompare([]byte(digest), []byte(strings.ToLower(storedHash))) == 1, nil
	}
	return Verify(password, storedHash)
}

// IsLegacy reports whether hash is a legacy SHA-512 hex digest
func IsLegacy(hash string) bool {
	if len(hash) != sha512.Size*2 {
		return false
	}
	_, err := hex.DecodeString(hash)
	return err == nil
}

// NeedsRehash reports whether storedHash should be replaced with a hash
// produced by params
func NeedsRehash(storedHash string, params *Params) bool {
	if IsLegacy(storedHash) {
		return true
	}
	if params == nil {
		params = DefaultParams()
	}
	current, _, _, err := decodeHash(storedHash)
	if err != nil {
		return true
	}
	return current.Memory != params.Memory ||
		current.Iterations != params.Iterations ||
		current.Parallelism != params.Parallelism
}

func legacyDigest(password, salt string) string {
	sum := sha512.Sum512([]byte(password + salt))
	return hex.EncodeToString(sum[:])
}

func derive(password string, salt []byte, params *Params) []byte {
	return argon2.IDKey(
		[]byte(password),
		salt,
		params.Iterations,
		params.Memory,
		params.Parallelism,
		params.KeyLength,
	)
}

// encode formats $argon2id$v=19$m=65536,t=3,p=2$salt$hash
func encode(salt, hash []byte, params *Params) string {
	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		params.Memory,
		params.Iterations,
		params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	)
}

// decodeHash parses an encoded hash string
func decodeHash(encodedHash string) (*Params, []byte, []byte, error) {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 {
		return nil, nil, nil, ErrInvalidHash
	}

	if parts[1] != "argon2id" {
		return nil, nil, nil, ErrInvalidHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return nil, nil, nil, err
	}
	if version != argon2.Version {
		return nil, nil, nil, ErrIncompatibleVersion
	}

	params := &Params{}
	if _, err := fmt.Sscanf(
		parts[3],
		"m=%d,t=%d,p=%d",
		&params.Memory,
		&params.Iterations,
		&params.Parallelism,
	); err != nil {
		return nil, nil, nil, err
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return nil, nil, nil, err
	}
	params.SaltLength = uint32(len(salt))

	hash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return nil, nil, nil, err
	}
	params.KeyLength = uint32(len(hash))

	return params, salt, hash, nil
}
