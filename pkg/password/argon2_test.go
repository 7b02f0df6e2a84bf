package password

import (
	"crypto/sha512"
	"encoding/hex"
	"strings"
	"testing"
)

var fastParams = &Params{Memory: 64, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}

func TestHashWithSalt(t *testing.T) {
	tests := []struct {
		name     string
		password string
		params   *Params
		wantErr  bool
	}{
		{
			name:     "hash with default params",
			password: "SecurePassword123!",
			params:   nil,
			wantErr:  false,
		},
		{
			name:     "hash with custom params",
			password: "AnotherPassword456!",
			params:   &Params{Memory: 32 * 1024, Iterations: 2, Parallelism: 1, SaltLength: 16, KeyLength: 32},
			wantErr:  false,
		},
		{
			name:     "hash empty password",
			password: "",
			params:   fastParams,
			wantErr:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			salt, err := GenerateSalt()
			if (err != nil) != tt.wantErr {
				t.Errorf("GenerateSalt() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			hash := HashWithSalt(tt.password, salt, tt.params)
			if !strings.HasPrefix(hash, "$argon2id$v=19$") {
				t.Errorf("HashWithSalt() invalid format: %s", hash)
			}
		})
	}
}

func TestGenerateSalt(t *testing.T) {
	s1, err := GenerateSalt()
	if err != nil {
		t.Fatalf("GenerateSalt() error = %v", err)
	}
	s2, err := GenerateSalt()
	if err != nil {
		t.Fatalf("GenerateSalt() error = %v", err)
	}

	if len(s1) != 32 {
		t.Errorf("GenerateSalt() length = %d, want 32 hex chars", len(s1))
	}
	if _, err := hex.DecodeString(s1); err != nil {
		t.Errorf("GenerateSalt() not hex: %v", err)
	}
	if s1 == s2 {
		t.Error("GenerateSalt() returned the same salt twice")
	}
}

func TestHashWithSaltDeterminism(t *testing.T) {
	const pw = "Abc12345!"

	h1 := HashWithSalt(pw, "salt-one", fastParams)
	h2 := HashWithSalt(pw, "salt-one", fastParams)
	if h1 != h2 {
		t.Errorf("HashWithSalt() not deterministic: %s != %s", h1, h2)
	}

	h3 := HashWithSalt(pw, "salt-two", fastParams)
	if h1 == h3 {
		t.Error("HashWithSalt() produced identical hashes for different salts")
	}

	ok, err := Verify(pw, h1)
	if err != nil || !ok {
		t.Errorf("Verify() = %v, %v; want true", ok, err)
	}
}

func TestVerify(t *testing.T) {
	password := "TestPassword123!"
	salt, err := GenerateSalt()
	if err != nil {
		t.Fatalf("Failed to generate salt: %v", err)
	}
	hash := HashWithSalt(password, salt, fastParams)

	tests := []struct {
		name     string
		password string
		hash     string
		want     bool
		wantErr  bool
	}{
		{
			name:     "verify correct password",
			password: password,
			hash:     hash,
			want:     true,
		},
		{
			name:     "verify incorrect password",
			password: "WrongPassword",
			hash:     hash,
			want:     false,
		},
		{
			name:     "verify with invalid hash format",
			password: password,
			hash:     "invalid-hash",
			wantErr:  true,
		},
		{
			name:     "verify with missing parts",
			password: password,
			hash:     "$argon2id$v=19$m=65536",
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Verify(tt.password, tt.hash)
			if (err != nil) != tt.wantErr {
				t.Errorf("Verify() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if got != tt.want {
				t.Errorf("Verify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMatchesLegacy(t *testing.T) {
	const (
		pw   = "Legacy123!"
		salt = "0f1e2d3c4b5a69788796a5b4c3d2e1f0"
	)
	sum := sha512.Sum512([]byte(pw + salt))
	legacy := hex.EncodeToString(sum[:])

	if !IsLegacy(legacy) {
		t.Fatal("IsLegacy() = false for a SHA-512 hex digest")
	}

	ok, err := Matches(pw, legacy, salt)
	if err != nil || !ok {
		t.Errorf("Matches() = %v, %v; want true", ok, err)
	}

	ok, err = Matches("Other123!", legacy, salt)
	if err != nil || ok {
		t.Errorf("Matches() = %v, %v; want false", ok, err)
	}

	if !NeedsRehash(legacy, fastParams) {
		t.Error("NeedsRehash() = false for legacy digest")
	}
}

func TestMatchesArgon2(t *testing.T) {
	hash := HashWithSalt("Abc12345!", "abcd", fastParams)

	ok, err := Matches("Abc12345!", hash, "ignored")
	if err != nil || !ok {
		t.Errorf("Matches() = %v, %v; want true", ok, err)
	}
	if NeedsRehash(hash, fastParams) {
		t.Error("NeedsRehash() = true for current params")
	}
	if !NeedsRehash(hash, DefaultParams()) {
		t.Error("NeedsRehash() = false for changed params")
	}
}

func TestInvalidHashFormat(t *testing.T) {
	invalidHashes := []string{
		"",
		"plain-text-password",
		"$bcrypt$invalid",
		"$argon2id$",
		"$argon2id$v=18$m=65536,t=3,p=2$salt$hash", // Wrong version
	}

	for _, hash := range invalidHashes {
		t.Run(hash, func(t *testing.T) {
			_, err := Verify("password", hash)
			if err == nil {
				t.Errorf("Verify() expected error for invalid hash: %s", hash)
			}
		})
	}
}

func BenchmarkHashWithSalt(b *testing.B) {
	password := "BenchmarkPassword123!"
	params := DefaultParams()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = HashWithSalt(password, "benchmark-salt", params)
	}
}
