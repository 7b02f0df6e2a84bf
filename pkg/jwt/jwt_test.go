package jwt

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret-key-0123456789"

func setupTestManager(t *testing.T) *Manager {
	t.Helper()
	manager, err := NewManager(testSecret, 24*time.Hour, "access-service")
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}
	return manager
}

func TestNewManager(t *testing.T) {
	tests := []struct {
		name    string
		secret  string
		wantErr error
	}{
		{name: "valid secret", secret: testSecret},
		{name: "empty secret", secret: "", wantErr: ErrWeakSecret},
		{name: "short secret", secret: "short", wantErr: ErrWeakSecret},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewManager(tt.secret, time.Hour, "access-service")
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("NewManager() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestGenerate(t *testing.T) {
	manager := setupTestManager(t)

	before := time.Now()
	token, expiresAt, err := manager.Generate(42)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	if token == "" {
		t.Error("Generate() returned empty token")
	}
	if strings.Count(token, ".") != 2 {
		t.Errorf("Generate() token is not a JWS: %s", token)
	}

	wantExpiry := before.Add(24 * time.Hour)
	if diff := expiresAt.Sub(wantExpiry); diff < 0 || diff > 5*time.Second {
		t.Errorf("Generate() expiry = %v, want ~%v", expiresAt, wantExpiry)
	}
}

func TestValidate(t *testing.T) {
	manager := setupTestManager(t)

	token, _, err := manager.Generate(42)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	claims, err := manager.Validate(token)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if claims.UserID != 42 {
		t.Errorf("Validate() UserID = %d, want 42", claims.UserID)
	}
	if claims.Subject != "42" {
		t.Errorf("Validate() Subject = %s, want 42", claims.Subject)
	}
	if claims.ID == "" {
		t.Error("Validate() token has no jti")
	}
}

func TestValidateFailures(t *testing.T) {
	manager := setupTestManager(t)

	expiredManager, err := NewManager(testSecret, -time.Minute, "access-service")
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	expired, _, err := expiredManager.Generate(42)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	otherManager, err := NewManager("another-secret-key-9876543210", time.Hour, "access-service")
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	foreign, _, err := otherManager.Generate(42)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{UserID: 42}).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}

	tests := []struct {
		name    string
		token   string
		wantErr error
	}{
		{name: "expired token", token: expired, wantErr: ErrTokenExpired},
		{name: "wrong signature", token: foreign, wantErr: ErrInvalidToken},
		{name: "malformed token", token: "not.a.token", wantErr: ErrInvalidToken},
		{name: "empty token", token: "", wantErr: ErrInvalidToken},
		{name: "missing expiry", token: noExpiry, wantErr: ErrInvalidToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := manager.Validate(tt.token)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateRejectsNoneAlgorithm(t *testing.T) {
	manager := setupTestManager(t)

	claims := &Claims{
		UserID: 1,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}

	if _, err := manager.Validate(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Validate() error = %v, want ErrInvalidToken", err)
	}
}
