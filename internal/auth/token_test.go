package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecretKey = "test-secret-key-for-predictable-results"

func TestGenerateToken(t *testing.T) {
	TokenSecretKey = testSecretKey

	tests := []struct {
		name     string
		userID   string
		email    string
		duration time.Duration
	}{
		{
			name:     "success: generate valid token",
			userID:   "user-1",
			email:    "user@example.com",
			duration: time.Hour,
		},
		{
			name:     "success: token without email",
			userID:   "user-2",
			duration: 30 * time.Minute,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tokenString, err := GenerateToken(tt.userID, tt.email, tt.duration)
			require.NoError(t, err)
			require.NotEmpty(t, tokenString)

			claims, err := VerifyToken(tokenString)
			require.NoError(t, err)
			assert.Equal(t, tt.userID, claims.UserID)
			assert.Equal(t, tt.email, claims.Email)
			assert.WithinDuration(t, time.Now().Add(tt.duration), claims.ExpiresAt.Time, time.Second*5)
		})
	}
}

func TestVerifyToken(t *testing.T) {
	TokenSecretKey = testSecretKey

	validToken, _ := GenerateToken("user-1", "user@example.com", time.Hour)

	expiredToken, _ := GenerateToken("user-1", "user@example.com", -time.Hour)

	claimsWithWrongMethod := TokenClaims{
		UserID: "user-1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	wrongMethodToken := jwt.NewWithClaims(jwt.SigningMethodNone, claimsWithWrongMethod)
	wrongMethodString, _ := wrongMethodToken.SignedString(jwt.UnsafeAllowNoneSignatureType)

	tests := []struct {
		name        string
		tokenString string
		wantErr     bool
		wantUserID  string
	}{
		{
			name:        "success: valid token",
			tokenString: validToken,
			wantErr:     false,
			wantUserID:  "user-1",
		},
		{
			name:        "error: expired token",
			tokenString: expiredToken,
			wantErr:     true,
		},
		{
			name:        "error: wrong signing method",
			tokenString: wrongMethodString,
			wantErr:     true,
		},
		{
			name:        "error: garbage token",
			tokenString: "not-a-token",
			wantErr:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := VerifyToken(tt.tokenString)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, claims)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.wantUserID, claims.UserID)
			}
		})
	}
}
