package auth

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"flock/pkg/logger"
	"flock/pkg/store"
)

// NewToken mints a session token for a user: the uid followed by a random
// suffix with base64 padding and separators stripped, so tokens stay safe
// in URLs and file names.
func NewToken(uid string) string {
	u := uuid.New()
	suffix := base64.StdEncoding.EncodeToString(u[:])
	suffix = strings.NewReplacer("=", "", "+", "", "/", "").Replace(suffix)
	return uid + suffix
}

// CreateSession mints and persists a session token for uid.
func CreateSession(uid string) (string, error) {
	token := NewToken(uid)
	if err := store.SaveSession(token, uid); err != nil {
		return "", fmt.Errorf("save session: %w", err)
	}
	logger.Info("session_created", zap.String("user", uid))
	return token, nil
}

// Resolve maps a session token to its user id.
func Resolve(token string) (string, bool) {
	if token == "" {
		return "", false
	}
	uid, ok, err := store.GetSession(token)
	if err != nil {
		logger.Error("session_lookup_failed", zap.Error(err))
		return "", false
	}
	return uid, ok
}

// Logout removes a session token.
func Logout(token string) error {
	return store.DeleteSession(token)
}
