package firebase

import (
	"context"
	"fmt"
	"strings"
)

const devTokenPrefix = "dev:"

// DevVerifier accepts tokens of the form "dev:<uid>" and is used only with the memory
// store driver in development, where no Firebase project is configured.
type DevVerifier struct{}

func (DevVerifier) VerifyToken(ctx context.Context, token string) (string, error) {
	uid, ok := strings.CutPrefix(token, devTokenPrefix)
	if !ok || uid == "" {
		return "", fmt.Errorf("not a development token")
	}
	return uid, nil
}

// DevToken returns the development token for uid.
func DevToken(uid string) string {
	return devTokenPrefix + uid
}
