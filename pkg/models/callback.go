package models

import (
	"encoding/base64"
	"errors"
	"strings"
	"time"
)

// CallbackConfig configures a callback operation. The timeout is converted
// to an absolute deadline at creation time so it survives process restarts.
type CallbackConfig struct {
	Timeout time.Duration `json:"timeout" validate:"required,gt=0"`
}

// ErrInvalidCallbackToken indicates a token that does not decode to an
// execution ARN and operation path.
var ErrInvalidCallbackToken = errors.New("invalid callback token")

const tokenSeparator = "|"

// CallbackToken derives the externally visible token for a callback
// operation from the execution ARN and the operation's tree path. The
// derivation is deterministic, so replays reconstruct the same token and
// external deliveries stay addressable across restarts.
func CallbackToken(executionARN, operationPath string) string {
	return base64.RawURLEncoding.EncodeToString(
		[]byte(executionARN + tokenSeparator + operationPath),
	)
}

// ParseCallbackToken recovers the execution ARN and operation path a token
// was derived from.
func ParseCallbackToken(token string) (executionARN, operationPath string, err error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", "", ErrInvalidCallbackToken
	}

	arn, path, found := strings.Cut(string(raw), tokenSeparator)
	if !found || arn == "" || path == "" {
		return "", "", ErrInvalidCallbackToken
	}

	return arn, path, nil
}
