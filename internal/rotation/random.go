package rotation

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/secretops/secretops/internal/logging"
	"github.com/secretops/secretops/internal/store"
)

const passwordCharset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789-_"

// generatePassword returns a cryptographically random password of the
// given length.
func generatePassword(length int) (string, error) {
	if length <= 0 {
		length = 32
	}
	out := make([]byte, length)
	max := big.NewInt(int64(len(passwordCharset)))
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate random value: %w", err)
		}
		out[i] = passwordCharset[n.Int64()]
	}
	return string(out), nil
}

// RandomTokenRotator generates a fresh random token. It talks to no
// external system, which also makes it the strategy used in tests.
type RandomTokenRotator struct {
	logger *logging.Logger
}

// NewRandomTokenRotator creates the rotator.
func NewRandomTokenRotator(logger *logging.Logger) *RandomTokenRotator {
	return &RandomTokenRotator{logger: logger.Named("random-token")}
}

func (r *RandomTokenRotator) Strategy() string {
	return "random-token"
}

func (r *RandomTokenRotator) Rotate(ctx context.Context, rec *store.RotationRecord) (Credentials, error) {
	length := 32
	if l := rec.Parameters["length"]; l != "" {
		if _, err := fmt.Sscanf(l, "%d", &length); err != nil {
			return nil, fmt.Errorf("invalid token length %q: %w", l, err)
		}
	}

	token, err := generatePassword(length)
	if err != nil {
		return nil, err
	}

	r.logger.Debug("generated new token for rotation %s", rec.ID)
	return Credentials{"token": token}, nil
}
