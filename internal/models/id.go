package models

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	mrand "math/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

func NewID(prefix string) string {
	t := time.Now()
	entropy := ulid.Monotonic(mrand.New(mrand.NewSource(t.UnixNano())), 0)
	id := ulid.MustNew(ulid.Timestamp(t), entropy)
	return fmt.Sprintf("%s_%s", prefix, id.String())
}

func NewAPIKey() string {
	b := make([]byte, 32)
	rand.Read(b)
	return fmt.Sprintf("ak_%s", hex.EncodeToString(b))
}

// NewSecret returns a signing secret: 32 random bytes hex-encoded. It is shown
// to the caller once, at endpoint creation or rotation.
func NewSecret() string {
	b := make([]byte, 32)
	rand.Read(b)
	return hex.EncodeToString(b)
}
