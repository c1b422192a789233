package common

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
)

const idAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// randomSuffix returns n lowercase base-36 characters
func randomSuffix(n int) string {
	var b strings.Builder
	b.Grow(n)
	for i := 0; i < n; i++ {
		b.WriteByte(idAlphabet[rand.Intn(len(idAlphabet))])
	}
	return b.String()
}

// NewJobID generates an admission id: <prefix>_<unix-ms>_<9 random chars>
// e.g. connect_1718000000000_k3j9x0a1b
func NewJobID(prefix string) string {
	return fmt.Sprintf("%s_%d_%s", prefix, time.Now().UnixMilli(), randomSuffix(9))
}

// NewBulkJobID generates an id for item index of a bulk admission:
// <prefix>_<unix-ms>_<index>_<5 random chars>
func NewBulkJobID(prefix string, index int) string {
	return fmt.Sprintf("%s_%d_%d_%s", prefix, time.Now().UnixMilli(), index, randomSuffix(5))
}

// NewInstanceID generates a unique id for this server process
func NewInstanceID() string {
	return uuid.New().String()
}
