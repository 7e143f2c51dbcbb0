package helper

import (
	"encoding/json"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// GenerateUUID creates a random unique UUID string
func GenerateUUID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("failed to generate UUID: %v", err)
	}
	return id.String(), nil
}

// IsUUID reports whether s is a canonical UUID string
func IsUUID(s string) bool {
	id, err := uuid.Parse(s)
	return err == nil && id.String() == s
}

var lastStamp atomic.Int64

// nextStamp returns a nanosecond timestamp strictly greater than any
// previously returned in this process.
func nextStamp() int64 {
	for {
		last := lastStamp.Load()
		now := time.Now().UnixNano()
		if now <= last {
			now = last + 1
		}
		if lastStamp.CompareAndSwap(last, now) {
			return now
		}
	}
}

// RecordIDs returns n record ids for one batch appended to a session.
// Ids are fixed width, so sorting them as strings follows insertion order
// within a session, and concurrent batches never share a stamp.
func RecordIDs(sessionID string, n int) []string {
	stamp := nextStamp()
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("%s_%019d_%08d", sessionID, stamp, i)
	}
	return ids
}

// CreateFolder creates path and its parents if missing
func CreateFolder(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("failed to create folder %s: %v", path, err)
	}
	return nil
}

// pretty print
func PrettyPrint(v interface{}) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Warn().Msg("Error pretty printing")
	}
	fmt.Println(string(b))
}
