package helper

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// HashID returns a short stable identifier for s.
func HashID(s string) string {
	h := sha1.Sum([]byte(s))
	return hex.EncodeToString(h[:8])
}

// DocumentID derives the document id from its source uri so re-ingesting the
// same source yields the same chunk ids. Documents without a uri get a UUID.
func DocumentID(sourceURI string) string {
	if sourceURI != "" {
		return HashID(sourceURI)
	}
	return uuid.NewString()
}

// CreateFolder creates path and any missing parents
func CreateFolder(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("failed to create folder %s: %w", path, err)
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
