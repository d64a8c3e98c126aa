// fingerprint.go generates stable hashes for grouping similar occurrences.

package squash

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// fingerprintFrames is how many leading backtrace addresses take part in
// the fingerprint.
const fingerprintFrames = 3

// Fingerprint returns a hash for grouping similar occurrences. It is based
// on the symbolication ID, the class name and the first backtrace
// addresses. IDs, timestamps, messages and the environment are ignored.
//
// Addresses are only comparable within one build, which the symbolication
// ID accounts for.
func Fingerprint(o Occurrence) string {
	parts := []string{o.SymbolicationID, o.ClassName()}
	bt := o.Backtrace()
	if len(bt) > fingerprintFrames {
		bt = bt[:fingerprintFrames]
	}
	for _, addr := range bt {
		parts = append(parts, strconv.FormatUint(addr, 16))
	}

	hash := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(hash[:16])
}
