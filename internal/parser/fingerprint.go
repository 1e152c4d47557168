package parser

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// fingerprintBodyLimit bounds how much body text feeds the fingerprint so
// trailing-content edits upstream do not change it.
const fingerprintBodyLimit = 500

// recordIDLength matches the original monitor's sha256-prefix id scheme.
const recordIDLength = 18

// Fingerprint hashes the normalized title plus the leading body for
// exact-duplicate detection. Deterministic for a given title/body pair.
func Fingerprint(title, body string) string {
	normTitle := normalizeText(title)
	normBody := normalizeText(body)
	if len(normBody) > fingerprintBodyLimit {
		normBody = normBody[:fingerprintBodyLimit]
	}
	sum := sha256.Sum256([]byte(normTitle + "\n" + normBody))
	return hex.EncodeToString(sum[:])
}

// RecordID derives a stable record identifier from the source URI and title.
func RecordID(sourceURI, title string) string {
	sum := sha256.Sum256([]byte(sourceURI + "|" + title))
	return hex.EncodeToString(sum[:])[:recordIDLength]
}

// normalizeText lowercases and collapses all whitespace runs to one space.
func normalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
