package cache

import (
	"crypto/sha256"
	"encoding/hex"

	perr "fetchmcp/internal/platform/errors"
)

// CreateKey builds namespace:hex(sha256(url [+ stableJson(cacheVary)])).
// When cacheVary is nil the key hashes the URL alone, keeping the contract
// that two calls with the same inputs always land on the same key
// regardless of cacheVary's map-key ordering.
func CreateKey(namespace, normalisedURL string, cacheVary map[string]any) (string, error) {
	material := normalisedURL
	if cacheVary != nil {
		vary, err := stableJSON(cacheVary)
		if err != nil {
			return "", perr.Wrapf(err, perr.ErrorCodeValidation, "cacheVary is not stably serialisable")
		}
		material += "\x00" + vary
	}
	sum := sha256.Sum256([]byte(material))
	return namespace + ":" + hex.EncodeToString(sum[:]), nil
}
