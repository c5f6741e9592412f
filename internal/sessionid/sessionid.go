// Package sessionid derives session identifiers for uploaded documents.
package sessionid

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"
)

// Strategies accepted by Derive.
const (
	StrategyFilename = "filename"
	StrategyContent  = "content"
	StrategyUUID     = "uuid"
)

// hashPrefixLen is how much of the content hash a content-derived id keeps.
const hashPrefixLen = 12

// ErrEmptyID is returned when a filename has no stem to derive an id from.
var ErrEmptyID = errors.New("cannot derive a session id from an empty filename")

// FromFilename returns the base filename with its extension removed: "docs/doc.pdf" gives "doc".
// Client-supplied names may carry Windows separators; both kinds are stripped.
func FromFilename(filename string) (string, error) {
	base := path.Base(strings.ReplaceAll(strings.TrimSpace(filename), `\`, "/"))
	if base == "." || base == "/" {
		return "", ErrEmptyID
	}
	stem := strings.TrimSpace(strings.TrimSuffix(base, path.Ext(base)))
	if stem == "" {
		return "", ErrEmptyID
	}
	return stem, nil
}

// FromContent returns "<stem>-<first 12 hex chars of contentHash>", so different
// documents uploaded under the same name do not collide.
func FromContent(filename, contentHash string) (string, error) {
	stem, err := FromFilename(filename)
	if err != nil {
		return "", err
	}
	if len(contentHash) < hashPrefixLen {
		return "", fmt.Errorf("content hash too short: %q", contentHash)
	}
	return stem + "-" + strings.ToLower(contentHash[:hashPrefixLen]), nil
}

// New returns a random UUID.
func New() string {
	return uuid.NewString()
}

// Derive picks the id for an upload according to strategy. An empty strategy means filename.
func Derive(strategy, filename, contentHash string) (string, error) {
	switch strategy {
	case StrategyFilename, "":
		return FromFilename(filename)
	case StrategyContent:
		return FromContent(filename, contentHash)
	case StrategyUUID:
		return New(), nil
	default:
		return "", fmt.Errorf("unknown session id strategy %q", strategy)
	}
}
