package services

import (
	"path"
	"path/filepath"
	"strings"

	"github.com/lithammer/shortuuid/v4"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	accessCodeLength   = 8
	accessCodeAlphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	accessCodeAttempts = 5
)

func newAccessCode() (string, error) {
	return gonanoid.Generate(accessCodeAlphabet, accessCodeLength)
}

// newShareID returns a fixed-length (22 char) token drawn from a random UUID.
func newShareID() string {
	return shortuuid.New()
}

// sanitizeFilename strips directory components from a client filename.
func sanitizeFilename(name string) string {
	clean := filepath.Base(filepath.Clean(strings.TrimSpace(name)))
	clean = strings.ReplaceAll(clean, "/", "_")
	clean = strings.ReplaceAll(clean, "\\", "_")
	if clean == "." || clean == ".." || clean == "" {
		return ""
	}
	return clean
}

// normalizeFolder turns a client folder into an absolute slash path. An
// empty folder means the root.
func normalizeFolder(folder string) string {
	folder = strings.TrimSpace(folder)
	if folder == "" {
		return "/"
	}
	return path.Clean("/" + folder)
}
