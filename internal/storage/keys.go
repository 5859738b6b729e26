package storage

import (
	"path"
	"strings"
)

func UploadKey(id string) string {
	return path.Join(uploadsPrefix, sanitizePathToken(id)+".jpg")
}

func ExportKey(id string) string {
	return path.Join(exportsPrefix, sanitizePathToken(id)+".png")
}

// ResultKey is where a finished stylization is mirrored so its URL outlives
// the upstream CDN link.
func ResultKey(jobID, format string) string {
	ext := strings.ToLower(strings.TrimSpace(format))
	switch ext {
	case "jpeg":
		ext = "jpg"
	case "jpg", "png", "webp":
	default:
		ext = "png"
	}
	return path.Join(resultsPrefix, sanitizePathToken(jobID)+"."+ext)
}

// IsUploadKey reports whether key was produced by UploadKey.
func IsUploadKey(key string) bool {
	return hasPrefix(key, uploadsPrefix)
}

// IsResultKey reports whether key was produced by ResultKey.
func IsResultKey(key string) bool {
	return hasPrefix(key, resultsPrefix)
}

func hasPrefix(key, prefix string) bool {
	key = strings.TrimSpace(key)
	return strings.HasPrefix(key, prefix+"/") && key == path.Clean(key)
}

func sanitizePathToken(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return "unknown"
	}

	var b strings.Builder
	b.Grow(len(in))
	for _, r := range in {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
