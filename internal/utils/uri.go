package utils

import (
	"path"
	"regexp"
	"strings"
)

var (
	reNumSeg   = regexp.MustCompile(`^\d+$`)
	reUUIDSeg  = regexp.MustCompile(`^[a-fA-F0-9]{8}-[a-fA-F0-9]{4}-[a-fA-F0-9]{4}-[a-fA-F0-9]{4}-[a-fA-F0-9]{12}$`)
	reHexSeg   = regexp.MustCompile(`^[a-fA-F0-9]{32}$`)
	reTokenSeg = regexp.MustCompile(`^[a-zA-Z0-9+\-_=]{20,}$`)
)

// CanonicalizeURI strips query/fragment, cleans the path and masks
// numeric IDs and token-shaped segments. Audit records carry the
// canonical form so per-route aggregation is not shredded by IDs.
func CanonicalizeURI(uri string) string {
	if uri == "" {
		return "/"
	}

	if idx := strings.IndexAny(uri, "?#"); idx != -1 {
		uri = uri[:idx]
	}

	cleaned := path.Clean(uri)
	if !strings.HasPrefix(cleaned, "/") {
		cleaned = "/" + cleaned
	}

	segments := strings.Split(cleaned, "/")
	for i, seg := range segments {
		if seg == "" {
			continue
		}
		if reNumSeg.MatchString(seg) {
			segments[i] = ":id"
		} else if reUUIDSeg.MatchString(seg) || reHexSeg.MatchString(seg) || reTokenSeg.MatchString(seg) {
			segments[i] = ":token"
		}
	}

	return strings.Join(segments, "/")
}
