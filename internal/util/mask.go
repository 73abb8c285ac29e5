package util

import (
	"net/url"
	"strings"
)

// MaskURL hides credentials in a source URL for logging.
func MaskURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		if i := strings.LastIndex(raw, "@"); i >= 0 {
			if scheme := strings.Index(raw, "://"); scheme >= 0 && scheme < i {
				return raw[:scheme+3] + "****:****" + raw[i:]
			}
		}
		return raw
	}
	u.User = url.UserPassword("****", "****")
	masked := u.String()
	// url.String escapes the placeholder asterisks; restore them for readability.
	return strings.ReplaceAll(masked, "%2A", "*")
}

// MaskIngestURL hides the stream key of an ingest URL for logging.
func MaskIngestURL(raw string) string {
	i := strings.LastIndex(raw, "/")
	if i < 0 || i == len(raw)-1 || !strings.Contains(raw, "://") {
		return raw
	}
	key := raw[i+1:]
	if len(key) <= 4 {
		return raw[:i+1] + "****"
	}
	return raw[:i+1] + key[:4] + "****"
}
