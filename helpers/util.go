package helpers

import (
	"net/url"
	"strings"
)

// WithQuery appends the non-empty parameters to path as a query string
func WithQuery(path string, params map[string]string) string {
	values := url.Values{}
	for k, v := range params {
		if v != "" {
			values.Set(k, v)
		}
	}
	if len(values) == 0 {
		return path
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + values.Encode()
}

// JoinPath joins a base URL and a path without doubling slashes
func JoinPath(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}
