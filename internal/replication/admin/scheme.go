package admin

import (
	"fmt"
	"net/url"
)

func splitScheme(rawURL string) (scheme, path string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", fmt.Errorf("admin: parse %q: %w", rawURL, err)
	}
	return u.Scheme, u.Path, nil
}

type unsupportedSchemeError string

func (e unsupportedSchemeError) Error() string {
	return fmt.Sprintf("admin: unsupported scheme %q", string(e))
}
