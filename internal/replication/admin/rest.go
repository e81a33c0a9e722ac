package admin

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
)

// REST is the http(s):// admin transport. The wire format is not given
// authoritatively anywhere in SPEC_FULL.md, so this uses plain net/http
// against a small REST convention (PUT/DELETE/POST on /projects/<name>)
// rather than pulling in a heavier client the spec doesn't justify.
type REST struct {
	base   string
	token  string
	client *http.Client
	log    *logrus.Entry
}

// NewREST returns a REST admin transport against baseURL, authenticating
// with token as a bearer token.
func NewREST(baseURL, token string) *REST {
	return &REST{
		base:   strings.TrimSuffix(baseURL, "/"),
		token:  token,
		client: &http.Client{},
		log:    logrus.WithField("admin-transport", "rest"),
	}
}

func (r *REST) do(ctx context.Context, method, path string) bool {
	req, err := http.NewRequestWithContext(ctx, method, r.base+path, nil)
	if err != nil {
		r.log.WithError(err).Error("failed to build admin request")
		return false
	}
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		r.log.WithField("path", path).WithError(err).Error("admin request failed")
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		r.log.WithField("path", path).WithField("status", resp.StatusCode).Error("admin request rejected")
		return false
	}
	return true
}

// CreateProject PUTs /projects/<name>[?head=<head>].
func (r *REST) CreateProject(ctx context.Context, name, head string) bool {
	path := "/projects/" + url.PathEscape(name)
	if head != "" {
		path += "?head=" + url.QueryEscape(head)
	}
	return r.do(ctx, http.MethodPut, path)
}

// DeleteProject DELETEs /projects/<name>.
func (r *REST) DeleteProject(ctx context.Context, name string) bool {
	return r.do(ctx, http.MethodDelete, "/projects/"+url.PathEscape(name))
}

// UpdateHead POSTs /projects/<name>/HEAD.
func (r *REST) UpdateHead(ctx context.Context, name, newHead string) bool {
	return r.do(ctx, http.MethodPost, fmt.Sprintf("/projects/%s/HEAD?ref=%s", url.PathEscape(name), url.QueryEscape(newHead)))
}
