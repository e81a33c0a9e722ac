// Package admin implements the three admin-transport back-ends that
// drive remote project lifecycle (create, delete, HEAD update) outside
// the task store, per SPEC_FULL.md §6 and the original plugin's
// AdminApi/LocalFS (original_source/.../LocalFS.java).
package admin

import "context"

// Transport is the contract every admin back-end implements. All three
// methods are best-effort: failure is reported through the bool return
// and logged by the caller, never by raising (matching the original
// AdminApi contract).
type Transport interface {
	// CreateProject creates a bare repository named name on the remote.
	// A non-empty head is passed on as the new repository's HEAD; LocalFS
	// applies it only if it starts with "refs/".
	CreateProject(ctx context.Context, name, head string) bool
	// DeleteProject recursively removes the named repository.
	DeleteProject(ctx context.Context, name string) bool
	// UpdateHead atomically repoints the named repository's HEAD.
	UpdateHead(ctx context.Context, name, newHead string) bool
}

// ForURL selects the admin Transport implementation for adminURL's
// scheme, per SPEC_FULL.md §6: file:// uses LocalFS, ssh:// uses the SSH
// command transport, and http(s):// uses the REST transport.
func ForURL(adminURL string, opts Options) (Transport, error) {
	scheme, rest, err := splitScheme(adminURL)
	if err != nil {
		return nil, err
	}

	switch scheme {
	case "file":
		return NewLocalFS(rest), nil
	case "ssh":
		return NewSSH(adminURL, opts.SSH), nil
	case "http", "https":
		return NewREST(adminURL, opts.RESTToken), nil
	default:
		return nil, unsupportedSchemeError(scheme)
	}
}

// Options carries whatever per-destination credentials the admin
// transport constructors need. Credential lookup itself is out of scope
// (SPEC_FULL.md §1); this is the contract it needs to satisfy.
type Options struct {
	SSH       SSHOptions
	RESTToken string
}
