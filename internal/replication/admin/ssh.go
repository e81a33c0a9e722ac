package admin

import (
	"bytes"
	"context"
	"fmt"
	"net/url"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
)

// SSHOptions carries the key material an SSH admin transport dials with.
// Credential lookup itself is out of scope (SPEC_FULL.md §1); this is
// the contract it needs to satisfy.
type SSHOptions struct {
	User   string
	Signer ssh.Signer
}

// SSH is the ssh:// admin transport: it runs the same administrative
// commands Gerrit's own SSH command surface exposes, against a remote
// admin endpoint, over an SSH session.
type SSH struct {
	addr string
	opts SSHOptions
	log  *logrus.Entry
}

// NewSSH returns an SSH admin transport dialing adminURL.
func NewSSH(adminURL string, opts SSHOptions) *SSH {
	return &SSH{addr: hostPort(adminURL), opts: opts, log: logrus.WithField("admin-transport", "ssh")}
}

func hostPort(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	if u.Port() != "" {
		return u.Host
	}
	return u.Host + ":22"
}

func (s *SSH) run(command string) bool {
	var auth []ssh.AuthMethod
	if s.opts.Signer != nil {
		auth = append(auth, ssh.PublicKeys(s.opts.Signer))
	}

	client, err := ssh.Dial("tcp", s.addr, &ssh.ClientConfig{
		User:            s.opts.User,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // the admin endpoint's host key is not verified
	})
	if err != nil {
		s.log.WithField("addr", s.addr).WithError(err).Error("failed to dial admin endpoint")
		return false
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		s.log.WithError(err).Error("failed to open ssh session")
		return false
	}
	defer session.Close()

	var stderr bytes.Buffer
	session.Stderr = &stderr
	if err := session.Run(command); err != nil {
		s.log.WithField("command", command).WithField("stderr", stderr.String()).WithError(err).Error("admin command failed")
		return false
	}
	return true
}

// CreateProject runs the remote's project-create admin command.
func (s *SSH) CreateProject(_ context.Context, name, head string) bool {
	cmd := fmt.Sprintf("gerrit create-project %s", name)
	if head != "" {
		cmd = fmt.Sprintf("%s --head %s", cmd, head)
	}
	return s.run(cmd)
}

// DeleteProject runs the remote's project-delete admin command.
func (s *SSH) DeleteProject(_ context.Context, name string) bool {
	return s.run(fmt.Sprintf("gerrit delete-project %s --yes-really-delete --force", name))
}

// UpdateHead runs the remote's HEAD-update admin command.
func (s *SSH) UpdateHead(_ context.Context, name, newHead string) bool {
	return s.run(fmt.Sprintf("gerrit set-head %s --new-head %s", name, newHead))
}
