// Package remote reaches the remote backup host for directory checks and
// repository bootstrapping, over either direct SSH command execution or
// SFTP, selected by configuration.
package remote

import (
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/thoreinstein/borgsnap/internal/errors"
)

// DefaultPort is the SSH port used when the address does not carry one.
const DefaultPort uint = 22

// Endpoint is a remote repository location. The two concrete shapes are
// SimpleRemote (plain user@host:dir) and PortedRemote (ssh:// URL with an
// explicit port); both provide the same capability surface.
type Endpoint interface {
	User() string
	Host() string
	Port() uint

	// Dir is the repository root directory on the remote host.
	Dir() string

	// RepoURL builds the borg repository URL for a path beneath Dir.
	RepoURL(sub string) string

	// String renders the endpoint back in its source shape.
	String() string
}

// SimpleRemote is a plain scp-style address: user@host:dir.
type SimpleRemote struct {
	user string
	host string
	dir  string
}

func (r SimpleRemote) User() string { return r.user }
func (r SimpleRemote) Host() string { return r.host }
func (r SimpleRemote) Port() uint   { return DefaultPort }
func (r SimpleRemote) Dir() string  { return r.dir }

func (r SimpleRemote) RepoURL(sub string) string {
	return r.user + "@" + r.host + ":" + path.Join(r.dir, sub)
}

func (r SimpleRemote) String() string {
	return r.user + "@" + r.host + ":" + r.dir
}

// PortedRemote is an ssh:// URL with an explicit port.
type PortedRemote struct {
	user string
	host string
	port uint
	dir  string
}

func (r PortedRemote) User() string { return r.user }
func (r PortedRemote) Host() string { return r.host }
func (r PortedRemote) Port() uint   { return r.port }
func (r PortedRemote) Dir() string  { return r.dir }

func (r PortedRemote) RepoURL(sub string) string {
	return "ssh://" + r.user + "@" + r.host + ":" + strconv.FormatUint(uint64(r.port), 10) +
		path.Join("/", r.dir, sub)
}

func (r PortedRemote) String() string {
	return "ssh://" + r.user + "@" + r.host + ":" + strconv.FormatUint(uint64(r.port), 10) +
		path.Join("/", r.dir)
}

// ParseAddress parses a remote address in either supported shape:
//
//	user@host:/srv/borg               (SimpleRemote, port 22)
//	ssh://user@host:2022/srv/borg     (PortedRemote)
func ParseAddress(s string) (Endpoint, error) {
	if s == "" {
		return nil, errors.New("remote address is empty")
	}

	if strings.HasPrefix(s, "ssh://") {
		u, err := url.Parse(s)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing remote address %q", s)
		}
		if u.User == nil || u.User.Username() == "" {
			return nil, errors.Newf("remote address %q is missing a user", s)
		}
		if u.Hostname() == "" {
			return nil, errors.Newf("remote address %q is missing a host", s)
		}
		if u.Path == "" || u.Path == "/" {
			return nil, errors.Newf("remote address %q is missing a directory", s)
		}
		port := DefaultPort
		if p := u.Port(); p != "" {
			n, err := strconv.ParseUint(p, 10, 16)
			if err != nil {
				return nil, errors.Wrapf(err, "parsing port in remote address %q", s)
			}
			port = uint(n)
		}
		return PortedRemote{
			user: u.User.Username(),
			host: u.Hostname(),
			port: port,
			dir:  strings.TrimSuffix(u.Path, "/"),
		}, nil
	}

	at := strings.Index(s, "@")
	colon := strings.Index(s, ":")
	if at <= 0 || colon <= at+1 || colon == len(s)-1 {
		return nil, errors.Newf("remote address %q is not user@host:dir or ssh://user@host:port/dir", s)
	}
	return SimpleRemote{
		user: s[:at],
		host: s[at+1 : colon],
		dir:  s[colon+1:],
	}, nil
}
