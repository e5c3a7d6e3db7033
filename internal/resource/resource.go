// Package resource models configured storage locations and parses the
// scheme-qualified paths the rest of the engine operates on. It is a leaf
// package: credentials/, throttle/, transfer/ and engine/ all import it,
// so it must not import any of them.
package resource

import (
	"fmt"
	"time"
)

// Kind identifies the protocol a resource speaks.
type Kind string

const (
	KindLocal Kind = "local"
	KindSMB   Kind = "smb"
	KindSFTP  Kind = "sftp"
	KindFTP   Kind = "ftp"
	KindCloud Kind = "cloud"
)

// Default ports per protocol, applied when a path omits one.
const (
	DefaultPortSMB  = 445
	DefaultPortSFTP = 22
	DefaultPortFTP  = 21
)

// DefaultConcurrency returns the protocol-class concurrency ceiling used
// when a resource carries no learned hint. Cloud REST endpoints tolerate a
// higher fan-out than a single SMB or FTP server.
func (k Kind) DefaultConcurrency() int {
	switch k {
	case KindCloud:
		return 8
	case KindSFTP:
		return 4
	case KindSMB:
		return 4
	case KindFTP:
		return 2
	default:
		return 8
	}
}

// Remote reports whether operations against this kind cross a network.
// Local resources are never throttled or cached.
func (k Kind) Remote() bool {
	return k != KindLocal
}

// Resource is a configured storage location: a local folder, an SMB share,
// an SFTP/FTP server directory, or a cloud drive folder.
type Resource struct {
	ID            string
	Kind          Kind
	Root          string // scheme-qualified root path or local directory
	CredentialRef string // optional key into the credential store
	Writable      bool

	// RecommendedConcurrency overrides Kind.DefaultConcurrency for this
	// resource's endpoint when > 0. Learned from a throughput test.
	RecommendedConcurrency int

	CreatedAt time.Time
}

// Concurrency returns the effective concurrency ceiling for the resource.
func (r *Resource) Concurrency() int {
	if r.RecommendedConcurrency > 0 {
		return r.RecommendedConcurrency
	}

	return r.Kind.DefaultConcurrency()
}

// Key returns the throttle-scoping identifier for the resource's endpoint.
func (r *Resource) Key() Key {
	loc, err := Parse(r.Root)
	if err != nil {
		// An unparseable root still needs a stable key; fall back to the
		// raw root string so throttling stays per-resource.
		return Key(fmt.Sprintf("%s:%s", r.Kind, r.Root))
	}

	return loc.Key()
}

// Key scopes throttle gates. It is derived from protocol+host(+share),
// deliberately coarser than a single file path: all operations against one
// endpoint share one gate.
type Key string

// Location is a parsed scheme-qualified path: the addressable identity of
// one file or folder on one endpoint.
type Location struct {
	Kind  Kind
	Host  string
	Port  int
	Share string // SMB share name; empty for other kinds
	Path  string // path below the share/root, always forward-slash, no leading slash for cloud ids
}

// Key returns the throttle key for the location's endpoint.
func (l Location) Key() Key {
	if l.Kind == KindSMB && l.Share != "" {
		return Key(fmt.Sprintf("smb:%s:%d/%s", l.Host, l.Port, l.Share))
	}

	if l.Kind == KindLocal {
		return Key("local")
	}

	return Key(fmt.Sprintf("%s:%s:%d", l.Kind, l.Host, l.Port))
}

// String reassembles the location into its canonical scheme-qualified form.
func (l Location) String() string {
	switch l.Kind {
	case KindLocal:
		return l.Path
	case KindSMB:
		if l.Share == "" {
			return fmt.Sprintf("smb://%s%s", hostport(l.Host, l.Port, DefaultPortSMB), pathSuffix(l.Path))
		}

		return fmt.Sprintf("smb://%s/%s%s", hostport(l.Host, l.Port, DefaultPortSMB), l.Share, pathSuffix(l.Path))
	case KindSFTP:
		return fmt.Sprintf("sftp://%s%s", hostport(l.Host, l.Port, DefaultPortSFTP), pathSuffix(l.Path))
	case KindFTP:
		return fmt.Sprintf("ftp://%s%s", hostport(l.Host, l.Port, DefaultPortFTP), pathSuffix(l.Path))
	case KindCloud:
		return fmt.Sprintf("cloud://%s%s", l.Host, pathSuffix(l.Path))
	default:
		return l.Path
	}
}

func hostport(host string, port, def int) string {
	if port == 0 || port == def {
		return host
	}

	return fmt.Sprintf("%s:%d", host, port)
}

func pathSuffix(p string) string {
	if p == "" {
		return ""
	}

	return "/" + p
}
