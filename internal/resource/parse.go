package resource

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// ErrBadPath is returned for paths without a recognized scheme or with a
// malformed host/port section. Callers must treat it as a configuration
// error, never as transient.
var ErrBadPath = errors.New("resource: unrecognized path")

// Parse splits a scheme-qualified path into its Location. Recognized forms:
//
//	smb://host[:port]/share/path...
//	sftp://host[:port]/path...
//	ftp://host[:port]/path...
//	cloud://account/folder-id...
//	file:///abs/path or a bare absolute/relative local path
//
// Remote paths are NFC-normalized so that byte-wise comparison of paths
// returned by macOS clients (NFD) and servers (NFC) behaves.
func Parse(raw string) (Location, error) {
	if raw == "" {
		return Location{}, fmt.Errorf("%w: empty path", ErrBadPath)
	}

	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok {
		// Bare paths are local. A lone "scheme:" prefix without slashes is
		// rejected rather than guessed at.
		if strings.Contains(raw, "://") || looksLikeScheme(raw) {
			return Location{}, fmt.Errorf("%w: %q", ErrBadPath, raw)
		}

		return Location{Kind: KindLocal, Path: raw}, nil
	}

	rest = norm.NFC.String(rest)

	switch scheme {
	case "file":
		return Location{Kind: KindLocal, Path: "/" + strings.TrimPrefix(rest, "/")}, nil
	case "smb":
		return parseSMB(rest)
	case "sftp":
		return parseHostPath(KindSFTP, rest, DefaultPortSFTP)
	case "ftp":
		return parseHostPath(KindFTP, rest, DefaultPortFTP)
	case "cloud":
		return parseCloud(rest)
	default:
		return Location{}, fmt.Errorf("%w: unknown scheme %q", ErrBadPath, scheme)
	}
}

// looksLikeScheme reports whether the string starts with "word:" which is
// almost certainly a typoed scheme rather than a relative local path.
func looksLikeScheme(s string) bool {
	i := strings.IndexByte(s, ':')
	if i <= 0 {
		return false
	}

	for _, r := range s[:i] {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') {
			return false
		}
	}

	return true
}

func parseSMB(rest string) (Location, error) {
	hostPart, pathPart, _ := strings.Cut(rest, "/")

	host, port, err := splitHostPort(hostPart, DefaultPortSMB)
	if err != nil {
		return Location{}, err
	}

	share, sub, _ := strings.Cut(pathPart, "/")
	if share == "" {
		return Location{}, fmt.Errorf("%w: smb path %q missing share", ErrBadPath, rest)
	}

	return Location{Kind: KindSMB, Host: host, Port: port, Share: share, Path: sub}, nil
}

func parseHostPath(kind Kind, rest string, defaultPort int) (Location, error) {
	hostPart, pathPart, _ := strings.Cut(rest, "/")

	host, port, err := splitHostPort(hostPart, defaultPort)
	if err != nil {
		return Location{}, err
	}

	return Location{Kind: kind, Host: host, Port: port, Path: pathPart}, nil
}

// parseCloud treats the host segment as the account/drive identifier and the
// remainder as an opaque folder-id path. Cloud paths have no port.
func parseCloud(rest string) (Location, error) {
	account, pathPart, _ := strings.Cut(rest, "/")
	if account == "" {
		return Location{}, fmt.Errorf("%w: cloud path missing account", ErrBadPath)
	}

	return Location{Kind: KindCloud, Host: account, Path: pathPart}, nil
}

func splitHostPort(hostPart string, defaultPort int) (string, int, error) {
	if hostPart == "" {
		return "", 0, fmt.Errorf("%w: missing host", ErrBadPath)
	}

	if !strings.Contains(hostPart, ":") {
		return hostPart, defaultPort, nil
	}

	host, portStr, err := net.SplitHostPort(hostPart)
	if err != nil {
		return "", 0, fmt.Errorf("%w: bad host %q: %v", ErrBadPath, hostPart, err)
	}

	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return "", 0, fmt.Errorf("%w: bad port %q", ErrBadPath, portStr)
	}

	return host, port, nil
}
