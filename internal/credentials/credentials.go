// Package credentials persists protocol secrets and resolves them for
// scheme-qualified paths. The store is SQLite-backed; secret encryption at
// rest belongs to the platform keystore layered underneath and is opaque
// here. At most one record is authoritative per (protocol, server, port).
package credentials

import (
	"errors"

	"github.com/mkuusisto/unifs/internal/resource"
)

// ErrNotFound means no credential record matches. Callers must treat it as
// a configuration error, not a transient fault.
var ErrNotFound = errors.New("credentials: no matching record")

// Credentials is the protocol-specific secret bundle for one endpoint.
// Cloud endpoints carry only TokenRef, a key into the auth token store;
// the other fields serve SMB/SFTP/FTP.
type Credentials struct {
	ID       int64
	Protocol resource.Kind
	Server   string
	Port     int
	Username string
	Password string
	Domain   string // SMB workgroup/domain
	Share    string // SMB share this record is scoped to, empty = whole host

	// PrivateKey is a PEM-encoded SFTP key. Opaque to the engine.
	PrivateKey []byte

	// TokenRef names the token file for cloud endpoints.
	TokenRef string
}
