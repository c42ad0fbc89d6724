// Package account holds the server's single account record.
package account

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"strings"

	"startd/cmd/internal/db"
	"startd/cmd/internal/errs"
)

// Info is the account record cached by the hub.
type Info struct {
	ServerID     string
	Hostname     string
	PasswordHash string
	TorKey       ed25519.PrivateKey
}

// String omits the password hash and tor key.
func (i Info) String() string {
	return fmt.Sprintf("account{server_id=%s hostname=%s}", i.ServerID, i.Hostname)
}

// Load reads the account record from the document database.
func Load(ctx context.Context, store db.Store) (Info, error) {
	const op = "account.load"

	m, err := store.Peek(ctx)
	if err != nil {
		return Info{}, err
	}
	return FromModel(op, m)
}

// FromModel extracts Info from a document snapshot.
func FromModel(op string, m db.Model) (Info, error) {
	info := Info{
		ServerID:     m.Public.ServerInfo.ID,
		Hostname:     strings.TrimSpace(m.Public.ServerInfo.Hostname),
		PasswordHash: m.Private.Password,
	}
	if info.Hostname == "" {
		return Info{}, errs.New(op, errs.ErrDatabase, "hostname missing")
	}

	if raw := strings.TrimSpace(m.Private.TorKey); raw != "" {
		key, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return Info{}, errs.Wrap(op, errs.ErrDatabase, fmt.Errorf("tor key: %w", err))
		}
		switch len(key) {
		case ed25519.SeedSize:
			info.TorKey = ed25519.NewKeyFromSeed(key)
		case ed25519.PrivateKeySize:
			info.TorKey = ed25519.PrivateKey(key)
		default:
			return Info{}, errs.New(op, errs.ErrDatabase, "tor key has wrong length")
		}
	}
	return info, nil
}

// EncodeTorKey is the inverse of the decoding in FromModel.
func EncodeTorKey(key ed25519.PrivateKey) string {
	return base64.StdEncoding.EncodeToString(key.Seed())
}
