package credential

import (
	"fmt"
	"time"

	"github.com/mgmtsuite/mailsync/internal/connector"
	"github.com/mgmtsuite/mailsync/internal/crypto"
	"github.com/mgmtsuite/mailsync/internal/store"
)

// Resolver turns stored account rows into connection parameters. The
// decrypted password lives only in the Params handed to the connector;
// nothing else sees it.
type Resolver struct {
	enc            *crypto.Encryptor
	connectTimeout time.Duration
	commandTimeout time.Duration
}

// NewResolver creates a resolver using the given encryptor and timeouts.
func NewResolver(enc *crypto.Encryptor, connectTimeout, commandTimeout time.Duration) *Resolver {
	return &Resolver{
		enc:            enc,
		connectTimeout: connectTimeout,
		commandTimeout: commandTimeout,
	}
}

// Seal encrypts a plaintext password for storage on the account row.
func (r *Resolver) Seal(password string) (string, error) {
	return r.enc.Encrypt(password)
}

// Params resolves the connection parameters for an account.
func (r *Resolver) Params(a *store.Account) (connector.Params, error) {
	password, err := r.enc.Decrypt(a.PasswordEnc)
	if err != nil {
		return connector.Params{}, fmt.Errorf("decrypting credentials for account %d: %w", a.ID, err)
	}

	return connector.Params{
		Host:           a.Host,
		Port:           a.Port,
		Username:       a.Username,
		Password:       password,
		Security:       a.Security,
		ConnectTimeout: r.connectTimeout,
		CommandTimeout: r.commandTimeout,
	}, nil
}
