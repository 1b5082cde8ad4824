package llm

import (
	"fmt"

	"github.com/awnumar/memguard"
)

// Credential holds an API key sealed in a memguard enclave. The plaintext is
// only materialised while the client is being constructed.
type Credential struct {
	enclave *memguard.Enclave
}

// NewCredential seals secret. An empty secret yields an unset credential.
func NewCredential(secret string) *Credential {
	if secret == "" {
		return &Credential{}
	}
	// NewEnclave wipes the slice it is given, so hand it a private copy.
	return &Credential{enclave: memguard.NewEnclave([]byte(secret))}
}

// IsSet reports whether a key is present.
func (c *Credential) IsSet() bool {
	return c != nil && c.enclave != nil
}

// Reveal opens the enclave and returns a copy of the key.
func (c *Credential) Reveal() (string, error) {
	if !c.IsSet() {
		return "", ErrMissingCredential
	}
	buf, err := c.enclave.Open()
	if err != nil {
		return "", fmt.Errorf("open credential enclave: %w", err)
	}
	defer buf.Destroy()
	return string(buf.Bytes()), nil
}

// String never prints the key.
func (c *Credential) String() string {
	if !c.IsSet() {
		return "<unset>"
	}
	return "<redacted>"
}
