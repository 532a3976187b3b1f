package xclient

import "context"

// Credentials carries the bearer token and CSRF token the bookmarks API
// requires on every call.
type Credentials struct {
	Bearer string
	CSRF   string
}

// CredentialProvider retrieves credentials from wherever the host keeps
// them. A failed retrieval surfaces as ErrAuthRequired from the client,
// never as a crash.
type CredentialProvider interface {
	Credentials(ctx context.Context) (Credentials, error)
}

// StaticCredentials is a CredentialProvider over fixed values, used for
// config-supplied tokens and in tests.
type StaticCredentials Credentials

func (s StaticCredentials) Credentials(ctx context.Context) (Credentials, error) {
	if s.Bearer == "" {
		return Credentials{}, ErrAuthRequired
	}
	return Credentials(s), nil
}
