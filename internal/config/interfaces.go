package config

import "context"

// SecretProvider resolves secret parameter paths to plaintext values. SSM
// Parameter Store backs it in deployed environments; EnvVarProvider backs it
// locally.
type SecretProvider interface {
	// GetParametersBatch returns path -> value for every path it could
	// resolve. Missing paths are omitted rather than reported as errors.
	GetParametersBatch(ctx context.Context, keys []string) (map[string]string, error)
}
