package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// Secret is a credential. In TOML it is either a literal string, "file:<path>"
// to read it from a file, or "env:<NAME>" to read it from the environment.
type Secret string

func (s *Secret) UnmarshalText(text []byte) error {
	raw := string(text)

	switch {
	case strings.HasPrefix(raw, "file:"):
		path := strings.TrimPrefix(raw, "file:")
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read secret file %s: %w", path, err)
		}
		*s = Secret(strings.TrimSpace(string(data)))
	case strings.HasPrefix(raw, "env:"):
		name := strings.TrimPrefix(raw, "env:")
		value, ok := os.LookupEnv(name)
		if !ok {
			return fmt.Errorf("secret environment variable %s is not set", name)
		}
		*s = Secret(value)
	default:
		*s = Secret(raw)
	}
	return nil
}

func (s Secret) Value() string {
	return string(s)
}

func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "***"
}

func (s Secret) LogValue() slog.Value {
	return slog.StringValue(s.String())
}
