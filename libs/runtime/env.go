package runtime

import "os"

func Getenv(key, fallback string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	return v
}

// HomeDir returns the per-user state directory for the client, creating it
// with owner-only permissions when missing.
func HomeDir(override string) (string, error) {
	dir := override
	if dir == "" {
		base, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = base + string(os.PathSeparator) + ".fedsync"
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return dir, nil
}
