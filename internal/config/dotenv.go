package config

import (
	"bufio"
	"os"
	"strings"
)

// LoadDotEnv loads KEY=VALUE pairs from a local env file into the process
// environment. Variables that are already set win, so a deployed service is
// never reconfigured by a stray .env. A missing file is not an error worth
// acting on; callers ignore the return value in practice.
func LoadDotEnv(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		key, value, ok := parseEnvLine(sc.Text())
		if !ok {
			continue
		}
		if _, exists := os.LookupEnv(key); !exists {
			os.Setenv(key, value)
		}
	}
	return sc.Err()
}

// parseEnvLine splits one .env line into a key/value pair. Blank lines,
// comments and lines without '=' are skipped. An optional "export " prefix
// and surrounding quotes on the value are tolerated.
func parseEnvLine(line string) (key, value string, ok bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", "", false
	}
	line = strings.TrimPrefix(line, "export ")

	key, value, found := strings.Cut(line, "=")
	if !found {
		return "", "", false
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", "", false
	}
	value = strings.Trim(strings.TrimSpace(value), `"'`)
	return key, value, true
}
