package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/subosito/gotenv"
)

// DefaultEnvFilename is read for environment overrides when present.
const DefaultEnvFilename = ".env"

// LoadEnvFile exports the variables of a dotenv file into the process
// environment. Variables already set in the environment win. An empty path
// reads DefaultEnvFilename and ignores its absence.
func LoadEnvFile(path string) error {
	optional := path == ""
	if optional {
		path = DefaultEnvFilename
	}

	if err := gotenv.Load(filepath.Clean(path)); err != nil {
		if optional && errors.Is(err, os.ErrNotExist) {
			return nil
		}

		return fmt.Errorf("load env file: %w", err)
	}

	return nil
}

// ApplyEnv applies environment overrides.
func ApplyEnv(cfg *Config) {
	if key := strings.TrimSpace(os.Getenv(SSHKeyEnv)); key != "" {
		cfg.SSHKeyPath = key
	}
}
