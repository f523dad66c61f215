// SPDX-License-Identifier: MPL-2.0

package invoke

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// LoadEnvFile reads a dotenv file and returns a lookup that prefers the shell:
// a variable set in shell wins over the file. A path ending in '?' is
// optional; a missing optional file yields shell unchanged.
func LoadEnvFile(path string, shell func(string) (string, bool)) (func(string) (string, bool), error) {
	optional := strings.HasSuffix(path, "?")
	path = strings.TrimSuffix(path, "?")

	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current working directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	file, err := godotenv.Read(path)
	if err != nil {
		if optional && os.IsNotExist(err) {
			return shell, nil
		}
		return nil, fmt.Errorf("failed to read env file '%s': %w", path, err)
	}

	return func(key string) (string, bool) {
		if v, ok := shell(key); ok {
			return v, true
		}
		v, ok := file[key]
		return v, ok
	}, nil
}
