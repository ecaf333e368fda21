package main

import (
	"fmt"
	"os"
	"path/filepath"
)

// senscordFilePathEnv lists search directories for the default config file
// name, per §6 ("Environment: SENSCORD_FILE_PATH"). Entries are separated
// by the platform's path list separator, matching PATH-style env vars.
const senscordFilePathEnv = "SENSCORD_FILE_PATH"

const defaultConfigName = "senscord_server.xml"

// resolveConfigPath returns the config file to load: explicit takes
// precedence; otherwise it searches SENSCORD_FILE_PATH for
// defaultConfigName-with-a-recognized-extension, since this binary accepts
// JSON/YAML rather than the XML the reference server's external config
// parser reads (§1's XML parser is explicitly out of scope). An empty
// result means "run with built-in defaults".
func resolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file %s: %w", explicit, err)
		}
		return explicit, nil
	}

	searchPath := os.Getenv(senscordFilePathEnv)
	if searchPath == "" {
		return "", nil
	}
	for _, dir := range filepath.SplitList(searchPath) {
		for _, ext := range []string{".json", ".yaml", ".yml"} {
			candidate := filepath.Join(dir, defaultConfigName[:len(defaultConfigName)-len(filepath.Ext(defaultConfigName))]+ext)
			if _, err := os.Stat(candidate); err == nil {
				return candidate, nil
			}
		}
	}
	return "", nil
}
