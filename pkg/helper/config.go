package helper

import (
	"os"
	"path/filepath"
)

// EnvConfigPath overrides the configured file when set
const EnvConfigPath = "CONFIG_PATH"

// SystemConfigDir is the last place a relative config name is looked up
const SystemConfigDir = "/etc/msgate"

// SearchPaths lists where a relative config name is looked for, in order.
func SearchPaths(filename string) []string {
	wd, err := os.Getwd()
	if err != nil {
		wd = "."
	}
	return []string{
		filepath.Join(wd, filename),
		filepath.Join(wd, "configs", filename),
		filepath.Join(SystemConfigDir, filename),
	}
}

// GetCfgPath resolves the configuration file. CONFIG_PATH wins, absolute names
// are used as given, and relative names go through SearchPaths. When nothing
// exists the system location is returned so the caller reports a useful path.
func GetCfgPath(filename string) string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	if filename == "" {
		panic("filename cannot be empty")
	}
	if filepath.IsAbs(filename) {
		return filename
	}

	candidates := SearchPaths(filename)
	for _, c := range candidates {
		if fi, err := os.Stat(c); err == nil && !fi.IsDir() {
			return c
		}
	}
	return candidates[len(candidates)-1]
}
