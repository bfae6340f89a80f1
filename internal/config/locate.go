package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// AppDirName is the per-user directory name under the XDG config home.
const AppDirName = "repowatch"

var candidateNames = []string{
	"repowatch.yaml",
	"repowatch.yml",
	"repowatch.json",
	"repowatch.cfg",
	"svnnotify.cfg",
}

// Locate resolves the config file path.
//
// An explicit path wins and must exist. Otherwise the working directory is
// searched first, then $XDG_CONFIG_HOME/repowatch (or ~/.config/repowatch).
func Locate(explicit string) (string, error) {
	if p := strings.TrimSpace(explicit); p != "" {
		if _, err := os.Stat(p); err != nil {
			return "", fmt.Errorf("%w: config file %s: %v", ErrConfig, p, err)
		}
		return p, nil
	}

	dirs := []string{"."}
	if d, err := userConfigDir(); err == nil {
		dirs = append(dirs, filepath.Join(d, AppDirName))
	}
	for _, dir := range dirs {
		for _, name := range candidateNames {
			p := filepath.Join(dir, name)
			if st, err := os.Stat(p); err == nil && st.Mode().IsRegular() {
				return p, nil
			}
		}
	}
	return "", fmt.Errorf("%w: no configuration file found (searched %s)", ErrConfig, strings.Join(dirs, ", "))
}

func userConfigDir() (string, error) {
	if d := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); d != "" {
		return d, nil
	}
	d, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	if d == "" {
		return "", errors.New("user config dir not available")
	}
	return d, nil
}

// DefaultStoragePath picks the watermark location when storage.path is empty.
// Legacy files keep their watermarks next to the repositories, like svnnotify did.
func DefaultStoragePath(cfgPath string) string {
	if isLegacyPath(cfgPath) {
		return cfgPath
	}
	dir := filepath.Dir(cfgPath)
	base := strings.TrimSuffix(filepath.Base(cfgPath), filepath.Ext(cfgPath))
	return filepath.Join(dir, base+".state")
}
