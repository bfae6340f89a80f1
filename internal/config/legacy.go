package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"gopkg.in/ini.v1"
)

// Legacy svnnotify layout: one section per repository.
//
//	[ServerName]
//	server=SVN_REPO_TO_MONITOR
//	user=YOUR_SVN_USERNAME
//	pass=YOUR_SVN_PASSWORD
//
// The same file historically also carried last_revision per section; that key
// belongs to the watermark store and is ignored here.
const (
	legacyKeyServer = "server"
	legacyKeyUser   = "user"
	legacyKeyPass   = "pass"
	legacyKeyKind   = "kind"
	legacyKeyBranch = "branch"
)

func isLegacyPath(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".cfg", ".ini", ".conf":
		return true
	default:
		return false
	}
}

func parseLegacy(data []byte) (*Config, error) {
	f, err := ini.LoadSources(ini.LoadOptions{IgnoreInlineComment: true}, data)
	if err != nil {
		return nil, fmt.Errorf("ini: %w", err)
	}

	cfg := &Config{}
	for _, sec := range f.Sections() {
		if sec.Name() == ini.DefaultSection {
			continue
		}
		// Own keys only: "[a.b]" must not inherit "[a]"'s server.
		keys := sec.KeysHash()
		server, ok := keys[legacyKeyServer]
		if !ok {
			return nil, fmt.Errorf("section [%s]: missing %q", sec.Name(), legacyKeyServer)
		}
		cfg.Repositories = append(cfg.Repositories, Repository{
			Name:     sec.Name(),
			URL:      server,
			Kind:     keys[legacyKeyKind],
			Branch:   keys[legacyKeyBranch],
			Username: keys[legacyKeyUser],
			Password: keys[legacyKeyPass],
		})
	}
	return cfg, nil
}
