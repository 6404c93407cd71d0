package common

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/Laisky/zap"

	"github.com/routecodex/routecodex/common/logger"
)

var windowsEnvPattern = regexp.MustCompile(`%([A-Za-z0-9_]+)%`)

// expandLogDirPath resolves environment-variable placeholders and a
// leading "~" in log directory paths. The gateway keeps all of its state
// under $HOME/.routecodex, so a %DATA_DIR% placeholder with no matching
// environment variable lands there too instead of a fixed system path.
func expandLogDirPath(path string) string {
	logger.Logger.Debug("expand log dir path", zap.String("path", path))
	if path == "" {
		return ""
	}

	expanded := os.ExpandEnv(path)

	if expanded == "~" || strings.HasPrefix(expanded, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			expanded = filepath.Join(home, strings.TrimPrefix(expanded, "~"))
		}
	}

	expanded = windowsEnvPattern.ReplaceAllStringFunc(expanded, func(match string) string {
		key := strings.Trim(match, "%")
		if val, ok := os.LookupEnv(key); ok && val != "" {
			return val
		}
		if key == "DATA_DIR" {
			return StateRoot()
		}
		return match
	})

	return expanded
}

// StateRoot is the directory the gateway's persistent state lives under:
// $HOME/.routecodex, or ./data when the home directory cannot be resolved.
func StateRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "data"
	}
	return filepath.Join(home, ".routecodex")
}
