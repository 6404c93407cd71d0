package common

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Laisky/zap"

	"github.com/routecodex/routecodex/common/config"
	"github.com/routecodex/routecodex/common/logger"
)

var (
	Port         = flag.Int("port", 8080, "the listening port")
	ConfigFile   = flag.String("config", "", "path to the pool/provider YAML config (overrides ROUTECODEX_CONFIG)")
	PrintVersion = flag.Bool("version", false, "print version and exit")
	LogDir       = flag.String("log-dir", "./logs", "specify the log directory")
	Restart      = flag.Bool("restart", false, "stop a managed process holding the port before starting")
)

func Init() {
	flag.Parse()

	if *PrintVersion {
		fmt.Println(Version)
		os.Exit(0)
	}

	if *ConfigFile != "" {
		config.ConfigPath = *ConfigFile
	}

	if *LogDir != "" {
		expanded := expandLogDirPath(*LogDir)
		lg := logger.Logger.With(zap.String("log_dir", expanded))
		lg.Debug("starting to set log dir")

		var err error
		expanded, err = filepath.Abs(expanded)
		if err != nil {
			lg.Fatal("failed to get absolute log dir", zap.Error(err))
		}

		if err = os.MkdirAll(expanded, 0o777); err != nil {
			lg.Fatal("failed to create log dir", zap.Error(err))
		}

		lg.Info("set log dir", zap.String("log_dir", expanded))
		logger.LogDir = expanded
		*LogDir = expanded
	}
}
