package config

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// DefaultDataDir is used when neither --data-dir nor TGBRIDGE_DATA_DIR is set.
const DefaultDataDir = "~/.tgbridge"

// Paths locates every file the bridge owns under one data directory:
//
//	<data>/config.json        config document
//	<data>/.env               optional env file (TELEGRAM_BOT_TOKEN, ...)
//	<data>/logs/<key>.log     per-conversation JSONL history
//	<data>/typing/<id>.done   completion markers
//	<data>/media/             downloaded photos and documents
//	<data>/user-cache.json    user name snapshot
type Paths struct {
	DataDir    string
	ConfigFile string
}

// ResolvePaths picks the data dir (flag, then env, then default) and the
// config file (flag, then env, then <data>/config.json).
func ResolvePaths(dataDirFlag, configFlag string) Paths {
	dataDir := dataDirFlag
	if dataDir == "" {
		dataDir = os.Getenv("TGBRIDGE_DATA_DIR")
	}
	if dataDir == "" {
		dataDir = DefaultDataDir
	}
	dataDir = ExpandHome(dataDir)

	cfgFile := configFlag
	if cfgFile == "" {
		cfgFile = os.Getenv("TGBRIDGE_CONFIG")
	}
	if cfgFile == "" {
		cfgFile = filepath.Join(dataDir, "config.json")
	}
	return Paths{DataDir: dataDir, ConfigFile: ExpandHome(cfgFile)}
}

func (p Paths) EnvFile() string       { return filepath.Join(p.DataDir, ".env") }
func (p Paths) LogsDir() string       { return filepath.Join(p.DataDir, "logs") }
func (p Paths) TypingDir() string     { return filepath.Join(p.DataDir, "typing") }
func (p Paths) MediaDir() string      { return filepath.Join(p.DataDir, "media") }
func (p Paths) UserCacheFile() string { return filepath.Join(p.DataDir, "user-cache.json") }

// LoadEnvFile loads <data>/.env into the process environment. Variables that
// are already set win over the file. A missing file is not an error.
func (p Paths) LoadEnvFile() {
	path := p.EnvFile()
	if _, err := os.Stat(path); err != nil {
		return
	}
	if err := godotenv.Load(path); err != nil {
		slog.Warn("config: failed to load env file", "path", path, "error", err)
	}
}
