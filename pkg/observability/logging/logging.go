package logging

import (
	"go.uber.org/zap"
)

// Init installs the global zap logger at the given level ("debug", "info", ...).
func Init(level string) {
	cfg := zap.NewProductionConfig()
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		lvl = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	cfg.Level = lvl

	l, err := cfg.Build()
	if err != nil {
		panic(err)
	}

	zap.ReplaceGlobals(l)
}
