package app

import (
	"strings"

	"motorsched/internal/config"
	"motorsched/internal/dispatch"
	"motorsched/internal/observability/diag"
	"motorsched/internal/storage"
	logx "motorsched/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapDispatchConfig(cfg *config.Config) (dispatch.Config, error) {
	tick, err := cfg.DispatcherTick()
	if err != nil {
		return dispatch.Config{}, err
	}
	return dispatch.Config{Tick: tick, Timezone: strings.TrimSpace(cfg.Dispatcher.Timezone)}, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	busy, err := cfg.StorageBusyTimeout()
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)),
		Path:        strings.TrimSpace(cfg.Storage.Path),
		BusyTimeout: busy,
		Retain:      cfg.Storage.Retain,
	}, nil
}

func mapDiagConfig(cfg *config.Config) diag.Config {
	d := cfg.Diagnostics
	return diag.Config{Enabled: d.Enabled, Addr: d.Addr, Prefix: d.Prefix, Token: d.Token}
}
