package config

import (
	"strings"

	logx "motorsched/pkg/logx"
)

// SummarizeConfigChange returns the changed sections and safe structured
// attrs for logging. Tokens are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	changed := make([]string, 0, 5)
	attrs := make([]logx.Field, 0, 12)

	if oldCfg.Serial != newCfg.Serial {
		changed = append(changed, "serial")
		attrs = append(attrs,
			logx.String("serial.port", newCfg.Serial.Port),
			logx.Int("serial.baud", newCfg.Serial.Baud),
		)
	}
	if oldCfg.Dispatcher != newCfg.Dispatcher {
		changed = append(changed, "dispatcher")
		attrs = append(attrs,
			logx.String("dispatcher.tick", newCfg.Dispatcher.Tick),
			logx.String("dispatcher.timezone", newCfg.Dispatcher.Timezone),
		)
	}
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}
	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", newCfg.Storage.Driver),
			logx.Int("storage.retain", newCfg.Storage.Retain),
		)
	}
	oldD, newD := oldCfg.Diagnostics, newCfg.Diagnostics
	if oldD.Enabled != newD.Enabled || oldD.Addr != newD.Addr || oldD.Prefix != newD.Prefix || oldD.Token != newD.Token {
		changed = append(changed, "diagnostics")
		attrs = append(attrs,
			logx.Bool("diagnostics.enabled", newD.Enabled),
			logx.String("diagnostics.addr", newD.Addr),
			logx.Bool("diagnostics.token_set", strings.TrimSpace(newD.Token) != ""),
		)
	}
	return changed, attrs
}
