package config

import (
	"fmt"
	"os"
	"strings"
)

// Environment overrides, applied after the file is decoded. They let
// secrets stay out of the config file.
const (
	EnvTelegramToken  = "TELEGRAM_TOKEN"
	EnvPlankaHost     = "PLANKA_HOST"
	EnvPlankaPort     = "PLANKA_PORT"
	EnvPlankaProtocol = "PLANKA_PROTOCOL"
	EnvPlankaUsername = "PLANKA_USERNAME"
	EnvPlankaPassword = "PLANKA_PASSWORD"
	EnvSecretKey      = "PLANKABOT_SECRET_KEY"
)

// ApplyEnv overlays non-empty environment variables read through getenv.
// PLANKA_HOST, with optional PLANKA_PORT and PLANKA_PROTOCOL (default http),
// replaces planka.url.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	if cfg == nil {
		return
	}
	if getenv == nil {
		getenv = os.Getenv
	}
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&cfg.Telegram.Token, EnvTelegramToken)
	set(&cfg.Planka.Username, EnvPlankaUsername)
	set(&cfg.Planka.Password, EnvPlankaPassword)
	set(&cfg.Storage.SecretKey, EnvSecretKey)

	if host := strings.TrimSpace(getenv(EnvPlankaHost)); host != "" {
		proto := strings.TrimSpace(getenv(EnvPlankaProtocol))
		if proto == "" {
			proto = "http"
		}
		u := fmt.Sprintf("%s://%s", proto, host)
		if port := strings.TrimSpace(getenv(EnvPlankaPort)); port != "" {
			u += ":" + port
		}
		cfg.Planka.URL = u
	}
}
