package internal

import (
	"fmt"

	"github.com/vikrant48/timepass-chat/pkg/config"
)

const Logo = "💬"

var (
	version   = "dev"
	gitCommit string
)

func GetVersion() string {
	return version
}

// FormatVersion returns the version string with optional git commit.
func FormatVersion() string {
	v := version
	if gitCommit != "" {
		v += fmt.Sprintf(" (git: %s)", gitCommit)
	}
	return v
}

func LoadConfig() (*config.Config, error) {
	return config.LoadConfig(config.DefaultConfigPath())
}

// RequireAuth fails with a setup hint when the config carries no identity.
func RequireAuth(cfg *config.Config) error {
	if cfg.Auth.UserID == "" || cfg.Auth.Token == "" {
		return fmt.Errorf("no credentials configured: set auth.user_id and auth.token in %s "+
			"or export TIMEPASS_USER_ID and TIMEPASS_TOKEN", config.DefaultConfigPath())
	}
	return nil
}
