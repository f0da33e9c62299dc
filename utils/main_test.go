package utils

import (
	"testing"

	"go.uber.org/goleak"

	"github.com/myrightwindow/rightwindow/config"
)

func TestMain(m *testing.M) {
	config.Set(config.AppConfig{
		JWTSecret:               "test-secret",
		LogLevel:                "silent",
		LoginMaxFailuresPerHour: 3,
		LoginBanMinutes:         30,
	})
	goleak.VerifyTestMain(m)
}
