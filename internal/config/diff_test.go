package config_test

import (
	"testing"

	"github.com/stagecast/switchpilot/internal/config"
)

func baseConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			ListenAddr: ":8080",
			LogLevel:   config.LogInfo,
		},
		Device: config.DeviceConfig{
			GatewayURL: "ws://localhost:9910",
		},
		AutoSwitch: config.AutoSwitchConfig{
			HoldMs:     1000,
			CooldownMs: 2000,
		},
	}
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	old := baseConfig()
	new := baseConfig()
	d := config.Diff(old, new)
	if d.LogLevelChanged || d.AutoSwitchChanged {
		t.Errorf("identical configs should produce an empty diff, got %+v", d)
	}
}

func TestDiff_LogLevelChange(t *testing.T) {
	t.Parallel()
	old := baseConfig()
	new := baseConfig()
	new.Server.LogLevel = config.LogDebug

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Fatal("LogLevelChanged should be true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("NewLogLevel = %q, want debug", d.NewLogLevel)
	}
	if d.AutoSwitchChanged {
		t.Error("AutoSwitchChanged should be false")
	}
}

func TestDiff_AutoSwitchChange(t *testing.T) {
	t.Parallel()
	old := baseConfig()
	new := baseConfig()
	new.AutoSwitch.CooldownMs = 3000

	d := config.Diff(old, new)
	if !d.AutoSwitchChanged {
		t.Fatal("AutoSwitchChanged should be true")
	}
	if d.NewAutoSwitch.CooldownMs != 3000 {
		t.Errorf("NewAutoSwitch.CooldownMs = %d, want 3000", d.NewAutoSwitch.CooldownMs)
	}
}

func TestDiff_RestartOnlyFieldsIgnored(t *testing.T) {
	t.Parallel()
	old := baseConfig()
	new := baseConfig()
	new.Server.ListenAddr = ":9090"
	new.Device.GatewayURL = "ws://other:9910"

	d := config.Diff(old, new)
	if d.LogLevelChanged || d.AutoSwitchChanged {
		t.Errorf("restart-only fields should not appear in the diff, got %+v", d)
	}
}
