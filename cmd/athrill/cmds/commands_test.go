package cmds

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/athrill-go/athrill/pkg/config"
	"github.com/athrill-go/athrill/pkg/emulator"
	"github.com/athrill-go/athrill/pkg/mpu"
)

func TestResolveArch(t *testing.T) {
	if got, err := resolveArch("rh850"); err != nil || got != "rh850" {
		t.Fatalf("got %q %v, want rh850", got, err)
	}
	names := emulator.Arches()
	got, err := resolveArch("")
	switch len(names) {
	case 1:
		if err != nil || got != names[0] {
			t.Fatalf("got %q %v, want %q", got, err, names[0])
		}
	default:
		if err == nil {
			t.Fatalf("expected error with architectures %v", names)
		}
	}
}

func TestDebuggerConfig(t *testing.T) {
	defer func(m, a string) { memoryConfig, arch = m, a }(memoryConfig, arch)

	conf := &config.Config{MallocFreePolicy: "strict", MallocUnitSize: 4, MemoryProtection: true}
	memoryConfig, arch = "", "rh850"
	if _, err := debuggerConfig("a.elf", conf); err == nil || !strings.Contains(err.Error(), "-m") {
		t.Fatalf("expected missing memory configuration error, got %v", err)
	}

	memoryConfig = "memory.yaml"
	cfg, err := debuggerConfig("a.elf", conf)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Program != "a.elf" || cfg.Arch != "rh850" || cfg.MallocUnitSize != 4096 || cfg.FreePolicy != mpu.FreeStrict || !cfg.Protection {
		t.Fatalf("unexpected configuration %#v", cfg)
	}

	conf.MallocFreePolicy = "sometimes"
	if _, err := debuggerConfig("a.elf", conf); err == nil {
		t.Fatal("expected free policy error")
	}
}

func TestOpLogPath(t *testing.T) {
	dir := t.TempDir()
	devcfg := filepath.Join(dir, "device_config.txt")
	if err := os.WriteFile(devcfg, []byte("DEBUG_FUNC_OPLOG \"./my oplog.txt\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if got, err := opLogPath(&config.Config{OpLog: "conf.txt"}, devcfg); err != nil || got != "conf.txt" {
		t.Fatalf("got %q %v, want conf.txt", got, err)
	}
	if got, err := opLogPath(&config.Config{}, devcfg); err != nil || got != "./my oplog.txt" {
		t.Fatalf("got %q %v, want ./my oplog.txt", got, err)
	}
	if got, err := opLogPath(&config.Config{}, ""); err != nil || got != "" {
		t.Fatalf("got %q %v, want no oplog", got, err)
	}
	if _, err := opLogPath(&config.Config{}, filepath.Join(dir, "missing.txt")); err == nil {
		t.Fatal("expected error for a missing device configuration")
	}
}
