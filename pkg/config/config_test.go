package config

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigCreatesDefault(t *testing.T) {
	dir, err := ioutil.TempDir("", "mosdbg-config")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)
	old := os.Getenv("XDG_CONFIG_HOME")
	os.Setenv("XDG_CONFIG_HOME", dir)
	defer os.Setenv("XDG_CONFIG_HOME", old)

	conf, err := LoadConfig()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, configDir, configFile)); err != nil {
		t.Fatalf("default config not written: %v", err)
	}
	if conf.SymbolPrefix() != DefaultImaginarySymbolPrefix {
		t.Errorf("SymbolPrefix() = %q", conf.SymbolPrefix())
	}
	if conf.FPSlot() != DefaultFramePointerSlot {
		t.Errorf("FPSlot() = %d", conf.FPSlot())
	}
}

func TestLoadConfigFile(t *testing.T) {
	f, err := ioutil.TempFile("", "mosdbg-config-*.yml")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(f.Name())
	f.WriteString("imaginary-symbol-prefix: __zp\nframe-pointer-slot: 0\nstub-address: localhost:6502\naliases:\n  print: [\"pp\"]\n")
	f.Close()

	conf, err := LoadConfigFile(f.Name())
	if err != nil {
		t.Fatal(err)
	}
	if conf.SymbolPrefix() != "__zp" {
		t.Errorf("SymbolPrefix() = %q", conf.SymbolPrefix())
	}
	if conf.FPSlot() != 0 {
		t.Errorf("FPSlot() = %d", conf.FPSlot())
	}
	if conf.StubAddress != "localhost:6502" {
		t.Errorf("StubAddress = %q", conf.StubAddress)
	}
	if len(conf.Aliases["print"]) != 1 || conf.Aliases["print"][0] != "pp" {
		t.Errorf("Aliases = %v", conf.Aliases)
	}
}

func TestValidate(t *testing.T) {
	bad := 200
	for _, c := range []*Config{
		{FramePointerSlot: &bad},
		{Color: "sometimes"},
	} {
		if err := c.Validate(); err == nil {
			t.Errorf("expected error for %+v", c)
		}
	}
	var nilConf *Config
	if nilConf.FPSlot() != DefaultFramePointerSlot || nilConf.SymbolPrefix() != DefaultImaginarySymbolPrefix {
		t.Errorf("nil config should yield defaults")
	}
}
