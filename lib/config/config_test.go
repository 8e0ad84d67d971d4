// config_test.go tests config files
package config

import (
	"testing"
)

// fileToTest is a relative path to the configuration file to test (ie. lnnode/cmd/conf.json)
var fileToTest string = "../../cmd/conf.json"

// TestConfig extracts config from a file and checks values loaded
func TestConfig(t *testing.T) {
	//extract configuration
	conf, err := ExtractConfiguration(fileToTest)
	if err != nil {
		t.Errorf("Error reading config file:%e\n", err)
	} else {
		// lets check the port
		if conf.Port != "33335" {
			t.Errorf("config port is not the expected %s", conf.Port)
		}
		// and the collaborators
		if conf.Wallet.Type != "bitcoind" || conf.Wallet.Host != "localhost:18443" {
			t.Errorf("wallet does not match the expected %+v", conf.Wallet)
		}
		if conf.Engine.Type != "lnd" || conf.Engine.Host != "localhost:10009" {
			t.Errorf("engine does not match the expected %+v", conf.Engine)
		}
		// values missing in the file keep their default
		if conf.Seed != SeedDefault {
			t.Errorf("seed is not the default %s", conf.Seed)
		}
	}
}

// TestConfigEnv checks OS ENV variables override the values read from file.
func TestConfigEnv(t *testing.T) {
	t.Setenv("LNNODE_PORT", "4040")
	t.Setenv("LNNODE_WALLET_HOST", "remote:8332")
	t.Setenv("LNNODE_WORKERS", "3")

	conf, err := ExtractConfiguration(fileToTest)
	if err != nil {
		t.Fatalf("Error reading config:%e", err)
	}

	if conf.Port != "4040" || conf.Wallet.Host != "remote:8332" || conf.Workers != 3 {
		t.Errorf("env did not override config: %+v", conf)
	}
	// untouched values
	if conf.Wallet.User != "bitcoin" || conf.Network != "regtest" {
		t.Errorf("env overrode unexpected values: %+v", conf)
	}
}

// TestConfigNoFile checks defaults are returned when no file is given and an error when the file is missing.
func TestConfigNoFile(t *testing.T) {
	conf, err := ExtractConfiguration("")
	if err != nil || conf.Port != PortDefault || conf.DBType != DBTypeDefault {
		t.Errorf("unexpected defaults:%+v err:%e", conf, err)
	}

	if _, err = ExtractConfiguration("does-not-exist.json"); err == nil {
		t.Errorf("expected an error for a missing file")
	}
}
