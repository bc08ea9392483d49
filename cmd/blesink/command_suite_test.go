package main

import (
	"bytes"
	"os"
	"path/filepath"

	"github.com/srg/blesink/internal/testutils"
)

// Test sensor addresses
var (
	saunaMAC   = [6]byte{0xCB, 0xB8, 0x33, 0x4C, 0x88, 0x4F}
	balconyMAC = [6]byte{0xD1, 0x02, 0x03, 0x04, 0x05, 0x06}
)

// isolatedEnv lists variables that would leak the developer's environment into Load.
var isolatedEnv = []string{
	"DATABASE_URL", "RUUVI_TAGS",
	"BLESINK_LOG_LEVEL", "BLESINK_LOG_FORMAT", "BLESINK_LOG_FILE", "BLESINK_ADAPTER",
	"BLESINK_DATABASE_URL", "BLESINK_DATABASE_DRIVER", "BLESINK_DATABASE_CA_FILE",
	"BLESINK_SQLITE_PATH", "BLESINK_DATABASE_ALLOW_INSECURE", "BLESINK_REGISTRY_PATH",
}

// CommandTestSuite runs commands against the scripted adapter of MockAdapterSuite.
// All cmd/blesink test suites should embed this.
type CommandTestSuite struct {
	testutils.MockAdapterSuite
}

func (s *CommandTestSuite) SetupTest() {
	s.MockAdapterSuite.SetupTest()
	for _, name := range isolatedEnv {
		s.T().Setenv(name, "")
	}
}

// WriteConfig stores a YAML config in the test's temp dir and returns its path.
func (s *CommandTestSuite) WriteConfig(yaml string) string {
	path := filepath.Join(s.T().TempDir(), "blesink.yaml")
	s.Require().NoError(os.WriteFile(path, []byte(yaml), 0o600), "config write MUST succeed")
	return path
}

// ExecuteCommand runs a fresh command tree with args and returns stdout, stderr and
// the command error.
func (s *CommandTestSuite) ExecuteCommand(args ...string) (string, string, error) {
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}
