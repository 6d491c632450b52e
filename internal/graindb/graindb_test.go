package graindb

import (
	"os"
	"testing"

	"go.uber.org/zap"

	"github.com/RichardKnop/graindb/internal/pkg/logging"
)

var testLogger = zap.NewNop()

func TestMain(m *testing.M) {
	if level := os.Getenv("TEST_LOG_LEVEL"); level != "" {
		logger, err := logging.Build(level)
		if err != nil {
			panic(err)
		}
		testLogger = logger
	}
	os.Exit(m.Run())
}

func newTestPool(poolSize, replacerK int) (*BufferPool, *MemDiskManager) {
	disk := NewMemDiskManager()
	return NewBufferPool(testLogger, poolSize, replacerK, disk), disk
}
