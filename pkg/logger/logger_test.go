package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRunLoggerSplitsSeverities(t *testing.T) {
	dir := t.TempDir()
	l, err := NewRunLogger(zap.NewNop(), dir)
	require.NoError(t, err)

	l.Info("slot allocated", zap.String("slot", "2016-05-04 morning"))
	l.Error("clash detected", zap.String("roll", "R1"))
	require.NoError(t, l.Close())

	execLog, err := os.ReadFile(filepath.Join(dir, ExecutionLogFile))
	require.NoError(t, err)
	require.Contains(t, string(execLog), "slot allocated")
	require.Contains(t, string(execLog), "clash detected")

	errLog, err := os.ReadFile(filepath.Join(dir, ErrorLogFile))
	require.NoError(t, err)
	require.NotContains(t, string(errLog), "slot allocated")
	require.Contains(t, string(errLog), "clash detected")
}
