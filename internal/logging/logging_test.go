package logging

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaskPhone(t *testing.T) {
	assert.Equal(t, "09*******89", MaskPhone("09123456789"))
	assert.Equal(t, "+4*********90", MaskPhone("+491234567890"))
	assert.Equal(t, "****", MaskPhone("0912"))
	assert.Equal(t, "****", MaskPhone(""))
}

func TestPhoneField(t *testing.T) {
	f := Phone("phone", "09123456789")
	assert.Equal(t, "phone", f.Key)
	assert.Equal(t, "09*******89", f.String)
}

func TestNew_WithFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "logs", "sysense.log")
	logger, err := New(Options{Debug: true, File: file})
	require.NoError(t, err)
	logger.Info("hello")
	_ = logger.Sync()
	assert.FileExists(t, file)
}
