package corelog

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestSetLevelTogglesDebug(t *testing.T) {
	defer logrus.SetLevel(logrus.InfoLevel)

	SetLevel(true)
	log := New("test")
	assert.True(t, log.IsDebugEnabled())

	SetLevel(false)
	assert.False(t, log.IsDebugEnabled())
}

func TestWithFieldReturnsIndependentLogger(t *testing.T) {
	log := New("test")
	scoped := log.WithField("inode", uint32(7))
	assert.NotNil(t, scoped)
}

func TestSizeFieldFormatsBytes(t *testing.T) {
	assert.Contains(t, SizeField(1024), "K")
	assert.Contains(t, SizeField(1024*1024), "M")
}
