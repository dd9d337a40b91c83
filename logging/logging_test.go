package logging

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in    string
		level logrus.Level
		off   bool
	}{
		{"OFF", logrus.PanicLevel, true},
		{"error", logrus.ErrorLevel, false},
		{"Warn", logrus.WarnLevel, false},
		{"warning", logrus.WarnLevel, false},
		{"INFO", logrus.InfoLevel, false},
		{"", logrus.InfoLevel, false},
		{" debug ", logrus.DebugLevel, false},
		{"TRACE", logrus.TraceLevel, false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			level, off, err := ParseLevel(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.level, level)
			assert.Equal(t, tt.off, off)
		})
	}

	_, _, err := ParseLevel("verbose")
	assert.ErrorContains(t, err, "unknown log level")
}

func TestNew(t *testing.T) {
	var out bytes.Buffer
	log, err := New("debug", &out)
	require.NoError(t, err)

	log.Trace("hidden")
	log.WithField("chunk", 3).Debug("shown")
	assert.NotContains(t, out.String(), "hidden")
	assert.Contains(t, out.String(), "shown")
	assert.Contains(t, out.String(), "chunk=3")

	_, err = New("loud", &out)
	assert.Error(t, err)
}

func TestNewOff(t *testing.T) {
	var out bytes.Buffer
	log, err := New("OFF", &out)
	require.NoError(t, err)

	log.Error("nobody hears this")
	assert.Empty(t, out.String())
}
