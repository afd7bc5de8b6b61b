package bootstrap

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crypto_tracker/config"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		level string
		want  logrus.Level
	}{
		{"debug", logrus.DebugLevel},
		{"trace", logrus.TraceLevel},
		{"verbose", logrus.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var conf config.Config
			conf.Log.Level = tt.level
			assert.Equal(t, tt.want, NewLogger(&conf).Level)
		})
	}
}

func TestConnOptions(t *testing.T) {
	var conf config.Config
	conf.Database.Host = "db.example.com"
	conf.Database.Port = 6543
	conf.Database.Username = "etl"
	conf.Database.DBName = "market"

	opts := ConnOptions(&conf)
	assert.Equal(t, "db.example.com", opts.Host)
	assert.Equal(t, 6543, opts.Port)
	assert.Equal(t, "market", opts.Database)
	assert.True(t, opts.PreferIPv4)

	prefer := false
	conf.Database.PreferIPv4 = &prefer
	assert.False(t, ConnOptions(&conf).PreferIPv4)
}

func TestNewRunnerRejectsUnknownZone(t *testing.T) {
	var conf config.Config
	conf.Fetch.ReferenceTimezone = "Nowhere/Special"

	_, err := NewRunner(&conf, nil, nil, logrus.New())
	assert.Error(t, err)

	conf.Fetch.ReferenceTimezone = "Asia/Kolkata"
	runner, err := NewRunner(&conf, nil, nil, logrus.New())
	require.NoError(t, err)
	assert.NotNil(t, runner)
}
