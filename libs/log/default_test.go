package log_test

import (
	"bytes"
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cfx-go/cfxcore/libs/log"
)

func TestNewDefaultLogger(t *testing.T) {
	testCases := map[string]struct {
		format    string
		level     string
		expectErr bool
	}{
		"invalid format": {
			format:    "foo",
			level:     log.LogLevelInfo,
			expectErr: true,
		},
		"invalid level": {
			format:    log.LogFormatJSON,
			level:     "foo",
			expectErr: true,
		},
		"valid format and level": {
			format:    log.LogFormatJSON,
			level:     log.LogLevelInfo,
			expectErr: false,
		},
		"plain format": {
			format:    log.LogFormatPlain,
			level:     log.LogLevelDebug,
			expectErr: false,
		},
	}

	for name, tc := range testCases {
		tc := tc

		t.Run(name, func(t *testing.T) {
			_, err := log.NewDefaultLogger(tc.format, tc.level)
			if tc.expectErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestDefaultLoggerJSONFields(t *testing.T) {
	var buf bytes.Buffer

	logger, err := log.NewDefaultLoggerWithWriter(&buf, log.LogFormatJSON, log.LogLevelInfo)
	require.NoError(t, err)

	logger.With("module", "blockdata").Info("stored header", "height", 12)
	require.Contains(t, buf.String(), `"module":"blockdata"`)
	require.Contains(t, buf.String(), `"height":12`)
	require.Contains(t, buf.String(), `"message":"stored header"`)

	buf.Reset()
	logger.Debug("filtered out")
	require.Empty(t, buf.String())
}

type stage int

func (s stage) String() string { return [...]string{"headers", "blocks"}[s] }

func TestDefaultLoggerStringers(t *testing.T) {
	var buf bytes.Buffer

	logger, err := log.NewDefaultLoggerWithWriter(&buf, log.LogFormatJSON, log.LogLevelInfo)
	require.NoError(t, err)

	var missing *big.Int
	logger.Info("fetching",
		"stage", stage(1),
		"key", log.NewHexadecimal([]byte{0xab, 0xcd}),
		"difficulty", missing,
		"err", errors.New("boom"),
	)
	require.Contains(t, buf.String(), `"stage":"blocks"`)
	require.Contains(t, buf.String(), `"key":"ABCD"`)
	require.Contains(t, buf.String(), `"difficulty":null`)
	require.Contains(t, buf.String(), `"err":"boom"`)
}

func TestOverrideWithNewLogger(t *testing.T) {
	logger, err := log.NewDefaultLogger(log.LogFormatJSON, log.LogLevelInfo)
	require.NoError(t, err)
	require.NoError(t, log.OverrideWithNewLogger(logger, log.LogFormatPlain, log.LogLevelDebug))
	require.Error(t, log.OverrideWithNewLogger(logger, "foo", log.LogLevelDebug))
}
