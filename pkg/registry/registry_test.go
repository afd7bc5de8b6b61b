package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []string
		wantErr error
	}{
		{
			name:  "block list",
			input: "assets:\n  - bitcoin\n  - ethereum\n  - solana\n",
			want:  []string{"bitcoin", "ethereum", "solana"},
		},
		{
			name:  "flow list with duplicates and padding",
			input: "assets: [ bitcoin, ethereum ,bitcoin, tether ]",
			want:  []string{"bitcoin", "ethereum", "tether"},
		},
		{
			name:    "empty list",
			input:   "assets: []",
			wantErr: ErrEmptyRegistry,
		},
		{
			name:    "missing key",
			input:   "coins: [bitcoin]",
			wantErr: ErrEmptyRegistry,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse([]byte(tt.input))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseRejectsBlankID(t *testing.T) {
	_, err := Parse([]byte("assets: [bitcoin, '  ']"))
	assert.Error(t, err)
}

func TestFileRereadsEachCall(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coins.yaml")
	require.NoError(t, os.WriteFile(path, []byte("assets: [bitcoin]"), 0o600))

	reg := NewFile(path)
	ids, err := reg.IDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"bitcoin"}, ids)

	require.NoError(t, os.WriteFile(path, []byte("assets: [bitcoin, ethereum]"), 0o600))
	ids, err = reg.IDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"bitcoin", "ethereum"}, ids)
}

func TestFileMissing(t *testing.T) {
	_, err := NewFile(filepath.Join(t.TempDir(), "absent.yaml")).IDs()
	assert.ErrorIs(t, err, os.ErrNotExist)
}
