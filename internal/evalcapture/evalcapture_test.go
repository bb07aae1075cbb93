package evalcapture

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

func TestCaptureWritesExpectedFile(t *testing.T) {
	dir := t.TempDir()
	c := New(dir, zap.NewNop())
	c.now = func() time.Time { return time.Unix(1700000000, 0) }

	err := c.Capture("deadbeefcafe:1234567890abcdef", []string{"log one", "log two"})
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "eval_deadbeef_1700000000.yml", entries[0].Name())

	raw, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)

	var doc evalCase
	require.NoError(t, yaml.Unmarshal(raw, &doc))
	require.Equal(t, "deadbeefcafe:1234567890abcdef", doc.RhythmHash)
	require.Equal(t, []string{"log one", "log two"}, doc.ContextLogs)
	require.False(t, doc.ExpectedOutcome.IsAnomaly)
	require.Equal(t, "patched as false positive", doc.ExpectedOutcome.Reason)
}

func TestFingerprintPrefixShortHash(t *testing.T) {
	require.Equal(t, "abc", fingerprintPrefix("abc"))
}

func TestFingerprintPrefixTruncatesTemplateSegment(t *testing.T) {
	require.Equal(t, "12345678", fingerprintPrefix("123456789abcdef:fedcba987654321"))
}
