package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTemplateCollapsesDecimalRuns(t *testing.T) {
	require.Equal(t, "user * ok", Template("user 42 ok"))
	require.Equal(t, "user * ok", Template("user 9999 ok"))
	require.Equal(t, "user * ok", Template("user 1 ok"))
}

func TestTemplateCollapsesUUID(t *testing.T) {
	got := Template("request 123e4567-e89b-12d3-a456-426614174000 failed")
	require.Equal(t, "request * failed", got)
}

func TestTemplateCollapsesIPv4(t *testing.T) {
	got := Template("connection from 10.0.0.1 refused")
	require.Equal(t, "connection from * refused", got)
}

func TestTemplateOrderUUIDBeforeDigits(t *testing.T) {
	// a UUID contains digit runs; if digits were collapsed first the UUID
	// pattern would no longer match, so UUID collapsing must run first.
	got := Template("id 123e4567-e89b-12d3-a456-426614174000 seen")
	require.Equal(t, "id * seen", got)
}

func TestHashDeterministic(t *testing.T) {
	h1 := Hash("svc-a", "INFO", "user * ok", nil)
	h2 := Hash("svc-a", "INFO", "user * ok", nil)
	require.Equal(t, h1, h2)
}

func TestHashStableAcrossEquivalentBodies(t *testing.T) {
	// P1: changing only a UUID, IPv4, or numeric substring must not change
	// the fingerprint.
	f1 := Compute("user 42 ok", "svc-a", "INFO", nil)
	f2 := Compute("user 9999 ok", "svc-a", "INFO", nil)
	f3 := Compute("user 1 ok", "svc-a", "INFO", nil)

	require.Equal(t, f1.RhythmHash, f2.RhythmHash)
	require.Equal(t, f1.RhythmHash, f3.RhythmHash)
}

func TestHashDiffersOnServiceOrSeverity(t *testing.T) {
	h1 := Hash("svc-a", "INFO", "user * ok", nil)
	h2 := Hash("svc-b", "INFO", "user * ok", nil)
	h3 := Hash("svc-a", "ERROR", "user * ok", nil)

	require.NotEqual(t, h1, h2)
	require.NotEqual(t, h1, h3)
}

func TestHashEmptyTemplateIsStable(t *testing.T) {
	h1 := Hash("svc-a", "INFO", "", nil)
	h2 := Hash("svc-a", "INFO", "", nil)
	require.Equal(t, h1, h2)
	require.NotEmpty(t, h1)
}

type fakeEmbedder struct{ vec []float32 }

func (f fakeEmbedder) EmbedTier1(string) []float32 { return f.vec }

func TestHashWithSemanticSegmentHasThreeParts(t *testing.T) {
	h := Hash("svc-a", "INFO", "user * ok", fakeEmbedder{vec: []float32{0.1, 0.2}})
	parts := 1
	for _, c := range h {
		if c == ':' {
			parts++
		}
	}
	require.Equal(t, 3, parts)
}

func TestHashPrefixLength(t *testing.T) {
	h := Hash("svc-a", "INFO", "user * ok", nil)
	require.Len(t, h, prefixLen*2+1)
}
