// Package fingerprint implements the log-to-fingerprint pipeline: templating
// (variable-stripping) and rhythm_hash composition (spec §4.1). It is pure
// and stateless — no I/O, no shared state, safe for concurrent use.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
)

const prefixLen = 16

var (
	uuidPattern = regexp.MustCompile(`\b[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}\b`)
	ipv4Pattern = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)
	intPattern  = regexp.MustCompile(`\d+`)
)

// Template strips variables from a log body to produce a normalized
// template: UUIDs, then IPv4 dotted quads, then runs of decimal digits are
// each replaced with a literal "*", in that fixed order (spec §4.1).
func Template(body string) string {
	t := uuidPattern.ReplaceAllString(body, "*")
	t = ipv4Pattern.ReplaceAllString(t, "*")
	t = intPattern.ReplaceAllString(t, "*")
	return t
}

func digestPrefix(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:prefixLen]
}

// SemanticEmbedder produces the deterministic dense-embedding stringification
// the optional semantic_hash segment is computed over. Kept as a narrow seam
// so the fingerprinter does not import the vector-store embedder directly.
type SemanticEmbedder interface {
	EmbedTier1(template string) []float32
}

// Hash computes the rhythm_hash fingerprint for (service, severity,
// template): H(template)[:16] : H(service+":"+severity)[:16], with an
// optional third H(stringify(dense_embed(template)))[:16] segment when
// semantic hashing is enabled (spec §4.1, §9 Open Question).
//
// An empty template still produces a stable fingerprint — SHA-256 of the
// empty string is a well-defined constant, satisfying "malformed bodies
// still produce a fingerprint" (spec §4.1 Errors).
func Hash(service, severity, template string, semantic SemanticEmbedder) string {
	templateHash := digestPrefix(template)
	structuralHash := digestPrefix(service + ":" + severity)

	if semantic == nil {
		return templateHash + ":" + structuralHash
	}

	vec := semantic.EmbedTier1(template)
	semanticHash := digestPrefix(stringifyVector(vec))
	return templateHash + ":" + structuralHash + ":" + semanticHash
}

func stringifyVector(vec []float32) string {
	s := make([]byte, 0, len(vec)*8)
	for _, v := range vec {
		s = append(s, []byte(fmt.Sprintf("%.6f,", v))...)
	}
	return string(s)
}

// Fingerprint holds the parsed template and composite rhythm_hash for one
// log record, along with the inputs it was derived from (for downstream
// payload construction without re-deriving them).
type Fingerprint struct {
	Template   string
	RhythmHash string
	Service    string
	Severity   string
}

// Compute runs the full pipeline: template extraction followed by hash
// composition. semantic may be nil to omit the semantic_hash segment.
func Compute(body, service, severity string, semantic SemanticEmbedder) Fingerprint {
	tmpl := Template(body)
	return Fingerprint{
		Template:   tmpl,
		RhythmHash: Hash(service, severity, tmpl, semantic),
		Service:    service,
		Severity:   severity,
	}
}
