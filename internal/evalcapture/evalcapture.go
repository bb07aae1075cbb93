// Package evalcapture persists a regression case to a file tree whenever an
// operator patches a false-positive fingerprint (spec §4.9), so a future
// test suite can assert the pattern is never flagged again.
package evalcapture

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Capturer writes eval fixture files under a configured directory.
type Capturer struct {
	dir    string
	logger *zap.Logger
	now    func() time.Time
}

// New creates a Capturer writing under dir; Capture creates dir if it is
// absent.
func New(dir string, logger *zap.Logger) *Capturer {
	return &Capturer{dir: dir, logger: logger, now: time.Now}
}

// expectedOutcome is the fixed shape the patched fingerprint is expected to
// resolve to: not an anomaly, because it has been explicitly allow-listed.
type expectedOutcome struct {
	IsAnomaly bool   `yaml:"is_anomaly"`
	Reason    string `yaml:"reason"`
}

// evalCase is the YAML document written per patch (spec §4.9 field list).
type evalCase struct {
	Description     string          `yaml:"description"`
	RhythmHash      string          `yaml:"rhythm_hash"`
	ContextLogs     []string        `yaml:"context_logs"`
	ExpectedOutcome expectedOutcome `yaml:"expected_outcome"`
}

// Capture writes one eval file named eval_<fingerprint-prefix>_<unix_ts>.yml.
// Failures are logged and returned to the caller; Registry.Patch only logs
// the returned error, so the patch call still succeeds when the disk is
// unavailable.
func (c *Capturer) Capture(rhythmHash string, contextLogs []string) error {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		c.logWarn(rhythmHash, err)
		return err
	}

	doc := evalCase{
		Description: fmt.Sprintf("regression case for patched fingerprint %s", rhythmHash),
		RhythmHash:  rhythmHash,
		ContextLogs: contextLogs,
		ExpectedOutcome: expectedOutcome{
			IsAnomaly: false,
			Reason:    "patched as false positive",
		},
	}

	out, err := yaml.Marshal(doc)
	if err != nil {
		c.logWarn(rhythmHash, err)
		return err
	}

	filename := fmt.Sprintf("eval_%s_%d.yml", fingerprintPrefix(rhythmHash), c.now().Unix())
	path := filepath.Join(c.dir, filename)

	if err := os.WriteFile(path, out, 0o644); err != nil {
		c.logWarn(rhythmHash, err)
		return err
	}
	return nil
}

func (c *Capturer) logWarn(rhythmHash string, err error) {
	if c.logger != nil {
		c.logger.Warn("eval capture failed", zap.String("rhythm_hash", rhythmHash), zap.Error(err))
	}
}

// fingerprintPrefix takes the first 8 hex characters of the template_hash
// segment of a rhythm_hash (the part before the first ':'), used to keep
// eval filenames short while staying traceable to the source fingerprint.
func fingerprintPrefix(rhythmHash string) string {
	for i, c := range rhythmHash {
		if c == ':' {
			rhythmHash = rhythmHash[:i]
			break
		}
	}
	if len(rhythmHash) > 8 {
		return rhythmHash[:8]
	}
	return rhythmHash
}
