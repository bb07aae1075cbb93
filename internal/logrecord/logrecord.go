// Package logrecord defines the canonical log record shape the rest of the
// service operates on, plus parsers for the two accepted wire shapes (flat
// and nested OTLP-style) described in the ingestion API.
package logrecord

import (
	"encoding/json"
	"fmt"
)

// Record is the canonical, parsed form of one ingested log event.
// It is transient: the core never persists a Record directly, only its
// fingerprint and the fields that end up in a Tier-1/Tier-2 payload.
type Record struct {
	TSSeconds   int64
	Service     string
	Severity    string
	Body        string
	FullLogJSON string
}

// Attribute is one key/value pair on a flat or OTLP log record.
type Attribute struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// FlatRecord is the simple wire shape: {TimeUnixNano, SeverityText, Body, Attributes}.
type FlatRecord struct {
	TimeUnixNano int64       `json:"TimeUnixNano"`
	SeverityText string      `json:"SeverityText"`
	Body         string      `json:"Body"`
	Attributes   []Attribute `json:"Attributes"`
}

// ParseFlatBatch parses a batch of flat records, dropping malformed entries
// with the caller expected to log a warning per dropped record (spec §4.4
// step 1: "the batch does not fail").
func ParseFlatBatch(raw []byte) ([]Record, []error) {
	var flats []FlatRecord
	if err := json.Unmarshal(raw, &flats); err != nil {
		return nil, []error{fmt.Errorf("parse flat batch: %w", err)}
	}

	records := make([]Record, 0, len(flats))
	var errs []error
	for i, f := range flats {
		rec, err := fromFlat(f)
		if err != nil {
			errs = append(errs, fmt.Errorf("record %d: %w", i, err))
			continue
		}
		records = append(records, rec)
	}
	return records, errs
}

func fromFlat(f FlatRecord) (Record, error) {
	if f.Body == "" {
		return Record{}, fmt.Errorf("missing Body")
	}
	if f.TimeUnixNano <= 0 {
		return Record{}, fmt.Errorf("missing or non-positive TimeUnixNano")
	}

	severity := f.SeverityText
	if severity == "" {
		severity = "INFO"
	}
	service := serviceFromAttributes(f.Attributes)

	full, err := json.Marshal(f)
	if err != nil {
		return Record{}, fmt.Errorf("marshal full log json: %w", err)
	}

	return Record{
		TSSeconds:   f.TimeUnixNano / 1_000_000_000,
		Service:     service,
		Severity:    severity,
		Body:        f.Body,
		FullLogJSON: string(full),
	}, nil
}

func serviceFromAttributes(attrs []Attribute) string {
	for _, a := range attrs {
		if a.Key == "service.name" {
			return a.Value
		}
	}
	return "unknown"
}

// otlpValue carries the union of OTLP attribute value encodings this
// service cares about; stringValue and intValue are decoded, and only
// stringValue is consulted (for service.name).
type otlpValue struct {
	StringValue *string `json:"stringValue,omitempty"`
	IntValue    *string `json:"intValue,omitempty"`
}

type otlpAttribute struct {
	Key   string    `json:"key"`
	Value otlpValue `json:"value"`
}

type otlpBody struct {
	StringValue string `json:"stringValue"`
}

type otlpLogRecord struct {
	TimeUnixNano int64           `json:"timeUnixNano,string"`
	SeverityText string          `json:"severityText"`
	Body         otlpBody        `json:"body"`
	Attributes   []otlpAttribute `json:"attributes"`
}

type otlpScopeLogs struct {
	LogRecords []otlpLogRecord `json:"logRecords"`
}

type otlpResource struct {
	Attributes []otlpAttribute `json:"attributes"`
}

type otlpResourceLogs struct {
	Resource  otlpResource    `json:"resource"`
	ScopeLogs []otlpScopeLogs `json:"scopeLogs"`
}

type otlpBatch struct {
	ResourceLogs []otlpResourceLogs `json:"resourceLogs"`
}

// ParseOTLPBatch parses the nested OTLP-style batch shape, flattening
// resource-level attributes (for service.name) into each contained log
// record. Malformed records are dropped individually.
func ParseOTLPBatch(raw []byte) ([]Record, []error) {
	var batch otlpBatch
	if err := json.Unmarshal(raw, &batch); err != nil {
		return nil, []error{fmt.Errorf("parse otlp batch: %w", err)}
	}

	var records []Record
	var errs []error
	idx := 0
	for _, rl := range batch.ResourceLogs {
		service := serviceFromOTLPAttributes(rl.Resource.Attributes)
		for _, sl := range rl.ScopeLogs {
			for _, lr := range sl.LogRecords {
				rec, err := fromOTLP(lr, service)
				if err != nil {
					errs = append(errs, fmt.Errorf("record %d: %w", idx, err))
					idx++
					continue
				}
				records = append(records, rec)
				idx++
			}
		}
	}
	return records, errs
}

func fromOTLP(lr otlpLogRecord, service string) (Record, error) {
	if lr.Body.StringValue == "" {
		return Record{}, fmt.Errorf("missing body.stringValue")
	}
	if lr.TimeUnixNano <= 0 {
		return Record{}, fmt.Errorf("missing or non-positive timeUnixNano")
	}

	severity := lr.SeverityText
	if severity == "" {
		severity = "INFO"
	}
	if recordService := serviceFromOTLPAttributes(lr.Attributes); recordService != "" {
		service = recordService
	}
	if service == "" {
		service = "unknown"
	}

	full, err := json.Marshal(lr)
	if err != nil {
		return Record{}, fmt.Errorf("marshal full log json: %w", err)
	}

	return Record{
		TSSeconds:   lr.TimeUnixNano / 1_000_000_000,
		Service:     service,
		Severity:    severity,
		Body:        lr.Body.StringValue,
		FullLogJSON: string(full),
	}, nil
}

func serviceFromOTLPAttributes(attrs []otlpAttribute) string {
	for _, a := range attrs {
		if a.Key == "service.name" && a.Value.StringValue != nil {
			return *a.Value.StringValue
		}
	}
	return ""
}

// IsOTLPShaped reports whether raw looks like the nested OTLP batch shape
// (has a top-level "resourceLogs" array) rather than the flat array shape,
// so the ingestion handler can dispatch to the right parser without the
// caller needing to know the wire format in advance.
func IsOTLPShaped(raw []byte) bool {
	var probe struct {
		ResourceLogs json.RawMessage `json:"resourceLogs"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return false
	}
	return len(probe.ResourceLogs) > 0
}
