// Package content decodes ledger message payloads into a typed envelope.
//
// Producers write loosely structured JSON with many spellings for the same
// field. Every spelling is listed in a priority ordered synonym table; the
// first present path wins. Paths use dots to reach into nested objects
// ("data.patient").
package content

import (
	"encoding/base64"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/valyala/fastjson"

	"github.com/Mcnoble1/Medisphere-sub001/internal/models"
)

// Kind is the tag of the content union.
type Kind int

const (
	Unknown Kind = iota
	LabResult
	Prescription
	Diagnosis
	Vaccination
	Surgery
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case LabResult:
		return "lab_result"
	case Prescription:
		return "prescription"
	case Diagnosis:
		return "diagnosis"
	case Vaccination:
		return "vaccination"
	case Surgery:
		return "surgery"
	default:
		return "unknown"
	}
}

// RecordType maps the kind to the record type stored in the index.
func (k Kind) RecordType() models.RecordType {
	switch k {
	case LabResult:
		return models.RecordLabResult
	case Prescription:
		return models.RecordPrescription
	case Diagnosis:
		return models.RecordDiagnosis
	case Vaccination:
		return models.RecordVaccination
	case Surgery:
		return models.RecordSurgery
	default:
		return models.RecordOther
	}
}

// eventKinds maps normalized event type names to kinds. Names not listed
// here classify as Unknown.
var eventKinds = map[string]Kind{
	"lab_result":   LabResult,
	"lab-result":   LabResult,
	"labresult":    LabResult,
	"prescription": Prescription,
	"diagnosis":    Diagnosis,
	"vaccination":  Vaccination,
	"surgery":      Surgery,
}

// Classify returns the kind for an event type name.
func Classify(eventType string) Kind {
	return eventKinds[strings.ToLower(strings.TrimSpace(eventType))]
}

// Synonym tables for the common envelope fields.
var (
	eventTypeFields = []string{"eventType", "event_type", "type", "recordType", "record_type", "data.eventType", "data.type"}
	patientFields   = []string{"patient", "patientId", "patient_id", "patientAccountId", "patientDid", "data.patient", "data.patientId"}
	providerFields  = []string{"provider", "providerId", "provider_id", "doctor", "doctorId", "issuer", "data.provider", "data.providerId"}
	locationFields  = []string{"contentLocation", "ipfsCid", "cid", "fileUrl", "fileId", "storageRef", "data.cid", "data.fileUrl"}
	hashFields      = []string{"contentHash", "hash", "fileHash", "sha256", "data.hash", "data.contentHash"}
	tokenFields     = []string{"tokenId", "nftTokenId", "token_id", "serialNumber", "data.tokenId"}
)

// Content is a decoded payload.
type Content struct {
	Kind      Kind
	EventType string
	Patient   string
	Provider  string
	Location  string
	Hash      string
	Token     string

	fields map[string]any
}

var parsers fastjson.ParserPool

// Decode turns a base64 payload into Content. It returns nil for anything
// that is not base64 encoded UTF-8 JSON holding an object.
func Decode(payload string) *Content {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
	if err != nil {
		raw, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(strings.TrimSpace(payload), "="))
		if err != nil {
			return nil
		}
	}
	if len(raw) == 0 || !utf8.Valid(raw) {
		return nil
	}
	return Parse(raw)
}

// Parse builds Content from a JSON document. It returns nil when the
// document is not a JSON object.
func Parse(raw []byte) *Content {
	p := parsers.Get()
	defer parsers.Put(p)

	v, err := p.ParseBytes(raw)
	if err != nil || v.Type() != fastjson.TypeObject {
		return nil
	}
	fields, ok := toGo(v).(map[string]any)
	if !ok {
		return nil
	}

	c := &Content{fields: fields}
	c.EventType = c.firstString(eventTypeFields)
	c.Kind = Classify(c.EventType)
	c.Patient = c.firstString(patientFields)
	c.Provider = c.firstString(providerFields)
	c.Location = c.firstString(locationFields)
	c.Hash = c.firstString(hashFields)
	c.Token = c.firstString(tokenFields)
	return c
}

// Recognized reports whether the content carries anything the indexer can
// use: an event type, a subject reference or type specific fields.
func (c *Content) Recognized() bool {
	if c.EventType != "" || c.Patient != "" || c.Provider != "" || c.Location != "" {
		return true
	}
	return len(c.TypeMetadata()) > 0
}

// Lookup returns the value at a dotted path.
func (c *Content) Lookup(path string) (any, bool) {
	var cur any = c.fields
	for _, key := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[key]
		if !ok {
			return nil, false
		}
	}
	if cur == nil {
		return nil, false
	}
	return cur, true
}

func (c *Content) first(paths []string) (any, bool) {
	for _, p := range paths {
		if v, ok := c.Lookup(p); ok {
			return v, true
		}
	}
	return nil, false
}

func (c *Content) firstString(paths []string) string {
	for _, p := range paths {
		v, ok := c.Lookup(p)
		if !ok {
			continue
		}
		if s := scalarString(v); s != "" {
			return s
		}
	}
	return ""
}

// scalarString renders string and number values; objects, arrays and
// booleans yield "".
func scalarString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}

// toGo converts a fastjson value into plain Go values so the result
// outlives the pooled parser.
func toGo(v *fastjson.Value) any {
	switch v.Type() {
	case fastjson.TypeObject:
		obj, _ := v.Object()
		out := make(map[string]any, obj.Len())
		obj.Visit(func(key []byte, val *fastjson.Value) {
			out[string(key)] = toGo(val)
		})
		return out
	case fastjson.TypeArray:
		items, _ := v.Array()
		out := make([]any, 0, len(items))
		for _, item := range items {
			out = append(out, toGo(item))
		}
		return out
	case fastjson.TypeString:
		b, _ := v.StringBytes()
		return string(b)
	case fastjson.TypeNumber:
		if n, err := v.Int64(); err == nil {
			return n
		}
		f, _ := v.Float64()
		return f
	case fastjson.TypeTrue:
		return true
	case fastjson.TypeFalse:
		return false
	default:
		return nil
	}
}
