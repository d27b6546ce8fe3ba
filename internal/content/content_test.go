package content

import (
	"encoding/base64"
	"testing"

	"github.com/Mcnoble1/Medisphere-sub001/internal/models"
)

func encode(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

func TestDecodeMalformed(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"not base64", "%%%not-base64%%%"},
		{"empty", ""},
		{"not json", encode("hello world")},
		{"json array", encode(`[1,2,3]`)},
		{"json string", encode(`"vaccination"`)},
		{"truncated json", encode(`{"eventType":"vacc`)},
		{"invalid utf8", base64.StdEncoding.EncodeToString([]byte{0xff, 0xfe, '{', '}'})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if c := Decode(tt.payload); c != nil {
				t.Fatalf("Decode(%q) = %+v, want nil", tt.payload, c)
			}
		})
	}
}

func TestDecodeUnpaddedBase64(t *testing.T) {
	payload := base64.RawStdEncoding.EncodeToString([]byte(`{"eventType":"surgery"}`))
	c := Decode(payload)
	if c == nil {
		t.Fatal("expected content for unpadded payload")
	}
	if c.Kind != Surgery {
		t.Fatalf("kind = %v, want surgery", c.Kind)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		eventType string
		want      models.RecordType
	}{
		{"lab_result", models.RecordLabResult},
		{"lab-result", models.RecordLabResult},
		{"LAB_RESULT", models.RecordLabResult},
		{"prescription", models.RecordPrescription},
		{"diagnosis", models.RecordDiagnosis},
		{" vaccination ", models.RecordVaccination},
		{"surgery", models.RecordSurgery},
		{"x-ray", models.RecordOther},
		{"", models.RecordOther},
	}
	for _, tt := range tests {
		if got := Classify(tt.eventType).RecordType(); got != tt.want {
			t.Errorf("Classify(%q) = %s, want %s", tt.eventType, got, tt.want)
		}
	}
}

func TestSynonymPriority(t *testing.T) {
	c := Decode(encode(`{"type":"diagnosis","eventType":"vaccination","patient_id":"p2","patient":"p1","data":{"provider":"dr-9"}}`))
	if c == nil {
		t.Fatal("expected content")
	}
	if c.Kind != Vaccination {
		t.Errorf("kind = %v, want vaccination (eventType outranks type)", c.Kind)
	}
	if c.Patient != "p1" {
		t.Errorf("patient = %q, want p1", c.Patient)
	}
	if c.Provider != "dr-9" {
		t.Errorf("provider = %q, want dr-9 from nested data", c.Provider)
	}
}

func TestNumericReferences(t *testing.T) {
	c := Decode(encode(`{"eventType":"prescription","patientId":1234,"tokenId":7}`))
	if c == nil {
		t.Fatal("expected content")
	}
	if c.Patient != "1234" || c.Token != "7" {
		t.Fatalf("patient=%q token=%q", c.Patient, c.Token)
	}
}

func TestTypeMetadataGroups(t *testing.T) {
	c := Decode(encode(`{"eventType":"vaccination","vaccine":"BCG","patient":"p1"}`))
	if c == nil {
		t.Fatal("expected content")
	}
	md := c.TypeMetadata()
	if md["vaccineName"] != "BCG" {
		t.Fatalf("vaccineName = %v, want BCG", md["vaccineName"])
	}
	if len(md) != 1 {
		t.Fatalf("metadata = %v, want only vaccineName", md)
	}
}

func TestTypeMetadataNoOverwrite(t *testing.T) {
	// "dose" is a prescription dosage synonym and a vaccination dose number
	// synonym; both groups match and neither clobbers the other's keys.
	c := Decode(encode(`{"medication":"amoxicillin","dose":"500mg","vaccine":"MMR","doseNumber":2,"notes":"ok"}`))
	if c == nil {
		t.Fatal("expected content")
	}
	md := c.TypeMetadata()
	if md["medication"] != "amoxicillin" || md["dosage"] != "500mg" {
		t.Errorf("prescription metadata = %v", md)
	}
	if md["vaccineName"] != "MMR" || md["doseNumber"] != int64(2) {
		t.Errorf("vaccination metadata = %v", md)
	}
	if md["notes"] != "ok" {
		t.Errorf("notes = %v", md["notes"])
	}
}

func TestRecognized(t *testing.T) {
	if c := Decode(encode(`{"foo":"bar"}`)); c == nil || c.Recognized() {
		t.Fatalf("unrelated object should decode but not be recognized: %+v", c)
	}
	if c := Decode(encode(`{"procedure":"appendectomy"}`)); c == nil || !c.Recognized() {
		t.Fatal("metadata only payload should be recognized")
	}
}
