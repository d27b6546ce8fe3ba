package content

// metadataField is one canonical metadata key and its synonyms.
type metadataField struct {
	key      string
	synonyms []string
}

// metadataGroup contributes its fields when any of its marker paths is
// present in the payload.
type metadataGroup struct {
	name    string
	markers []string
	fields  []metadataField
}

// metadataGroups are evaluated in order. A payload may match several groups;
// a key set by an earlier group is never overwritten by a later one.
var metadataGroups = []metadataGroup{
	{
		name:    "lab",
		markers: []string{"testName", "test_name", "testType", "labTest", "result", "results"},
		fields: []metadataField{
			{"testName", []string{"testName", "test_name", "testType", "labTest"}},
			{"result", []string{"result", "results", "value"}},
			{"unit", []string{"unit", "units"}},
			{"referenceRange", []string{"referenceRange", "reference_range", "normalRange"}},
		},
	},
	{
		name:    "prescription",
		markers: []string{"medication", "medicationName", "drug", "dosage"},
		fields: []metadataField{
			{"medication", []string{"medication", "medicationName", "drug"}},
			{"dosage", []string{"dosage", "dose"}},
			{"frequency", []string{"frequency"}},
			{"duration", []string{"duration"}},
		},
	},
	{
		name:    "diagnosis",
		markers: []string{"condition", "diagnosis", "icdCode", "icd10"},
		fields: []metadataField{
			{"condition", []string{"condition", "diagnosis", "diagnosisName"}},
			{"icdCode", []string{"icdCode", "icd10", "icd_code"}},
			{"severity", []string{"severity"}},
		},
	},
	{
		name:    "vaccination",
		markers: []string{"vaccine", "vaccineName", "vaccine_name"},
		fields: []metadataField{
			{"vaccineName", []string{"vaccine", "vaccineName", "vaccine_name"}},
			{"doseNumber", []string{"doseNumber", "dose_number", "dose"}},
			{"lotNumber", []string{"lotNumber", "lot_number", "batch"}},
		},
	},
	{
		name:    "surgery",
		markers: []string{"procedure", "procedureName", "surgeryType"},
		fields: []metadataField{
			{"procedure", []string{"procedure", "procedureName", "surgeryType"}},
			{"surgeon", []string{"surgeon"}},
			{"outcome", []string{"outcome"}},
		},
	},
	{
		name:    "common",
		markers: []string{"notes", "facility", "hospital"},
		fields: []metadataField{
			{"notes", []string{"notes", "note"}},
			{"facility", []string{"facility", "hospital"}},
		},
	},
}

// TypeMetadata returns the type specific metadata found in the payload.
func (c *Content) TypeMetadata() map[string]any {
	out := make(map[string]any)
	for _, g := range metadataGroups {
		if !c.has(g.markers) {
			continue
		}
		for _, f := range g.fields {
			if _, set := out[f.key]; set {
				continue
			}
			if v, ok := c.first(f.synonyms); ok {
				out[f.key] = v
			}
		}
	}
	return out
}

func (c *Content) has(paths []string) bool {
	_, ok := c.first(paths)
	return ok
}
