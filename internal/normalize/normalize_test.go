package normalize

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harvest-med/lead-pipeline/internal/model"
)

var ingested = time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC)

func raw(src model.Source, js string) model.RawRecord {
	return model.RawRecord{Source: src, IngestedAt: ingested, Data: json.RawMessage(js)}
}

func TestPhone(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"(205) 555-1234", "2055551234"},
		{"1-205-555-1234", "2055551234"},
		{"205.555.1234 ext", "2055551234"},
		{"555-1234", ""},
		{"22055551234", ""},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Phone(tt.in), tt.in)
	}
}

func TestZip5(t *testing.T) {
	assert.Equal(t, "35203", Zip5("35203-1234"))
	assert.Equal(t, "35203", Zip5("352031234"))
	assert.Equal(t, "", Zip5("352"))
}

func TestNameKey(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Acme Dental", "ACME DENTAL"},
		{"Acme Dental Clinic, LLC", "ACME DENTAL"},
		{"Smith & Jones", "SMITH JONES"},
		{"Joe's Clínica", "JOES CLINICA"},
		{"Jane Doe, D.M.D.", "JANE DOE"},
		{"The Clinic", "THE CLINIC"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NameKey(tt.in), tt.in)
	}
}

func TestAddress(t *testing.T) {
	assert.Equal(t, "123 N MAIN ST STE 200", Address("123 North Main Street, Suite 200"))
	assert.Equal(t, "45 SE OAK AVE", Address("45 Southeast Oak Avenue"))
}

func TestMatchKey(t *testing.T) {
	tests := []struct {
		line1, zip, want string
	}{
		{"123 North Main Street, Suite 200", "35203", "123 n main st 35203"},
		{"123 N. Main St #4", "35203", "123 n main st 35203"},
		{"", "35203", "35203"},
		{"9 Elm Rd", "", "9 elm rd"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MatchKey(tt.line1, tt.zip), tt.line1)
	}
}

func TestLooseBlockKey(t *testing.T) {
	assert.Equal(t, "35203|main", LooseBlockKey("123 N Main St Ste 4", "35203"))
	assert.Equal(t, "35203|main", LooseBlockKey("125 Main Street", "35203"))
	assert.Equal(t, "35203|", LooseBlockKey("", "35203"))
}

func TestCategoryForTaxonomy(t *testing.T) {
	tests := []struct {
		code string
		want model.Category
	}{
		{"1223G0001X", model.CategoryDental},
		{"282N00000X", model.CategoryHospital},
		{"261QU0200X", model.CategoryUrgentCare},
		{"261QM1300X", model.CategoryMedicalPractice},
		{"2085R0202X", model.CategorySurgeryCenter},
		{"207Q00000X", model.CategoryMedicalPractice},
		{"291U00000X", model.CategoryLab},
		{"174M00000X", model.CategoryVeterinary},
		{"314000000X", model.CategoryNursingHome},
		{"999", model.CategoryOther},
		{"", model.CategoryOther},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CategoryForTaxonomy(tt.code), tt.code)
	}
}

func TestCategoryForLabel(t *testing.T) {
	assert.Equal(t, model.CategorySurgeryCenter, CategoryForLabel("Ambulatory Surgical Treatment Center"))
	assert.Equal(t, model.CategoryHospital, CategoryForLabel("hospital"))
	assert.Equal(t, model.CategoryLab, CategoryForLabel("Clinical Laboratory"))
	assert.Equal(t, model.CategoryNursingHome, CategoryForLabel("Nursing Home"))
	assert.Equal(t, model.CategoryOther, CategoryForLabel("Tattoo Parlor"))
}

func TestNormalize_NPPESOrganization(t *testing.T) {
	n := New("AL")
	rec, err := n.Normalize(raw(model.SourceNPI, `{
		"number": 1234567893,
		"enumeration_type": "NPI-2",
		"basic": {"organization_name": "Acme Dental, LLC"},
		"addresses": [
			{"address_purpose": "MAILING", "address_1": "PO Box 1", "city": "Birmingham", "state": "AL", "postal_code": "35201"},
			{"address_purpose": "LOCATION", "address_1": "100 Main Street", "address_2": "Suite 5",
			 "city": "Birmingham", "state": "AL", "postal_code": "352031234", "telephone_number": "205-555-0100"}
		],
		"taxonomies": [
			{"code": "207Q00000X", "primary": false},
			{"code": "1223G0001X", "primary": true, "state": "AL", "license": "D-1234"}
		]
	}`))
	require.NoError(t, err)

	assert.Equal(t, model.SourceNPI, rec.Source)
	assert.Equal(t, "1234567893", rec.SourceID)
	assert.Equal(t, "Acme Dental, LLC", rec.FacilityName)
	assert.Equal(t, model.EntityOrganization, rec.EntityType)
	assert.Equal(t, "1234567893", rec.NPINumber)
	assert.Equal(t, "100 MAIN ST", rec.AddressLine1)
	assert.Equal(t, "STE 5", rec.AddressLine2)
	assert.Equal(t, "BIRMINGHAM", rec.City)
	assert.Equal(t, "35203", rec.Zip5)
	assert.Equal(t, "2055550100", rec.Phone)
	assert.Equal(t, "1223G0001X", rec.TaxonomyCode)
	assert.Equal(t, model.CategoryDental, rec.Category)
	assert.Equal(t, "100 main st 35203", rec.MatchKey)
	assert.Equal(t, []string{"lic:D1234", "npi:1234567893"}, rec.XRefs)
	assert.Empty(t, rec.LicenseNumber)
	assert.Equal(t, ingested, rec.IngestedAt)
}

func TestNormalize_NPPESIndividual(t *testing.T) {
	n := New("AL")
	rec, err := n.Normalize(raw(model.SourceNPI, `{
		"number": "1987654321",
		"enumeration_type": "NPI-1",
		"basic": {"first_name": "Jane", "last_name": "Doe", "credential": "D.M.D."},
		"addresses": [{"address_purpose": "LOCATION", "address_1": "100 Main St", "state": "al", "postal_code": "35203"}],
		"taxonomies": [{"code": "1223G0001X", "primary": true, "state": "GA", "license": "99"}]
	}`))
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe, D.M.D.", rec.FacilityName)
	assert.Equal(t, model.EntityIndividual, rec.EntityType)
	assert.Equal(t, "AL", rec.State)
	// Out-of-state license is not a cross-reference.
	assert.Equal(t, []string{"npi:1987654321"}, rec.XRefs)
}

func TestNormalize_FlatNPI(t *testing.T) {
	rec, err := New("AL").Normalize(raw(model.SourceNPI,
		`{"source_id":"NPI-1","name":"Acme Dental","zip5":"35203","state":"AL"}`))
	require.NoError(t, err)
	assert.Equal(t, "NPI-1", rec.SourceID)
	assert.Equal(t, "Acme Dental", rec.FacilityName)
	assert.Equal(t, "35203", rec.MatchKey)
	assert.Empty(t, rec.NPINumber)
	assert.Empty(t, rec.XRefs)
}

func TestNormalize_ADPH(t *testing.T) {
	rec, err := New("AL").Normalize(raw(model.SourceADPH, `{
		"license_number": "LIC-77", "facility_name": "Acme Dental Clinic", "facility_type": "Dental Clinic",
		"administrator": "J.  Smith", "address": "100 Main Street", "city": "Birmingham", "zip": "35203",
		"county": "Jefferson County", "phone": "(205) 555-0100", "fax": "12", "bed_count": ""
	}`))
	require.NoError(t, err)
	assert.Equal(t, "LIC-77", rec.SourceID)
	assert.Equal(t, "LIC-77", rec.LicenseNumber)
	assert.Equal(t, "J. Smith", rec.Administrator)
	assert.Equal(t, "AL", rec.State, "state registry defaults to target state")
	assert.Equal(t, "JEFFERSON", rec.County)
	assert.Equal(t, model.CategoryDental, rec.Category)
	assert.Equal(t, model.EntityOrganization, rec.EntityType)
	assert.Empty(t, rec.Fax)
	assert.Nil(t, rec.BedCount)
	assert.Equal(t, []string{"lic:LIC77"}, rec.XRefs)
}

func TestNormalize_CMS(t *testing.T) {
	rec, err := New("AL").Normalize(raw(model.SourceCMS, `{
		"provider_id": "010001", "facility_name": "Southeast Health", "address": "1108 Ross Clark Circle",
		"city": "Dothan", "state": "AL", "zip": 36301, "bed_count": "420"
	}`))
	require.NoError(t, err)
	assert.Equal(t, "010001", rec.SourceID)
	assert.Equal(t, model.CategoryHospital, rec.Category)
	require.NotNil(t, rec.BedCount)
	assert.Equal(t, 420, *rec.BedCount)
	assert.Equal(t, "1108 ROSS CLARK CIR", rec.AddressLine1)
	assert.Equal(t, []string{"ccn:010001"}, rec.XRefs)
}

func TestNormalize_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		rec    model.RawRecord
		reason model.ValidationReason
		field  string
	}{
		{"out of state", raw(model.SourceNPI, `{"source_id":"1","name":"A","state":"GA"}`), model.ReasonOutOfScope, "state"},
		{"no name", raw(model.SourceCMS, `{"provider_id":"1","state":"AL"}`), model.ReasonMissingRequiredField, "facility_name"},
		{"no id", raw(model.SourceADPH, `{"facility_name":"A"}`), model.ReasonMissingRequiredField, "source_id"},
		{"no state", raw(model.SourceNPI, `{"source_id":"1","name":"A"}`), model.ReasonMissingRequiredField, "state"},
		{"not an object", raw(model.SourceNPI, `"hello"`), model.ReasonMalformedRecord, ""},
		{"unknown source", raw(model.Source("x"), `{}`), model.ReasonMalformedRecord, "source"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New("AL").Normalize(tt.rec)
			var ve *model.ValidationError
			require.True(t, errors.As(err, &ve), "got %v", err)
			assert.Equal(t, tt.reason, ve.Reason)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}
