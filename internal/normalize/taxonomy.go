package normalize

import (
	"strings"

	"github.com/harvest-med/lead-pipeline/internal/model"
)

type taxonomyPrefix struct {
	prefix   string
	category model.Category
}

// taxonomyTable maps NUCC taxonomy code prefixes to facility categories.
// Order matters: the first matching prefix wins, so specific prefixes come
// before the broader ones they share digits with.
var taxonomyTable = []taxonomyPrefix{
	{"1223", model.CategoryDental},
	{"1224", model.CategoryDental},
	{"1225", model.CategoryDental},
	{"122", model.CategoryDental},
	{"124Q", model.CategoryDental},
	{"124", model.CategoryDental},
	{"126", model.CategoryDental},
	{"174", model.CategoryVeterinary},
	{"282N", model.CategoryHospital},
	{"282", model.CategoryHospital},
	{"283", model.CategoryHospital},
	{"284", model.CategoryHospital},
	{"286", model.CategoryHospital},
	{"261QU0200", model.CategoryUrgentCare},
	{"261QU", model.CategoryUrgentCare},
	{"2085R", model.CategorySurgeryCenter},
	{"2086", model.CategorySurgeryCenter},
	{"341", model.CategorySurgeryCenter},
	{"261QA1903", model.CategorySurgeryCenter},
	{"291", model.CategoryLab},
	{"292", model.CategoryLab},
	{"293", model.CategoryLab},
	{"311", model.CategoryNursingHome},
	{"313", model.CategoryNursingHome},
	{"314", model.CategoryNursingHome},
	{"315", model.CategoryNursingHome},
	{"324", model.CategoryNursingHome},
	{"261QM", model.CategoryMedicalPractice},
	{"261Q", model.CategoryMedicalPractice},
	{"261", model.CategoryMedicalPractice},
	{"207Q", model.CategoryMedicalPractice},
	{"207R", model.CategoryMedicalPractice},
	{"207", model.CategoryMedicalPractice},
	{"208", model.CategoryMedicalPractice},
	{"209", model.CategoryMedicalPractice},
	{"363", model.CategoryMedicalPractice},
	{"367", model.CategoryMedicalPractice},
	{"163", model.CategoryMedicalPractice},
	{"225", model.CategoryMedicalPractice},
	{"227", model.CategoryMedicalPractice},
	{"235", model.CategoryMedicalPractice},
	{"111", model.CategoryMedicalPractice},
	{"152", model.CategoryMedicalPractice},
	{"213", model.CategoryMedicalPractice},
	{"332", model.CategoryOther},
	{"333", model.CategoryOther},
	{"273", model.CategoryOther},
}

// CategoryForTaxonomy maps a taxonomy code to a facility category. Unknown
// codes map to Other.
func CategoryForTaxonomy(code string) model.Category {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return model.CategoryOther
	}
	for _, e := range taxonomyTable {
		if strings.HasPrefix(code, e.prefix) {
			return e.category
		}
	}
	return model.CategoryOther
}

var labelKeywords = []struct {
	keyword  string
	category model.Category
}{
	{"URGENT", model.CategoryUrgentCare},
	{"SURG", model.CategorySurgeryCenter},
	{"HOSPITAL", model.CategoryHospital},
	{"NURSING", model.CategoryNursingHome},
	{"LAB", model.CategoryLab},
	{"DENT", model.CategoryDental},
	{"VETERIN", model.CategoryVeterinary},
	{"ANIMAL", model.CategoryVeterinary},
	{"PHYSICIAN", model.CategoryMedicalPractice},
	{"MEDICAL", model.CategoryMedicalPractice},
	{"CLINIC", model.CategoryMedicalPractice},
}

// CategoryForLabel maps a registry facility-type label such as "Ambulatory
// Surgical Center" onto a category by keyword.
func CategoryForLabel(label string) model.Category {
	if c := model.ParseCategory(label); c != model.CategoryOther {
		return c
	}
	up := strings.ToUpper(label)
	for _, k := range labelKeywords {
		if strings.Contains(up, k.keyword) {
			return k.category
		}
	}
	return model.CategoryOther
}
