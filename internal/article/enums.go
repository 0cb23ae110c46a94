package article

import "strings"

// Category is a medical specialty.
type Category string

const (
	CategoryCardiology        Category = "Cardiology"
	CategoryPulmonology       Category = "Pulmonology"
	CategoryGastroenterology  Category = "Gastroenterology"
	CategoryNephrology        Category = "Nephrology"
	CategoryNeurology         Category = "Neurology"
	CategoryEndocrinology     Category = "Endocrinology"
	CategoryHematology        Category = "Hematology"
	CategoryOncology          Category = "Oncology"
	CategoryImmunology        Category = "Immunology"
	CategoryInfectiousDisease Category = "Infectious diseases"
	CategoryDiabetes          Category = "Diabetes"
	CategoryLipidology        Category = "Lipidology"
	CategoryNutrition         Category = "Nutrition"
	CategoryGeriatrics        Category = "Geriatrics"
	CategoryPsychiatry        Category = "Psychiatry"
	CategoryPediatrics        Category = "Pediatrics"
	CategoryGeneralMedicine   Category = "General medicine"
	CategoryRheumatology      Category = "Rheumatology"
	CategoryOther             Category = "Other"
)

// Categories lists every accepted specialty in display order.
var Categories = []Category{
	CategoryCardiology, CategoryPulmonology, CategoryGastroenterology, CategoryNephrology,
	CategoryNeurology, CategoryEndocrinology, CategoryHematology, CategoryOncology,
	CategoryImmunology, CategoryInfectiousDisease, CategoryDiabetes, CategoryLipidology,
	CategoryNutrition, CategoryGeriatrics, CategoryPsychiatry, CategoryPediatrics,
	CategoryGeneralMedicine, CategoryRheumatology, CategoryOther,
}

// ParseCategory matches a category name case-insensitively, falling back to Other.
func ParseCategory(s string) Category {
	s = strings.TrimSpace(s)
	for _, c := range Categories {
		if strings.EqualFold(string(c), s) {
			return c
		}
	}
	return CategoryOther
}

// Type is a study design or publication type.
type Type string

const (
	TypeMetaAnalysis     Type = "Meta-analysis"
	TypeSystematicReview Type = "Systematic review"
	TypeRCT              Type = "RCT"
	TypeGuideline        Type = "Guideline"
	TypeObservational    Type = "Observational study"
	TypeRetrospective    Type = "Retrospective study"
	TypeCaseSeries       Type = "Case series"
	TypeCaseReport       Type = "Case report"
	TypeReview           Type = "Review"
	TypeEditorial        Type = "Editorial"
	TypeLetter           Type = "Letter"
	TypeOther            Type = "Other"
)

// Types lists every article type, strongest design first.
var Types = []Type{
	TypeMetaAnalysis, TypeSystematicReview, TypeRCT, TypeGuideline, TypeObservational,
	TypeRetrospective, TypeCaseSeries, TypeCaseReport, TypeReview, TypeEditorial,
	TypeLetter, TypeOther,
}

// ParseType matches a type name case-insensitively, falling back to Other.
func ParseType(s string) Type {
	s = strings.TrimSpace(s)
	for _, t := range Types {
		if strings.EqualFold(string(t), s) {
			return t
		}
	}
	return TypeOther
}
