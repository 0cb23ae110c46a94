// Package rubric holds the configurable vocabulary and weights used to filter
// and score articles.
package rubric

import (
	"errors"
	"fmt"

	"github.com/TobiSchelling/meddash/internal/article"
)

// Rubric is the externally configurable scoring table set.
type Rubric struct {
	Weights          Weights                  `yaml:"weights"`
	Journals         Journals                 `yaml:"journals"`
	Specialties      []Specialty              `yaml:"specialties"`
	TrackedKeywords  []string                 `yaml:"tracked_keywords"`
	NoveltyKeywords  []string                 `yaml:"novelty_keywords"`
	Population       Population               `yaml:"population"`
	Prevalence       Prevalence               `yaml:"prevalence"`
	Hospitalization  Hospitalization          `yaml:"hospitalization"`
	Penalties        []Penalty                `yaml:"penalties"`
	InclusionDesigns []article.Type           `yaml:"inclusion_designs"`
	DesignPoints     map[article.Type]float64 `yaml:"design_points"`
}

// Weights scale each dimension's sub-score before summing.
type Weights struct {
	Journal    float64 `yaml:"journal"`
	Design     float64 `yaml:"design"`
	Population float64 `yaml:"population"`
	Specialty  float64 `yaml:"specialty"`
	Novelty    float64 `yaml:"novelty"`
	Penalty    float64 `yaml:"penalty"`

	Prevalence      float64 `yaml:"prevalence"`
	Hospitalization float64 `yaml:"hospitalization"`
}

// Journals are matched as case-insensitive substrings of the journal name.
type Journals struct {
	Major []string `yaml:"major"`
	High  []string `yaml:"high"`
}

// Specialty maps a category to the terms that indicate it.
type Specialty struct {
	Category article.Category `yaml:"category"`
	Keywords []string         `yaml:"keywords"`
}

// Population shapes the sample-size contribution.
type Population struct {
	Min       int     `yaml:"min"`
	Threshold int     `yaml:"threshold"`
	MaxPoints float64 `yaml:"max_points"`
}

// Prevalence rewards common conditions. A High term wins over Medium terms.
type Prevalence struct {
	High         []string `yaml:"high"`
	Medium       []string `yaml:"medium"`
	HighPoints   float64  `yaml:"high_points"`
	MediumPoints float64  `yaml:"medium_points"`
}

// Hospitalization rewards articles about inpatient and acute care.
type Hospitalization struct {
	Keywords []string `yaml:"keywords"`
	Points   float64  `yaml:"points"`
}

// Penalty subtracts points when the journal equals one of Journals or the
// text contains one of Keywords.
type Penalty struct {
	Name     string   `yaml:"name"`
	Journals []string `yaml:"journals"`
	Keywords []string `yaml:"keywords"`
	Points   float64  `yaml:"points"`
}

// Sub-score ceilings. The journal, design, population, specialty and novelty
// maxima add up to MaxScore; prevalence and hospitalization come on top and
// the aggregate is clamped.
const (
	MaxScore           = 10.0
	MaxJournal         = 2.0
	MaxDesign          = 3.0
	MaxSpecialty       = 2.0
	MaxNovelty         = 1.5
	NoveltyPerTerm     = 0.5
	MaxPrevalence      = 2.0
	MaxHospitalization = 1.0
	MinPenalty         = -3.0
	SpecialtySingle    = 1.5
)

// Validate checks the rubric for values that would make scoring meaningless.
func (r Rubric) Validate() error {
	var errs []error
	w := r.Weights
	for name, v := range map[string]float64{
		"journal": w.Journal, "design": w.Design, "population": w.Population,
		"specialty": w.Specialty, "novelty": w.Novelty, "penalty": w.Penalty,
		"prevalence": w.Prevalence, "hospitalization": w.Hospitalization,
	} {
		if v < 0 {
			errs = append(errs, fmt.Errorf("weight %s must not be negative", name))
		}
	}
	if r.Population.Min <= 0 || r.Population.Threshold <= r.Population.Min {
		errs = append(errs, fmt.Errorf("population: need 0 < min < threshold, got %d/%d", r.Population.Min, r.Population.Threshold))
	}
	if r.Population.MaxPoints < 0 {
		errs = append(errs, errors.New("population.max_points must not be negative"))
	}
	if pv := r.Prevalence; pv.MediumPoints < 0 || pv.MediumPoints > pv.HighPoints || pv.HighPoints > MaxPrevalence {
		errs = append(errs, fmt.Errorf("prevalence: need 0 <= medium_points <= high_points <= %g, got %g/%g",
			MaxPrevalence, pv.MediumPoints, pv.HighPoints))
	}
	if h := r.Hospitalization.Points; h < 0 || h > MaxHospitalization {
		errs = append(errs, fmt.Errorf("hospitalization.points must be within [0, %g], got %g", MaxHospitalization, h))
	}
	for _, p := range r.Penalties {
		if p.Points > 0 {
			errs = append(errs, fmt.Errorf("penalty %q must have non-positive points", p.Name))
		}
	}
	for _, s := range r.Specialties {
		if article.ParseCategory(string(s.Category)) != s.Category {
			errs = append(errs, fmt.Errorf("unknown specialty category %q", s.Category))
		}
	}
	for _, d := range r.InclusionDesigns {
		if article.ParseType(string(d)) != d {
			errs = append(errs, fmt.Errorf("unknown inclusion design %q", d))
		}
	}
	return errors.Join(errs...)
}

// Default returns the built-in rubric.
func Default() Rubric {
	return Rubric{
		Weights: Weights{
			Journal: 1, Design: 1, Population: 1, Specialty: 1, Novelty: 1, Penalty: 1,
			Prevalence: 1, Hospitalization: 1,
		},
		Journals: Journals{
			Major: []string{
				"new england journal of medicine", "n engl j med", "nejm",
				"lancet", "jama", "bmj", "british medical journal",
				"annals of internal medicine", "ann intern med",
			},
			High: []string{
				"circulation", "european heart journal", "eur heart j",
				"journal of the american college of cardiology", "j am coll cardiol",
				"american journal of respiratory and critical care medicine", "am j respir crit care med",
				"chest", "kidney international", "kidney int",
				"journal of the american society of nephrology", "j am soc nephrol",
				"gastroenterology", "gut", "hepatology",
				"clinical infectious diseases", "clin infect dis",
				"journal of infectious diseases", "j infect dis",
				"journal of clinical endocrinology", "j clin endocrinol metab",
				"annals of the rheumatic diseases", "ann rheum dis",
				"arthritis & rheumatology", "arthritis rheumatol",
				"blood", "hypertension", "diabetes care",
				"journal of general internal medicine", "j gen intern med",
			},
		},
		Specialties:     defaultSpecialties(),
		TrackedKeywords: defaultTracked(),
		NoveltyKeywords: []string{
			"first-in-class", "practice-changing", "landmark", "novel", "first",
			"superior", "noninferior", "non-inferior", "breakthrough",
			"significantly reduced", "reduced mortality", "updated guideline", "new guideline",
		},
		Population: Population{Min: 50, Threshold: 5000, MaxPoints: 1.5},
		Prevalence: Prevalence{
			High: []string{
				"hypertension", "diabetes", "heart failure", "copd", "chronic obstructive pulmonary",
				"pneumonia", "sepsis", "stroke", "myocardial infarction", "atrial fibrillation",
			},
			Medium: []string{
				"pancreatitis", "dka", "diabetic ketoacidosis", "asthma",
				"chronic kidney disease", "liver disease", "cirrhosis",
			},
			HighPoints:   1,
			MediumPoints: 0.5,
		},
		Hospitalization: Hospitalization{
			Keywords: []string{
				"hospitali*", "hospital", "inpatient*", "acute", "critical", "critically ill",
				"icu", "intensive care", "emergency", "admission*", "admitted",
			},
			Points: 0.5,
		},
		Penalties: []Penalty{
			{Name: "neurology_journal", Journals: []string{"neurology"}, Points: -2},
			{Name: "subanalysis", Keywords: []string{"post hoc", "post-hoc", "secondary analysis", "subanalysis", "sub-analysis", "subgroup analysis"}, Points: -1},
			{Name: "scores", Keywords: []string{"risk score", "prediction model", "prognostic score", "derivation and validation"}, Points: -1},
			{Name: "screening", Keywords: []string{"screening program*", "population screening"}, Points: -1},
			{Name: "prevention", Keywords: []string{"primary prevention"}, Points: -0.5},
			{Name: "biologic", Keywords: []string{"monoclonal antibod*", "biologic therapy", "biologic agent*", "biologics", "biosimilar*"}, Points: -0.5},
		},
		InclusionDesigns: []article.Type{
			article.TypeRCT, article.TypeMetaAnalysis, article.TypeSystematicReview, article.TypeGuideline,
		},
		DesignPoints: map[article.Type]float64{
			article.TypeMetaAnalysis:     3,
			article.TypeSystematicReview: 3,
			article.TypeRCT:              3,
			article.TypeGuideline:        2,
			article.TypeObservational:    1,
			article.TypeRetrospective:    1,
			article.TypeReview:           1,
			article.TypeCaseSeries:       0.5,
			article.TypeCaseReport:       0.5,
		},
	}
}

func defaultSpecialties() []Specialty {
	return []Specialty{
		{article.CategoryCardiology, []string{"heart failure", "myocardial infarction", "atrial fibrillation", "coronary", "cardiac", "cardiovascular", "heart", "arrhythmia*", "cardiomyopathy", "aortic stenosis"}},
		{article.CategoryPulmonology, []string{"asthma", "copd", "chronic obstructive pulmonary", "pulmonary", "pneumonia", "respiratory", "lung", "ards"}},
		{article.CategoryGastroenterology, []string{"crohn*", "ulcerative colitis", "inflammatory bowel", "cirrhosis", "hepatitis", "liver", "gastrointestinal", "pancreatitis"}},
		{article.CategoryNephrology, []string{"kidney", "renal", "dialysis", "glomerul*", "nephropathy", "acute kidney injury"}},
		{article.CategoryNeurology, []string{"stroke", "dementia", "alzheimer*", "parkinson*", "epilepsy", "multiple sclerosis", "migraine"}},
		{article.CategoryEndocrinology, []string{"thyroid", "adrenal", "osteoporosis", "pituitary", "endocrine"}},
		{article.CategoryHematology, []string{"anemia", "anaemia", "thrombosis", "anticoagula*", "venous thromboembolism", "hemophilia", "sickle cell"}},
		{article.CategoryOncology, []string{"cancer", "tumor", "tumour", "carcinoma", "lymphoma", "leukemia", "chemotherapy", "metastatic"}},
		{article.CategoryImmunology, []string{"allerg*", "immunodeficiency", "anaphylaxis", "autoimmune"}},
		{article.CategoryInfectiousDisease, []string{"infection*", "sepsis", "covid-19", "sars-cov-2", "hiv", "tuberculosis", "antibiotic*", "antimicrobial", "influenza", "bacteremia"}},
		{article.CategoryDiabetes, []string{"diabetes", "diabetic", "insulin", "glycemic", "hba1c", "sglt2", "glp-1"}},
		{article.CategoryLipidology, []string{"cholesterol", "ldl", "lipid*", "statin*", "hypercholesterolemia", "triglyceride*", "lipoprotein"}},
		{article.CategoryNutrition, []string{"diet", "dietary", "nutrition", "malnutrition", "vitamin", "supplementation"}},
		{article.CategoryGeriatrics, []string{"older adults", "elderly", "frailty", "geriatric", "nursing home*"}},
		{article.CategoryPsychiatry, []string{"depression", "anxiety", "schizophrenia", "bipolar", "psychiatric", "suicide", "antidepressant*"}},
		{article.CategoryPediatrics, []string{"children", "infants", "pediatric", "paediatric", "neonatal", "adolescents"}},
		{article.CategoryGeneralMedicine, []string{"primary care", "internal medicine", "hospitalized patients", "general practice", "hospitalization"}},
		{article.CategoryRheumatology, []string{"rheumatoid arthritis", "lupus", "gout", "vasculitis", "spondyloarthritis", "psoriatic arthritis", "rheumat*"}},
	}
}

func defaultTracked() []string {
	return []string{
		"hypertension", "diabetes", "heart failure", "copd", "pneumonia", "sepsis", "stroke",
		"myocardial infarction", "atrial fibrillation", "pancreatitis", "diabetic ketoacidosis",
		"asthma", "chronic kidney disease", "liver disease", "venous thromboembolism",
		"anticoagula*", "antibiotic*", "intensive care", "icu", "hospitalization", "mortality",
	}
}
