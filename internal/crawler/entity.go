package crawler

import (
	"strings"
	"unicode"
)

// Labels the extractor sets itself, independent of the page's attribute block.
const (
	LabelCompanyLink = "Company Link"
	LabelCompanyName = "Company Name"
)

// FieldKey is the canonical name of a well-known entity field.
type FieldKey string

// Well-known entity fields.
const (
	FieldCompanyLink                FieldKey = "company_link"
	FieldCompanyName                FieldKey = "company_name"
	FieldCompanyNumber              FieldKey = "company_number"
	FieldStatus                     FieldKey = "status"
	FieldIncorporationDate          FieldKey = "incorporation_date"
	FieldCompanyType                FieldKey = "company_type"
	FieldJurisdiction               FieldKey = "jurisdiction"
	FieldRegisteredAddress          FieldKey = "registered_address"
	FieldAgentName                  FieldKey = "agent_name"
	FieldAgentAddress               FieldKey = "agent_address"
	FieldDirectorsOfficers          FieldKey = "directors_officers"
	FieldDissolutionDate            FieldKey = "dissolution_date"
	FieldPreviousNames              FieldKey = "previous_names"
	FieldAlternativeNames           FieldKey = "alternative_names"
	FieldBranch                     FieldKey = "branch"
	FieldBusinessClassificationText FieldKey = "business_classification_text"
	FieldInactiveDirectorsOfficers  FieldKey = "inactive_directors_officers"
	FieldIndustryCodes              FieldKey = "industry_codes"
	FieldBusinessNumber             FieldKey = "business_number"
	FieldGoverningLegislation       FieldKey = "governing_legislation"
)

var wellKnown = map[FieldKey]struct{}{
	FieldCompanyLink: {}, FieldCompanyName: {}, FieldCompanyNumber: {}, FieldStatus: {},
	FieldIncorporationDate: {}, FieldCompanyType: {}, FieldJurisdiction: {},
	FieldRegisteredAddress: {}, FieldAgentName: {}, FieldAgentAddress: {},
	FieldDirectorsOfficers: {}, FieldDissolutionDate: {}, FieldPreviousNames: {},
	FieldAlternativeNames: {}, FieldBranch: {}, FieldBusinessClassificationText: {},
	FieldInactiveDirectorsOfficers: {}, FieldIndustryCodes: {}, FieldBusinessNumber: {},
	FieldGoverningLegislation: {},
}

// aliases maps normalized label spellings seen across registries to a canonical key.
var aliases = map[string]FieldKey{
	"company_status":            FieldStatus,
	"registration_number":       FieldCompanyNumber,
	"company_no":                FieldCompanyNumber,
	"date_of_incorporation":     FieldIncorporationDate,
	"incorporated":              FieldIncorporationDate,
	"type":                      FieldCompanyType,
	"registered_office":         FieldRegisteredAddress,
	"registered_office_address": FieldRegisteredAddress,
	"registered_agent":          FieldAgentName,
	"registered_agent_name":     FieldAgentName,
	"registered_agent_address":  FieldAgentAddress,
	"officers":                  FieldDirectorsOfficers,
	"directors":                 FieldDirectorsOfficers,
	"inactive_officers":         FieldInactiveDirectorsOfficers,
	"dissolved":                 FieldDissolutionDate,
	"date_of_dissolution":       FieldDissolutionDate,
	"other_names":               FieldAlternativeNames,
	"former_names":              FieldPreviousNames,
}

// Entity is one extracted registry record: page labels, used verbatim, mapped
// to their text. Missing fields are simply absent.
type Entity map[string]string

// NormalizeLabel folds a page label into its snake_case form.
func NormalizeLabel(label string) string {
	var b strings.Builder
	pendingSep := false
	for _, r := range strings.ToLower(label) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
			continue
		}
		pendingSep = true
	}
	return b.String()
}

// CanonicalKey resolves a page label to a well-known field, if it is one.
func CanonicalKey(label string) (FieldKey, bool) {
	norm := NormalizeLabel(label)
	if _, ok := wellKnown[FieldKey(norm)]; ok {
		return FieldKey(norm), true
	}
	key, ok := aliases[norm]
	return key, ok
}

// Field returns the value of a well-known field regardless of how the source
// page spelled its label. A label spelled as the canonical key wins over an
// alias; among aliases the lexically smallest label wins.
func (e Entity) Field(key FieldKey) (string, bool) {
	if v, ok := e[string(key)]; ok {
		return v, true
	}
	var (
		best     string
		bestRank = -1
	)
	for label := range e {
		canon, ok := CanonicalKey(label)
		if !ok || canon != key {
			continue
		}
		rank := 1
		if NormalizeLabel(label) == string(key) {
			rank = 0
		}
		if bestRank < 0 || rank < bestRank || (rank == bestRank && label < best) {
			best, bestRank = label, rank
		}
	}
	if bestRank < 0 {
		return "", false
	}
	return e[best], true
}

// Normalized returns a copy keyed by canonical names for well-known labels;
// unrecognized labels pass through verbatim. Colliding labels resolve as
// Field does.
func (e Entity) Normalized() map[string]string {
	out := make(map[string]string, len(e))
	for label, value := range e {
		canon, ok := CanonicalKey(label)
		if !ok {
			out[label] = value
			continue
		}
		if _, done := out[string(canon)]; done {
			continue
		}
		out[string(canon)], _ = e.Field(canon)
	}
	return out
}

// Clone returns an independent copy of the entity.
func (e Entity) Clone() Entity {
	if e == nil {
		return nil
	}
	out := make(Entity, len(e))
	for k, v := range e {
		out[k] = v
	}
	return out
}

// Company is the strongly typed view over the well-known fields.
type Company struct {
	CompanyLink                string `json:"company_link,omitempty"`
	CompanyName                string `json:"company_name,omitempty"`
	CompanyNumber              string `json:"company_number,omitempty"`
	Status                     string `json:"status,omitempty"`
	IncorporationDate          string `json:"incorporation_date,omitempty"`
	CompanyType                string `json:"company_type,omitempty"`
	Jurisdiction               string `json:"jurisdiction,omitempty"`
	RegisteredAddress          string `json:"registered_address,omitempty"`
	AgentName                  string `json:"agent_name,omitempty"`
	AgentAddress               string `json:"agent_address,omitempty"`
	DirectorsOfficers          string `json:"directors_officers,omitempty"`
	DissolutionDate            string `json:"dissolution_date,omitempty"`
	PreviousNames              string `json:"previous_names,omitempty"`
	AlternativeNames           string `json:"alternative_names,omitempty"`
	Branch                     string `json:"branch,omitempty"`
	BusinessClassificationText string `json:"business_classification_text,omitempty"`
	InactiveDirectorsOfficers  string `json:"inactive_directors_officers,omitempty"`
	IndustryCodes              string `json:"industry_codes,omitempty"`
	BusinessNumber             string `json:"business_number,omitempty"`
	GoverningLegislation       string `json:"governing_legislation,omitempty"`
}

// Company projects the entity onto the typed well-known field set.
func (e Entity) Company() Company {
	get := func(k FieldKey) string {
		v, _ := e.Field(k)
		return v
	}
	return Company{
		CompanyLink:                get(FieldCompanyLink),
		CompanyName:                get(FieldCompanyName),
		CompanyNumber:              get(FieldCompanyNumber),
		Status:                     get(FieldStatus),
		IncorporationDate:          get(FieldIncorporationDate),
		CompanyType:                get(FieldCompanyType),
		Jurisdiction:               get(FieldJurisdiction),
		RegisteredAddress:          get(FieldRegisteredAddress),
		AgentName:                  get(FieldAgentName),
		AgentAddress:               get(FieldAgentAddress),
		DirectorsOfficers:          get(FieldDirectorsOfficers),
		DissolutionDate:            get(FieldDissolutionDate),
		PreviousNames:              get(FieldPreviousNames),
		AlternativeNames:           get(FieldAlternativeNames),
		Branch:                     get(FieldBranch),
		BusinessClassificationText: get(FieldBusinessClassificationText),
		InactiveDirectorsOfficers:  get(FieldInactiveDirectorsOfficers),
		IndustryCodes:              get(FieldIndustryCodes),
		BusinessNumber:             get(FieldBusinessNumber),
		GoverningLegislation:       get(FieldGoverningLegislation),
	}
}
