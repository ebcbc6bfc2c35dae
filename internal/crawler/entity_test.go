package crawler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeLabel(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"Company Number":                "company_number",
		"Directors / Officers":          "directors_officers",
		"  Registered Address  ":        "registered_address",
		"Inactive Directors / Officers": "inactive_directors_officers",
		"Company Link":                  "company_link",
		"":                              "",
		"--":                            "",
	}
	for in, want := range cases {
		require.Equal(t, want, NormalizeLabel(in), in)
	}
}

func TestEntityFieldResolvesVerbatimLabels(t *testing.T) {
	t.Parallel()

	e := Entity{
		LabelCompanyLink:       "https://opencorporates.com/companies/us_de/1",
		LabelCompanyName:       "ACME INC",
		"Company Number":       "1",
		"Registered Office":    "1 Main St",
		"Directors / Officers": "JANE DOE, director",
		"Some Registry Oddity": "kept",
	}

	v, ok := e.Field(FieldCompanyNumber)
	require.True(t, ok)
	require.Equal(t, "1", v)

	v, ok = e.Field(FieldRegisteredAddress)
	require.True(t, ok)
	require.Equal(t, "1 Main St", v)

	_, ok = e.Field(FieldDissolutionDate)
	require.False(t, ok)

	company := e.Company()
	require.Equal(t, "ACME INC", company.CompanyName)
	require.Equal(t, "https://opencorporates.com/companies/us_de/1", company.CompanyLink)
	require.Equal(t, "JANE DOE, director", company.DirectorsOfficers)
	require.Empty(t, company.Status)

	norm := e.Normalized()
	require.Equal(t, "kept", norm["Some Registry Oddity"])
	require.Equal(t, "1 Main St", norm["registered_address"])
	require.NotContains(t, norm, "Registered Office")
}

func TestEntityFieldPrefersExactLabel(t *testing.T) {
	t.Parallel()

	e := Entity{"Status": "Active", "Company Status": "Dissolved"}
	v, ok := e.Field(FieldStatus)
	require.True(t, ok)
	require.Equal(t, "Active", v)
}

func TestEntityCollidingLabelsResolveStably(t *testing.T) {
	t.Parallel()

	status := Entity{"Status": "Active", "Company Status": "Dissolved"}
	officers := Entity{"Officers": "A", "Directors": "B"}
	for range 200 {
		require.Equal(t, "Active", status.Normalized()["status"])
		require.Equal(t, "Active", status.Company().Status)

		require.Equal(t, "B", officers.Company().DirectorsOfficers)
		require.Equal(t, "B", officers.Normalized()["directors_officers"])
	}
	require.Len(t, officers.Normalized(), 1)
}

func TestEntityClone(t *testing.T) {
	t.Parallel()

	var nilEntity Entity
	require.Nil(t, nilEntity.Clone())

	e := Entity{"a": "1"}
	c := e.Clone()
	c["a"] = "2"
	require.Equal(t, "1", e["a"])
}
