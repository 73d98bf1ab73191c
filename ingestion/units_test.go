package ingestion

import (
	"testing"

	"github.com/poiesic/veridoc/core"
	"github.com/stretchr/testify/assert"
)

func TestCanonicalValue(t *testing.T) {
	tests := []struct {
		value string
		unit  string
		want  string
	}{
		{"60", "V", "60 v"},
		{"60V", "", "60 v"},
		{"60.0 V", "", "60 v"},
		{"0.06kV", "", "60 v"},
		{"60 v", "", "60 v"},
		{"72 V", "V", "72 v"},
		{"1", "µA", "1e-06 a"},
		{"1", "uA", "1e-06 a"},
		{"10", "kΩ", "10000 ohm"},
		{"−5", "V", "-5 v"},
		{"2.4", "GHz", "2.4e+09 hz"},
		{"0.28", "um", "2.8e-07 m"},
		{"12", "nm", "1.2e-08 m"},
		{"3", "Pa", "3 pa"},
		{"typical", "", "typical"},
		{"  See Note 3 ", "", "see note 3"},
	}

	for _, tt := range tests {
		t.Run(tt.value+tt.unit, func(t *testing.T) {
			assert.Equal(t, tt.want, CanonicalValue(tt.value, tt.unit))
		})
	}
}

func TestParametersEqual(t *testing.T) {
	a := []core.Parameter{
		{Name: "BVDSS", Value: "60", Unit: "V", Condition: "VGS = 0 V"},
		{Name: "RDS(on)", Value: "12", Unit: "mΩ"},
	}
	b := []core.Parameter{
		{Name: "rds(on)", Value: "0.012", Unit: "ohm"},
		{Name: "bvdss", Value: "60.0V", Condition: "vgs=0 v"},
	}
	assert.True(t, ParametersEqual(a, b))

	c := []core.Parameter{{Name: "BVDSS", Value: "65", Unit: "V", Condition: "VGS = 0 V"}}
	assert.False(t, ParametersEqual(a[:1], c))

	assert.True(t, ParametersEqual(nil, []core.Parameter{}))
	assert.False(t, ParametersEqual(a, nil))
}
