package factory_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/housing-benefits/factory"
	"github.com/warp/housing-benefits/generic"
)

func TestParseProgram_Defaults(t *testing.T) {
	// GIVEN: The preset program JSON
	// WHEN: Parsed back
	// THEN: Same fees, plans and amounts as the Go defaults

	p, err := factory.ParseProgram(factory.DefaultProgramJSON())
	require.NoError(t, err)

	def := factory.DefaultProgram()
	assert.Equal(t, def.Name, p.Name)
	assert.Equal(t, def.WindowCapacity, p.WindowCapacity)
	assert.True(t, p.Fees.ProfessionalCleaning.Equal(generic.MustAmount("150")))
	assert.True(t, p.Fees.HRReviewThreshold.Equal(generic.MustAmount("150")))

	sd := p.Plans[generic.BenefitSecurityDeposit]
	assert.Equal(t, 4, sd.Installments)
	assert.Equal(t, generic.FixedInterval{Days: 14}, sd.Cadence)

	fa := p.Plans[generic.BenefitFlightAgreement]
	assert.Equal(t, 3, fa.Installments)
	assert.Equal(t, generic.CadencePayrollAnchor, fa.Cadence.Type())

	amount, ok := p.DefaultAmount(generic.BenefitBusCard)
	require.True(t, ok)
	assert.Equal(t, "50.00", amount.String())
}

func TestParseProgram_PartialOverride(t *testing.T) {
	p, err := factory.ParseProgram(`{
		"name": "Summer program",
		"window_capacity": 2,
		"program_overstay_rule": true,
		"fees": {"standard_cleaning": "90", "hr_review_threshold": 200},
		"plans": {"flight_agreement": {"cadence": "payroll_anchor", "anchor_days": [22, 7], "installments": 6}},
		"default_amounts": {"transportation": "180.50"}
	}`)
	require.NoError(t, err)

	assert.Equal(t, "Summer program", p.Name)
	assert.Equal(t, 2, p.WindowCapacity)
	assert.Equal(t, "90.00", p.Fees.StandardCleaning.String())
	assert.Equal(t, "200.00", p.Fees.HRReviewThreshold.String())
	assert.Equal(t, "150.00", p.Fees.ProfessionalCleaning.String(), "unset fees keep defaults")
	assert.Equal(t, 6, p.Plans[generic.BenefitFlightAgreement].Installments)
	assert.Equal(t, 4, p.Plans[generic.BenefitSecurityDeposit].Installments)

	transport, _ := p.DefaultAmount(generic.BenefitTransportation)
	assert.Equal(t, "180.50", transport.String())

	assert.Len(t, p.Engine().Rules, 6, "overstay rule enabled")
}

func TestParseProgram_Rejections(t *testing.T) {
	tests := []struct {
		name string
		json string
	}{
		{"malformed", `{"name":`},
		{"unknown benefit plan", `{"plans": {"parking": {"cadence": "fixed_interval", "installments": 2}}}`},
		{"zero installments", `{"plans": {"security_deposit": {"cadence": "fixed_interval", "installments": 0}}}`},
		{"unknown cadence", `{"plans": {"security_deposit": {"cadence": "weekly", "installments": 2}}}`},
		{"anchor out of range", `{"plans": {"bus_card": {"cadence": "payroll_anchor", "anchor_days": [31], "installments": 1}}}`},
		{"negative fee", `{"fees": {"disposal": "-10"}}`},
		{"negative amount", `{"default_amounts": {"bus_card": "-1"}}`},
		{"negative capacity", `{"window_capacity": -1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := factory.ParseProgram(tt.json)
			require.Error(t, err)
			assert.True(t, generic.IsClientError(err), "got %v", err)
		})
	}
}
