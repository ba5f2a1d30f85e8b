package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatDetail(t *testing.T) {
	tests := []struct {
		name   string
		detail any
		want   string
	}{
		{"string", "bad input", "bad input"},
		{"field error with loc", []any{map[string]any{"loc": []any{"body", "amount"}, "msg": "required"}}, "body.amount: required"},
		{"field error without loc", []any{map[string]any{"msg": "required"}}, "required"},
		{"field error with empty loc", []any{map[string]any{"loc": []any{}, "msg": "required"}}, "required"},
		{"numeric loc segment", []any{map[string]any{"loc": []any{"body", float64(2)}, "msg": "bad"}}, "body.2: bad"},
		{"loc without msg", []any{map[string]any{"loc": []any{"query"}}}, "query: "},
		{"scalar entries", []any{"first", "second"}, "first; second"},
		{"nil", nil, "Evaluate failed"},
		{"number", float64(3), "Evaluate failed"},
		{"object", map[string]any{"x": 1}, "Evaluate failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatDetail(tt.detail))
		})
	}
}

func TestErrorMessage(t *testing.T) {
	assert.Equal(t, "bad input", errorMessage([]byte(`{"detail":"bad input"}`), 400, "Bad Request"))
	assert.Equal(t, "Internal Server Error", errorMessage([]byte(`garbage`), 500, "Internal Server Error"))
	assert.Equal(t, "HTTP 500", errorMessage([]byte(`garbage`), 500, ""))
	assert.Equal(t, "Evaluate failed", errorMessage([]byte(`["not","an","object"]`), 400, "Bad Request"))
	assert.Equal(t, "HTTP 400", errorMessage([]byte(`{"detail":""}`), 400, "Bad Request"))
}

func TestPositiveSignals(t *testing.T) {
	resp := EvaluateResponse{Signals: []SignalContribution{
		{Name: "velocity", Contribution: 0},
		{Name: "geo", Contribution: 25},
		{Name: "discount", Contribution: -5},
		{Name: "amount", Contribution: 35},
	}}

	got := resp.PositiveSignals()
	if assert.Len(t, got, 2) {
		assert.Equal(t, "amount", got[0].Name)
		assert.Equal(t, "geo", got[1].Name)
	}
	assert.Len(t, resp.Signals, 4, "original slice untouched")
}

func TestPayloadValidate(t *testing.T) {
	p := testPayload()
	assert.NoError(t, p.Validate())

	p.Amount = 0
	assert.ErrorIs(t, p.Validate(), ErrInvalidPayload)

	p = testPayload()
	p.Country = "USA"
	assert.ErrorIs(t, p.Validate(), ErrInvalidPayload)
}
