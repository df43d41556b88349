package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type period struct {
	Year  int `yaml:"year" validate:"omitempty,gte=2000"`
	Month int `yaml:"month" validate:"omitempty,min=1,max=12"`
}

type options struct {
	Mode   string `yaml:"mode" validate:"oneof=locate direct"`
	Period period `yaml:"period"`
}

func TestStructValidator_Struct(t *testing.T) {
	v := NewStructValidator("yaml")

	tests := []struct {
		name          string
		input         options
		wantErr       bool
		errorContains []string
	}{
		{
			name:  "valid",
			input: options{Mode: "locate", Period: period{Year: 2025, Month: 5}},
		},
		{
			name:  "zero period allowed",
			input: options{Mode: "direct"},
		},
		{
			name:          "month out of range",
			input:         options{Mode: "locate", Period: period{Month: 13}},
			wantErr:       true,
			errorContains: []string{"period.month must be at most 12"},
		},
		{
			name:    "several failures joined",
			input:   options{Mode: "scrape", Period: period{Year: 1999}},
			wantErr: true,
			errorContains: []string{
				"mode must be one of: locate, direct",
				"period.year must be greater than or equal to 2000",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Struct(tt.input)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			for _, want := range tt.errorContains {
				assert.Contains(t, err.Error(), want)
			}
		})
	}
}
