package logger

import (
	"testing"

	"github.com/Conceptual-Machines/magda-variations/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestFormatFields(t *testing.T) {
	tests := []struct {
		name   string
		fields Fields
		want   string
	}{
		{name: "empty", fields: Fields{}, want: ""},
		{name: "sorted keys", fields: Fields{"b": 2, "a": "x"}, want: "{a=x, b=2}"},
		{name: "floats", fields: Fields{"beat": 1.5}, want: "{beat=1.50}"},
		{name: "int64", fields: Fields{"seq": int64(7)}, want: "{seq=7}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatFields(tt.fields))
		})
	}
}

func TestFieldsWith(t *testing.T) {
	base := Fields{"a": 1}
	out := base.With(Fields{"b": 2})
	assert.Equal(t, Fields{"a": 1, "b": 2}, out)
	assert.Equal(t, Fields{"a": 1}, base)
}

func TestForVariation(t *testing.T) {
	assert.Empty(t, ForVariation(nil))

	f := ForVariation(&models.Variation{
		VariationID: "v1",
		ProjectID:   "p1",
		BaseStateID: "3",
		Status:      models.StatusReady,
	})
	assert.Equal(t, "v1", f["variation_id"])
	assert.Equal(t, "p1", f["project_id"])
	assert.Equal(t, "3", f["base_state_id"])
	assert.Equal(t, "READY", f["status"])
}
