package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Maharashtra", "maharashtra"},
		{"Pune City", "pune_city"},
		{"Ahmednagar (Rural)", "ahmednagar_rural"},
		{"Rāmpur", "rmpur"},
		{"a.b,c:d;e_f-g", "a.b,c:d;e_f-g"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeName(tt.in))
		})
	}
}

func TestAssetNames(t *testing.T) {
	suffix := AssetSuffix("Pune", "Mulshi")

	assert.Equal(t, "pune_mulshi", suffix)
	assert.Equal(t, "maharashtra/pune/mulshi/", AssetDir("Maharashtra", "Pune", "Mulshi"))
	assert.Equal(t, "maharashtra/", AssetDir("Maharashtra", "", ""))
	assert.Equal(t, "pune_mulshi_drought_0-15000_2022", ChunkAssetName(suffix, 0, 15000, 2022))
	assert.Equal(t, "drought_pune_mulshi_2022", YearlyAssetName("drought", suffix, 2022))
	assert.Equal(t, "drought_pune_mulshi_2017_2022", LongitudinalAssetName("drought", suffix, 2017, 2022))
	assert.Equal(t, "pune_mulshi_drought", LayerName(suffix))
}
