package domain

import (
	"fmt"
	"regexp"
	"strings"
)

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9 .,:;_-]`)

// SanitizeName lower-cases s, strips characters the asset store rejects and
// replaces spaces with underscores.
func SanitizeName(s string) string {
	return strings.ReplaceAll(unsafeNameChars.ReplaceAllString(strings.ToLower(s), ""), " ", "_")
}

// AssetDir joins sanitised folder names into a slash-terminated asset folder.
func AssetDir(folders ...string) string {
	var b strings.Builder
	for _, f := range folders {
		if f == "" {
			continue
		}
		b.WriteString(SanitizeName(f))
		b.WriteByte('/')
	}
	return b.String()
}

// AssetSuffix names a block's assets, e.g. "pune_mulshi".
func AssetSuffix(district, block string) string {
	return SanitizeName(district) + "_" + SanitizeName(block)
}

// ChunkAssetName names the export of zones [start, end) for one year.
func ChunkAssetName(suffix string, start, end, year int) string {
	return fmt.Sprintf("%s_drought_%d-%d_%d", suffix, start, end, year)
}

// YearlyAssetName names the merged chunks of one year.
func YearlyAssetName(prefix, suffix string, year int) string {
	return fmt.Sprintf("%s_%s_%d", prefix, suffix, year)
}

// LongitudinalAssetName names the multi-year merged layer.
func LongitudinalAssetName(prefix, suffix string, startYear, endYear int) string {
	return fmt.Sprintf("%s_%s_%d_%d", prefix, suffix, startYear, endYear)
}

// LayerName is the downstream vector layer for a block's merged drought asset.
func LayerName(suffix string) string {
	return SanitizeName(suffix) + "_drought"
}
