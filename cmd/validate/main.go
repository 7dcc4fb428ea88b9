// Command validate checks the integrity of a merged drought layer written by
// the local store: field presence per year, weekly count consistency, the
// averaged dry spell and feature ordering.
//
// Usage:
//
//	go run ./cmd/validate \
//	  -asset data/assets/maharashtra/pune/mulshi/drought_pune_mulshi_2017_2023.geojson
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/couchcryptid/drought-severity-etl/internal/domain"
	"github.com/paulmach/orb/geojson"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	assetPath := flag.String("asset", "", "path to a merged drought layer (.geojson)")
	flag.Parse()

	if *assetPath == "" {
		flag.Usage()
		os.Exit(1)
	}

	if code := run(*assetPath); code != 0 {
		os.Exit(code)
	}
}

func run(path string) int {
	fmt.Println("=== Drought Layer Integrity Validation ===")
	fmt.Println()

	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: read layer: %v\n", err)
		return 1
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: decode layer: %v\n", err)
		return 1
	}
	if len(fc.Features) == 0 {
		fmt.Fprintln(os.Stderr, "FATAL: layer has no features")
		return 1
	}

	start, end := yearRange(fc.Features[0].Properties)
	if start == 0 {
		fmt.Fprintln(os.Stderr, "FATAL: no drlb_<year> fields on the first feature")
		return 1
	}

	phases := []*phase{
		validateSchema(fc, start, end),
		validateWeekCounts(fc, start, end),
		validateDrySpell(fc, start, end),
		validateOrdering(fc),
	}

	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	fmt.Println()
	fmt.Printf("Zones: %d, years: %d-%d\n", len(fc.Features), start, end)

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

// yearRange returns the first and last year carrying drought labels.
func yearRange(props geojson.Properties) (int, int) {
	first := 0
	for k := range props {
		rest, ok := strings.CutPrefix(k, "drlb_")
		if !ok {
			continue
		}
		if y, err := strconv.Atoi(rest); err == nil && (first == 0 || y < first) {
			first = y
		}
	}
	return first, domain.LastMergedYear(props)
}

var yearlyCodes = []string{
	"drlb", "drysp", "t_wks", "m_ons", "kh_cr", "pcr_k",
	"w_no", "w_mld", "w_mod", "w_sev",
	"frth0", "frth1", "frth2", "frth3",
	"inth0", "inth1", "inth2", "inth3",
}

func uidOf(f *geojson.Feature, i int) string {
	if uid, ok := f.Properties[domain.PropUID].(string); ok && uid != "" {
		return uid
	}
	return fmt.Sprintf("#%d", i)
}

func number(props geojson.Properties, key string) (float64, bool) {
	v, ok := props[key].(float64)
	return v, ok
}

// ── Phase 1: every zone carries every yearly field ──

func validateSchema(fc *geojson.FeatureCollection, start, end int) *phase {
	p := &phase{name: "Phase 1: Schema"}
	fmt.Println("Phase 1: Schema")

	for i, f := range fc.Features {
		uid := uidOf(f, i)
		for _, key := range []string{domain.PropUID, domain.PropAreaHa, domain.PropAvgDrySpell} {
			if _, ok := f.Properties[key]; !ok {
				p.errorf("%s: missing %s", uid, key)
			}
		}
		for year := start; year <= end; year++ {
			for _, code := range yearlyCodes {
				key := fmt.Sprintf("%s_%d", code, year)
				if _, ok := f.Properties[key]; !ok {
					p.errorf("%s: missing %s", uid, key)
				}
			}
		}
		if f.Geometry == nil {
			p.errorf("%s: missing geometry", uid)
		}
	}
	return p
}

// ── Phase 2: weekly counts agree with labels and frequencies ──

func validateWeekCounts(fc *geojson.FeatureCollection, start, end int) *phase {
	p := &phase{name: "Phase 2: Week counts"}
	fmt.Println("Phase 2: Week counts")

	for i, f := range fc.Features {
		uid := uidOf(f, i)
		for year := start; year <= end; year++ {
			field := func(code string) float64 {
				v, _ := number(f.Properties, fmt.Sprintf("%s_%d", code, year))
				return v
			}
			total := field("t_wks")
			sum := field("w_no") + field("w_mld") + field("w_mod") + field("w_sev")
			if sum != total {
				p.errorf("%s %d: severity weeks sum to %v, total_weeks is %v", uid, year, sum, total)
			}
			if f0 := field("frth0"); f0 != total {
				p.errorf("%s %d: frequency at threshold 0 is %v, total_weeks is %v", uid, year, f0, total)
			}
			for k := 1; k < domain.SeverityLevels; k++ {
				if field(fmt.Sprintf("frth%d", k)) > field(fmt.Sprintf("frth%d", k-1)) {
					p.errorf("%s %d: frequency increases at threshold %d", uid, year, k)
				}
			}

			var labels []int
			raw, _ := f.Properties[fmt.Sprintf("drlb_%d", year)].(string)
			if err := json.Unmarshal([]byte(raw), &labels); err != nil {
				p.errorf("%s %d: labels %q: %v", uid, year, raw, err)
				continue
			}
			if float64(len(labels)) != total {
				p.errorf("%s %d: %d labels, total_weeks is %v", uid, year, len(labels), total)
			}
		}
	}
	return p
}

// ── Phase 3: avg_dryspell is the mean of the yearly maxima ──

func validateDrySpell(fc *geojson.FeatureCollection, start, end int) *phase {
	p := &phase{name: "Phase 3: Average dry spell"}
	fmt.Println("Phase 3: Average dry spell")

	for i, f := range fc.Features {
		uid := uidOf(f, i)
		var sum float64
		for year := start; year <= end; year++ {
			v, _ := number(f.Properties, fmt.Sprintf("drysp_%d", year))
			sum += v
		}
		want := sum / float64(end-start+1)
		got, _ := number(f.Properties, domain.PropAvgDrySpell)
		if math.Abs(got-want) > 1e-9 {
			p.errorf("%s: avg_dryspell %v, mean of yearly maxima %v", uid, got, want)
		}
	}
	return p
}

// ── Phase 4: features are unique and ordered by uid ──

func validateOrdering(fc *geojson.FeatureCollection) *phase {
	p := &phase{name: "Phase 4: Ordering"}
	fmt.Println("Phase 4: Ordering")

	seen := make(map[string]bool, len(fc.Features))
	prev := ""
	for i, f := range fc.Features {
		uid := uidOf(f, i)
		if seen[uid] {
			p.errorf("%s: duplicate uid", uid)
		}
		seen[uid] = true
		if uid < prev {
			p.errorf("%s: appears after %s", uid, prev)
		}
		prev = uid
	}
	return p
}
