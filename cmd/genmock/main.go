// Command genmock generates a synthetic block for local runs: zone
// boundaries as GeoJSON and pre-reduced dataset values as CSV, laid out the
// way the local store reads them. Values follow a simple monsoon climatology
// with one optional dry year, so every indicator has history to compare with.
//
// Usage:
//
//	go run ./cmd/genmock \
//	  -out data/mock \
//	  -state Maharashtra -district Pune -block Mulshi \
//	  -zones 6 -end-year 2023 -dry-year 2023
package main

import (
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/couchcryptid/drought-severity-etl/internal/adapter/localstore"
	"github.com/couchcryptid/drought-severity-etl/internal/climatology"
	"github.com/couchcryptid/drought-severity-etl/internal/domain"
	"github.com/couchcryptid/drought-severity-etl/internal/indicator"
	"github.com/gocarina/gocsv"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/geojson"
)

const (
	zoneSize      = 0.02 // degrees
	compositeStep = 8    // days between vegetation and ET composites
)

type options struct {
	out             string
	state           string
	district        string
	block           string
	zones           int
	originLon       float64
	originLat       float64
	referenceStart  int
	vegetationStart int
	endYear         int
	dryYear         int
	seed            uint64
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	var o options
	flag.StringVar(&o.out, "out", "data/mock", "output directory")
	flag.StringVar(&o.state, "state", "Maharashtra", "state name")
	flag.StringVar(&o.district, "district", "Pune", "district name")
	flag.StringVar(&o.block, "block", "Mulshi", "block name")
	flag.IntVar(&o.zones, "zones", 6, "number of zones")
	flag.Float64Var(&o.originLon, "lon", 73.45, "longitude of the first zone's south-west corner")
	flag.Float64Var(&o.originLat, "lat", 18.45, "latitude of the first zone's south-west corner")
	flag.IntVar(&o.referenceStart, "reference-start", 1981, "first year of precipitation history")
	flag.IntVar(&o.vegetationStart, "vegetation-start", 2000, "first year of vegetation and ET history")
	flag.IntVar(&o.endYear, "end-year", 2023, "last year generated")
	flag.IntVar(&o.dryYear, "dry-year", 0, "year with a weak monsoon, 0 for none")
	flag.Uint64Var(&o.seed, "seed", 1, "random seed")
	flag.Parse()

	if o.zones <= 0 || o.endYear < o.vegetationStart || o.vegetationStart < o.referenceStart {
		flag.Usage()
		return fmt.Errorf("invalid flags: need zones > 0 and reference-start <= vegetation-start <= end-year")
	}

	zones, err := makeZones(o)
	if err != nil {
		return err
	}

	zonesPath := localstore.NewZoneLoader(filepath.Join(o.out, "zones"), "").Path(domain.RunRequest{
		State: o.state, District: o.district, Block: o.block,
	})
	if err := writeZones(zonesPath, zones); err != nil {
		return fmt.Errorf("writing zones: %w", err)
	}
	log.Printf("wrote %d zones: %s", len(zones), zonesPath)

	g := &generator{opts: o, ds: indicator.DefaultDatasets(), rng: rand.New(rand.NewPCG(o.seed, o.seed^0x9e3779b97f4a7c15))}
	region, err := climatology.AssignRegion(zones[0].Geometry)
	if err != nil {
		return err
	}
	g.precipitation("region:"+string(region), 1)
	for i, z := range zones {
		wetness := 0.9 + 0.2*float64(i)/float64(len(zones))
		g.precipitation(z.UID, wetness)
		g.vegetation(z.UID)
		g.evapotranspiration(z.UID)
		g.landUse(z)
	}

	reductionsPath := filepath.Join(o.out, "reductions.csv")
	if err := writeReductions(reductionsPath, g.rows); err != nil {
		return fmt.Errorf("writing reductions: %w", err)
	}
	log.Printf("wrote %d reductions for region %s: %s", len(g.rows), region, reductionsPath)
	return nil
}

// makeZones lays zones out on a grid of squares two rows high.
func makeZones(o options) ([]domain.Zone, error) {
	zones := make([]domain.Zone, o.zones)
	for i := range zones {
		lon := o.originLon + float64(i/2)*zoneSize
		lat := o.originLat + float64(i%2)*zoneSize
		b := orb.Bound{Min: orb.Point{lon, lat}, Max: orb.Point{lon + zoneSize, lat + zoneSize}}
		poly := b.ToPolygon()
		zones[i] = domain.Zone{
			UID:      fmt.Sprintf("%s_%d", domain.AssetSuffix(o.district, o.block), i+1),
			Geometry: poly,
			AreaHa:   math.Round(geo.Area(poly)) / 10_000,
		}
	}
	return climatology.AssignRegions(zones)
}

func writeZones(path string, zones []domain.Zone) error {
	fc := geojson.NewFeatureCollection()
	for _, z := range zones {
		f := geojson.NewFeature(z.Geometry)
		f.Properties[domain.PropUID] = z.UID
		f.Properties[domain.PropAreaHa] = z.AreaHa
		f.Properties["region"] = string(z.Region)
		fc.Append(f)
	}
	data, err := fc.MarshalJSON()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func writeReductions(path string, rows []localstore.ReductionRow) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return gocsv.MarshalFile(&rows, f)
}

type generator struct {
	opts options
	ds   indicator.Datasets
	rng  *rand.Rand
	rows []localstore.ReductionRow
}

func (g *generator) add(uid string, series domain.RasterSeries, d time.Time, masked bool, v float64) {
	g.rows = append(g.rows, localstore.ReductionRow{
		UID:     uid,
		Dataset: series.Dataset,
		Band:    series.Band,
		Date:    d.Format(time.DateOnly),
		Masked:  masked,
		Value:   strconv.FormatFloat(math.Round(v*1000)/1000, 'f', -1, 64),
	})
}

// monsoonFactor is the share of peak rainfall expected on day d of a season
// whose onset falls on onsetDOY.
func monsoonFactor(d time.Time, onsetDOY int) float64 {
	doy := d.YearDay()
	switch {
	case doy < onsetDOY || doy > 280:
		return 0.02
	case doy < onsetDOY+14:
		return 0.5
	default:
		return 1
	}
}

func (g *generator) yearFactor(year int) float64 {
	if year == g.opts.dryYear {
		return 0.35
	}
	return 0.8 + 0.4*g.rng.Float64()
}

func (g *generator) precipitation(uid string, wetness float64) {
	for year := g.opts.referenceStart; year <= g.opts.endYear; year++ {
		onset := 152 + g.rng.IntN(20) // early to late June
		if year == g.opts.dryYear {
			onset += 21
		}
		yf := g.yearFactor(year)
		for d := yearStart(year); d.Year() == year; d = d.AddDate(0, 0, 1) {
			mm := 0.0
			if g.rng.Float64() < 0.7 {
				mm = g.rng.ExpFloat64() * 11 * monsoonFactor(d, onset) * yf * wetness
			}
			g.add(uid, g.ds.Precipitation, d, false, mm)
		}
	}
}

// greenness peaks in September and bottoms out in April.
func greenness(d time.Time) float64 {
	return 0.5 + 0.5*math.Cos(2*math.Pi*float64(d.YearDay()-255)/365)
}

func (g *generator) vegetation(uid string) {
	for year := g.opts.vegetationStart; year <= g.opts.endYear; year++ {
		vf := 1.0
		if year == g.opts.dryYear {
			vf = 0.6
		}
		for d := yearStart(year); d.Year() == year; d = d.AddDate(0, 0, compositeStep) {
			gr := greenness(d)
			g.add(uid, g.ds.NDVI, d, true, 0.2+0.5*gr*vf+0.03*g.rng.NormFloat64())
			g.add(uid, g.ds.NDWI, d, true, -0.1+0.4*gr*vf+0.03*g.rng.NormFloat64())
		}
	}
}

func (g *generator) evapotranspiration(uid string) {
	for year := g.opts.vegetationStart; year <= g.opts.endYear; year++ {
		ef := 1.0
		if year == g.opts.dryYear {
			ef = 0.45
		}
		for d := yearStart(year); d.Year() == year; d = d.AddDate(0, 0, compositeStep) {
			pet := 350 + 100*g.rng.Float64()
			et := pet * (0.25 + 0.6*greenness(d)*ef)
			g.add(uid, g.ds.ET, d, true, et)
			g.add(uid, g.ds.PET, d, true, pet)
		}
	}
}

// landUse writes the yearly count of cropped pixels.
func (g *generator) landUse(z domain.Zone) {
	pixels := z.AreaHa * 10_000 / (g.ds.LULC.Scale * g.ds.LULC.Scale)
	for year := max(g.ds.LULC.AvailableFrom, g.opts.vegetationStart); year <= g.opts.endYear; year++ {
		share := 0.55 + 0.25*g.rng.Float64()
		if year == g.opts.dryYear {
			share *= 0.6
		}
		g.add(z.UID, g.ds.LULC, yearStart(year), true, math.Round(pixels*share))
	}
}

func yearStart(year int) time.Time {
	return time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
}
