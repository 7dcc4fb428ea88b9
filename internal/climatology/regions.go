package climatology

import (
	"errors"
	"fmt"

	"github.com/couchcryptid/drought-severity-etl/internal/domain"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/clip"
	"github.com/paulmach/orb/planar"
)

// ErrNoRegion is returned for zones that intersect none of the macro-regions.
var ErrNoRegion = errors.New("zone outside all agro-climatic regions")

// regionSpec is a macro-region's extent and its onset percentile.
type regionSpec struct {
	Region     domain.Region
	Bound      orb.Bound
	Percentile float64
}

// regions lists the five macro-regions in tie-break order.
var regions = []regionSpec{
	{domain.RegionNorthern, orb.Bound{Min: orb.Point{69.176, 26.132}, Max: orb.Point{82.096, 37.507}}, 75},
	{domain.RegionWestern, orb.Bound{Min: orb.Point{67.682, 18.368}, Max: orb.Point{76.010, 26.148}}, 75},
	{domain.RegionCentral, orb.Bound{Min: orb.Point{76.041, 18.347}, Max: orb.Point{82.040, 26.089}}, 69},
	{domain.RegionEastern, orb.Bound{Min: orb.Point{82.150, 18.391}, Max: orb.Point{99.333, 30.784}}, 65},
	{domain.RegionSouthern, orb.Bound{Min: orb.Point{72.282, 7.596}, Max: orb.Point{84.433, 18.349}}, 50},
}

func lookupRegion(r domain.Region) (regionSpec, error) {
	for _, spec := range regions {
		if spec.Region == r {
			return spec, nil
		}
	}
	return regionSpec{}, fmt.Errorf("unknown region %q", r)
}

// RegionGeometry returns the polygon of a macro-region.
func RegionGeometry(r domain.Region) (orb.Polygon, error) {
	spec, err := lookupRegion(r)
	if err != nil {
		return nil, err
	}
	return spec.Bound.ToPolygon(), nil
}

// OnsetPercentile returns the percentile threshold used for onset detection in r.
func OnsetPercentile(r domain.Region) (float64, error) {
	spec, err := lookupRegion(r)
	if err != nil {
		return 0, err
	}
	return spec.Percentile, nil
}

// AssignRegion returns the macro-region with the largest intersection area
// with geom. Ties keep the earlier region.
func AssignRegion(geom orb.Geometry) (domain.Region, error) {
	if geom == nil {
		return "", ErrNoRegion
	}

	var (
		best     domain.Region
		bestArea float64
	)
	for _, spec := range regions {
		if !spec.Bound.Intersects(geom.Bound()) {
			continue
		}
		clipped := clip.Geometry(spec.Bound, orb.Clone(geom))
		if clipped == nil {
			continue
		}
		if area := planar.Area(clipped); area > bestArea {
			best, bestArea = spec.Region, area
		}
	}
	if bestArea == 0 {
		return "", ErrNoRegion
	}
	return best, nil
}

// AssignRegions tags every zone with its macro-region. Zones that already carry
// a region keep it.
func AssignRegions(zones []domain.Zone) ([]domain.Zone, error) {
	out := make([]domain.Zone, len(zones))
	for i, z := range zones {
		if z.Region == "" {
			r, err := AssignRegion(z.Geometry)
			if err != nil {
				return nil, fmt.Errorf("assign region to zone %s: %w", z.UID, err)
			}
			z.Region = r
		}
		out[i] = z
	}
	return out, nil
}
