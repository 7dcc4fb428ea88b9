package indicator

import "github.com/couchcryptid/drought-severity-etl/internal/domain"

// Datasets names the backend series each indicator reads.
type Datasets struct {
	Precipitation domain.RasterSeries // daily
	NDVI          domain.RasterSeries
	NDWI          domain.RasterSeries
	ET            domain.RasterSeries // 8-day composites
	PET           domain.RasterSeries // 8-day composites
	LULC          domain.RasterSeries // yearly crop classification

	// ETScaleFactor converts stored ET/PET values to millimetres.
	ETScaleFactor float64
	// CropClasses are the LULC classes counted as kharif cropped:
	// single kharif, double and triple cropped.
	CropClasses []int
}

// DefaultDatasets returns the public datasets the engine was calibrated on.
func DefaultDatasets() Datasets {
	return Datasets{
		Precipitation: domain.RasterSeries{Dataset: "UCSB-CHG/CHIRPS/DAILY", Band: "precipitation", Scale: 5566, AvailableFrom: 1981},
		NDVI:          domain.RasterSeries{Dataset: "MODIS/MOD09GA_006_NDVI", Band: "NDVI", Scale: 464, AvailableFrom: 2000},
		NDWI:          domain.RasterSeries{Dataset: "MODIS/MOD09GA_006_NDWI", Band: "NDWI", Scale: 464, AvailableFrom: 2000},
		ET:            domain.RasterSeries{Dataset: "MODIS/061/MOD16A2GF", Band: "ET", Scale: 500, AvailableFrom: 2000},
		PET:           domain.RasterSeries{Dataset: "MODIS/061/MOD16A2GF", Band: "PET", Scale: 500, AvailableFrom: 2000},
		LULC:          domain.RasterSeries{Dataset: "LULC_v3", Band: "predicted_label", Scale: 10, AvailableFrom: 2017},
		ETScaleFactor: 0.1,
		CropClasses:   []int{8, 10, 11},
	}
}
