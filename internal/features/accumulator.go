package features

import (
	"math"
	"time"

	"github.com/enmstack/analytics-service/internal/models"
)

// bucketAccumulator merges per-machine aggregate rows that share a bucket.
// Energy and production sum across machines; environmental signals average.
type bucketAccumulator struct {
	totalEnergyKWh float64
	avgPowerSum    float64
	maxPowerKW     float64
	loadFactorSum  float64
	loadFactorN    int
	energyN        int

	productionCount float64
	goodCount       float64
	defectiveCount  float64
	throughputSum   float64
	throughputN     int
	hasProduction   bool

	outdoorTempSum float64
	outdoorTempN   int
	indoorTempSum  float64
	indoorTempN    int
	machineTempSum float64
	machineTempN   int
	humiditySum    float64
	humidityN      int
	pressureSum    float64
	pressureN      int
}

func newBucketAccumulator() *bucketAccumulator {
	return &bucketAccumulator{}
}

func (b *bucketAccumulator) addEnergy(e *models.EnergyBucket) {
	b.totalEnergyKWh += e.TotalEnergyKWh
	b.avgPowerSum += e.AvgPowerKW
	if e.MaxPowerKW > b.maxPowerKW {
		b.maxPowerKW = e.MaxPowerKW
	}
	if e.LoadFactor != nil {
		b.loadFactorSum += *e.LoadFactor
		b.loadFactorN++
	}
	b.energyN++
}

func (b *bucketAccumulator) addProduction(p *models.ProductionBucket) {
	b.productionCount += p.TotalCount
	b.goodCount += p.GoodCount
	b.defectiveCount += p.DefectiveCount
	if p.AvgThroughput != nil {
		b.throughputSum += *p.AvgThroughput
		b.throughputN++
	}
	b.hasProduction = true
}

func (b *bucketAccumulator) addEnvironmental(e *models.EnvironmentalBucket) {
	add := func(sum *float64, n *int, v *float64) {
		if v != nil {
			*sum += *v
			*n++
		}
	}
	add(&b.outdoorTempSum, &b.outdoorTempN, e.AvgOutdoorTempC)
	add(&b.indoorTempSum, &b.indoorTempN, e.AvgIndoorTempC)
	add(&b.machineTempSum, &b.machineTempN, e.AvgMachineTempC)
	add(&b.humiditySum, &b.humidityN, e.AvgHumidityPercent)
	add(&b.pressureSum, &b.pressureN, e.AvgPressureBar)
}

// finalize produces the feature map for one bucket. Missing signals become
// NaN so the trainer's row-dropping can see them.
func (b *bucketAccumulator) finalize(bucket time.Time, g models.Granularity) map[string]float64 {
	avg := func(sum float64, n int) float64 {
		if n == 0 {
			return math.NaN()
		}
		return sum / float64(n)
	}

	values := map[string]float64{
		TargetFeature:        b.totalEnergyKWh,
		"avg_power_kw":       avg(b.avgPowerSum, b.energyN),
		"max_power_kw":       b.maxPowerKW,
		"avg_load_factor":    avg(b.loadFactorSum, b.loadFactorN),
		"avg_outdoor_temp_c": avg(b.outdoorTempSum, b.outdoorTempN),
		"avg_indoor_temp_c":  avg(b.indoorTempSum, b.indoorTempN),
		"avg_machine_temp_c": avg(b.machineTempSum, b.machineTempN),
		"avg_humidity":       avg(b.humiditySum, b.humidityN),
		"avg_pressure_bar":   avg(b.pressureSum, b.pressureN),
	}

	if b.hasProduction {
		values["total_production_count"] = b.productionCount
		values["good_count"] = b.goodCount
		values["defective_count"] = b.defectiveCount
		values["avg_throughput"] = avg(b.throughputSum, b.throughputN)
	} else {
		values["total_production_count"] = math.NaN()
		values["good_count"] = math.NaN()
		values["defective_count"] = math.NaN()
		values["avg_throughput"] = math.NaN()
	}

	// Calendar and weather derivations. Buckets are UTC; weekend flags use
	// the UTC day.
	if wd := bucket.UTC().Weekday(); wd == time.Saturday || wd == time.Sunday {
		values[FeatureIsWeekend] = 1
	} else {
		values[FeatureIsWeekend] = 0
	}
	outdoor := values["avg_outdoor_temp_c"]
	if math.IsNaN(outdoor) {
		values[FeatureDegreeDays] = math.NaN()
	} else {
		// Degree time below the balance point, scaled to the bucket width.
		fraction := g.Duration().Hours() / 24.0
		values[FeatureDegreeDays] = math.Abs(outdoor-degreeDayBaseC) * fraction
	}

	return values
}
