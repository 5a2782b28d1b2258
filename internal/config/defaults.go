package config

// DefaultHeatIndexCoefficients are the Rothfusz regression coefficients (°F).
func DefaultHeatIndexCoefficients() []float64 {
	return []float64{
		-42.379,
		2.04901523,
		10.14333127,
		-0.22475541,
		-0.00683783,
		-0.05481717,
		0.00122874,
		0.00085282,
		-0.00000199,
	}
}

func DefaultAnomalyParams() AnomalyParams {
	return AnomalyParams{
		ShortCycleWindowMinutes:  60,
		ShortCycleMaxTransitions: 6,
		LongCycleMinutes:         180,
		CoilFreezeTemperature:    32,
		ResponseWindowMinutes:    30,
		MinResponseDelta:         0.5,
		MaxSupplyReturnDelta:     35,
		MinEfficiency:            0.6,
		CurrentTolerance:         0.2,
		IdleWindowMinutes:        30,
		IdleHeatGainDelta:        1,
	}
}
