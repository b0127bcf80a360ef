package ingest

// Calibrate converts a raw reading into its calibrated value.
// Pure and deterministic: the same (raw, offset, gain) triple always yields
// the same result, bit for bit.
func Calibrate(raw, offset, gain float64) float64 {
	return raw*gain + offset
}
