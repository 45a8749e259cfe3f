package persist

// Estimate returns the number of bytes the engine would write for r. It
// runs the same encoder as the write path and leaves r.UsedBytes set to the
// result.
func Estimate(r *Record) (int64, error) {
	data, err := encodeRecord(r)
	if err != nil {
		return 0, err
	}
	return int64(len(data)), nil
}
