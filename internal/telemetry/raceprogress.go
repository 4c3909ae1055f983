package telemetry

// computeRaceProgress fills raceProgress and the InPit status for one
// resampled driver.
//
// race_progress = (lap-1)·L + rel_dist·L. While the driver is in the
// pit lane the value is frozen at its pit-entry level so a short pit
// lane cannot advance a car past drivers on the racing line.
//
// Pit detection policy: the provider's explicit per-sample flag wins
// when present; otherwise the pit-lane bounding box from the circuit
// metadata is consulted. With neither, no samples are flagged.
func computeRaceProgress(r *resampledDriver, circuit float64, pit *PitBox) {
	inPit := func(i int) bool {
		if r.inPit != nil {
			return r.inPit[i]
		}
		return pit.Contains(r.x[i], r.y[i])
	}

	frozen := 0.0
	prev := 0.0
	wasInPit := false
	for i := range r.raceProgress {
		rp := (float64(r.lap[i])-1)*circuit + r.relDist[i]*circuit

		if inPit(i) {
			if !wasInPit {
				frozen = prev
				if i == 0 {
					frozen = rp
				}
				wasInPit = true
			}
			r.raceProgress[i] = frozen
			r.status[i] = StatusInPit
			prev = frozen
			continue
		}

		// The rounded lap channel flips half a sample before the
		// interpolated lap distance finishes resetting, which would read
		// as backwards motion. Progress is clamped non-decreasing.
		if rp < prev {
			rp = prev
		}
		wasInPit = false
		r.raceProgress[i] = rp
		prev = rp
	}
}
