package downloader

// entryRange is the on-disk byte span of one table entry, keyed only by
// the coordinates planFetchRuns needs.
type entryRange struct {
	begin uint64
	end   uint64
}

// fetchRun is a single HTTP range request: bytes [Begin, End).
type fetchRun struct {
	Begin uint64
	End   uint64
}

// planFetchRuns implements the greedy coalescing algorithm of spec
// §4.5.3 steps 2-4: entries (already missing and sorted by offset
// ascending) are merged into runs so long as the gap to the next entry
// is within maxOverflow and the resulting run still fits upperBound. A
// single entry whose own span exceeds upperBound becomes its own run,
// fetched in full rather than split, per step 4.
func planFetchRuns(entries []entryRange, upperBound, maxOverflow uint64) []fetchRun {
	if len(entries) == 0 {
		return nil
	}
	runs := make([]fetchRun, 0, len(entries))
	runBegin, runEnd := entries[0].begin, entries[0].end
	for _, e := range entries[1:] {
		if e.begin < runEnd {
			// Overlapping entries (shouldn't occur in a valid
			// archive); treat as contiguous rather than going
			// backwards.
			if e.end > runEnd {
				runEnd = e.end
			}
			continue
		}
		gap := e.begin - runEnd
		candidateEnd := e.end
		if gap <= maxOverflow && candidateEnd-runBegin <= upperBound {
			runEnd = candidateEnd
			continue
		}
		runs = append(runs, fetchRun{Begin: runBegin, End: runEnd})
		runBegin, runEnd = e.begin, e.end
	}
	runs = append(runs, fetchRun{Begin: runBegin, End: runEnd})
	return runs
}
