package events

import "sort"

// summaryAccumulator collects per-(flag, version, variation) counters
// across one flush interval and renders them into a single summary
// event at flush time.
type summaryAccumulator struct {
	start    int64
	counters map[variationKey]*summaryCounter
}

func newSummaryAccumulator(startMillis int64) *summaryAccumulator {
	return &summaryAccumulator{start: startMillis, counters: make(map[variationKey]*summaryCounter)}
}

// record folds one feature evaluation into the accumulator, unless
// the event requested exclusion from summaries.
func (s *summaryAccumulator) record(e Event) {
	if e.ExcludeSummary {
		return
	}
	idx := -1
	if e.VariationIndex != nil {
		idx = *e.VariationIndex
	}
	version := 0
	if e.Version != nil {
		version = *e.Version
	}
	key := variationKey{flagKey: e.FlagKey, version: version, index: idx}

	c, ok := s.counters[key]
	if !ok {
		c = &summaryCounter{value: e.Value, def: e.Default, version: version}
		s.counters[key] = c
	}
	c.count++
}

// flush renders the accumulated counters into a SummaryEvent covering
// [s.start, endMillis), or returns ok=false if nothing was recorded.
func (s *summaryAccumulator) flush(endMillis int64) (SummaryEvent, bool) {
	if len(s.counters) == 0 {
		return SummaryEvent{}, false
	}

	features := make(map[string]FeatureSummary)
	for key, c := range s.counters {
		fs, ok := features[key.flagKey]
		if !ok {
			fs = FeatureSummary{Default: c.def}
		}
		var variation *int
		if key.index >= 0 {
			idx := key.index
			variation = &idx
		}
		fs.Counters = append(fs.Counters, VariationCount{
			Version:   key.version,
			Variation: variation,
			Value:     c.value,
			Count:     c.count,
		})
		features[key.flagKey] = fs
	}

	for flagKey, fs := range features {
		sort.Slice(fs.Counters, func(i, j int) bool {
			if fs.Counters[i].Version != fs.Counters[j].Version {
				return fs.Counters[i].Version < fs.Counters[j].Version
			}
			vi, vj := -1, -1
			if fs.Counters[i].Variation != nil {
				vi = *fs.Counters[i].Variation
			}
			if fs.Counters[j].Variation != nil {
				vj = *fs.Counters[j].Variation
			}
			return vi < vj
		})
		features[flagKey] = fs
	}

	return SummaryEvent{
		Kind:      KindSummary,
		StartDate: s.start,
		EndDate:   endMillis,
		Features:  features,
	}, true
}
