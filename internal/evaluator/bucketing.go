package evaluator

import (
	"crypto/md5"
	"encoding/hex"
	"strconv"

	"github.com/flagcore-io/flagcore-go/internal/flagmodel"
)

// bucketScale is the denominator rollout weights are expressed
// against: a WeightedVariation.Weight of 50000 means 50% of traffic,
// matching the hundred-thousandths convention used throughout the
// evaluator so that rollout percentages can be specified to two
// decimal places (e.g. 33.33%) without fractional weights.
const bucketScale = 100000

// bucketUser computes a deterministic bucket in [0, bucketScale) for
// a context under a given flag key, salt, and optional experiment
// seed.
//
// Hashing a context's key against the flag key + salt (or, when set,
// a numeric seed instead of the flag key+salt pair) guarantees the
// same context always lands in the same bucket for a given rollout,
// and that bucket assignments are independent across unrelated flags.
// The hash itself is MD5 over "<hashKey>.<contextKey>", matching the
// reference implementation byte-for-byte so bucket assignments are
// reproducible across languages for the same (key, salt, seed).
func bucketUser(contextKey, flagKey, salt string, seed *int64) float64 {
	if contextKey == "" {
		return 0
	}
	var hashKey string
	if seed != nil {
		hashKey = strconv.FormatInt(*seed, 10)
	} else {
		hashKey = flagKey + "." + salt
	}
	input := hashKey + "." + contextKey

	sum := md5.Sum([]byte(input))
	hexHash := hex.EncodeToString(sum[:])[:15]
	intVal, err := strconv.ParseUint(hexHash, 16, 64)
	if err != nil {
		return 0
	}
	// The first 15 hex digits (60 bits) of the digest, scaled into
	// [0,1) then onto the bucket space, so that bucket boundaries move
	// smoothly as weights change rather than jumping discontinuously
	// at power-of-two boundaries.
	const hashBucketSpace = float64(0xFFFFFFFFFFFFFFF)
	bucketVal := float64(intVal) / hashBucketSpace
	return bucketVal * bucketScale
}

// resolveContextForRollout picks which context (by kind) a rollout's
// bucketing key should be drawn from; the single/default context if
// the rollout didn't specify a kind.
func resolveContextForRollout(mc flagmodel.MultiContext, rollout *flagmodel.Rollout) (flagmodel.Context, bool) {
	kind := flagmodel.DefaultContextKind
	if rollout != nil && rollout.ContextKind != "" {
		kind = rollout.ContextKind
	}
	return mc.Get(kind)
}

// bucketingKey resolves the attribute a rollout buckets by (default:
// the context's key), falling back to the context key if the
// configured attribute is absent or not a string.
func bucketingKey(c flagmodel.Context, bucketBy string) string {
	if bucketBy == "" || bucketBy == "key" {
		return c.Key
	}
	ref := flagmodel.NewAttrRef(bucketBy)
	v, ok := ref.Get(c)
	if !ok {
		return c.Key
	}
	if s, ok := v.(string); ok {
		return s
	}
	return c.Key
}

// selectWeightedVariation picks a variation from a Rollout's weighted
// distribution for the given context, returning the chosen variation
// index and whether this context fell into the experiment's tracked
// population (only meaningful when IsExperiment is set).
func selectWeightedVariation(mc flagmodel.MultiContext, flagKey, salt string, rollout *flagmodel.Rollout) (variation int, inExperiment bool, ok bool) {
	if rollout == nil || len(rollout.Variations) == 0 {
		return 0, false, false
	}
	c, found := resolveContextForRollout(mc, rollout)
	if !found {
		return 0, false, false
	}

	key := bucketingKey(c, rollout.BucketBy)
	bucket := bucketUser(key, flagKey, salt, rollout.Seed)

	var cumulative float64
	for _, wv := range rollout.Variations {
		cumulative += float64(wv.Weight)
		if bucket < cumulative {
			return wv.Variation, rollout.IsExperiment && !wv.Untracked, true
		}
	}
	last := rollout.Variations[len(rollout.Variations)-1]
	return last.Variation, rollout.IsExperiment && !last.Untracked, true
}
