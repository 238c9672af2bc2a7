package governance

// TokenWinner is the winning ratio for one token together with the
// power that backed it.
type TokenWinner struct {
	WinningRatio   int
	WinningPower   int64
	CandidateCount int
}

// TallyResult is the outcome of one tally computation. It is immutable
// once produced and safe to share by reference.
type TallyResult struct {
	PerTokenWinner   map[string]TokenWinner
	TotalVotingPower int64
	VoterCount       int
}

// Tally computes per-token winning ratios from an ordered sequence of
// votes. It is a pure function with no state or network dependencies.
//
// Deduplication: for voters appearing multiple times, the vote with the
// latest timestamp wins; on an exact timestamp tie the vote appearing
// later in the input sequence wins. Both rules are load-bearing for
// reproducibility across replays of the same stream.
//
// Winner selection: for each token the ratio with the greatest
// accumulated power wins; on an exact power tie the numerically smaller
// ratio wins. Selection never depends on map iteration order.
func Tally(votes []Vote) TallyResult {
	// Keep-latest scan in input order. The >= comparison makes the
	// later stream position win exact timestamp ties.
	latest := make(map[string]Vote, len(votes))
	for _, v := range votes {
		cur, ok := latest[v.VoterID]
		if !ok || !v.Timestamp.Before(cur.Timestamp) {
			latest[v.VoterID] = v
		}
	}

	var totalPower int64
	buckets := make(map[string]map[int]int64)
	for _, v := range latest {
		totalPower += v.VotingPower
		for _, rc := range v.RatioChanges {
			b, ok := buckets[rc.Token]
			if !ok {
				b = make(map[int]int64)
				buckets[rc.Token] = b
			}
			b[rc.NewRatio] += v.VotingPower
		}
	}

	winners := make(map[string]TokenWinner, len(buckets))
	for token, b := range buckets {
		var (
			bestRatio = -1
			bestPower int64
		)
		for ratio, power := range b {
			switch {
			case bestRatio < 0,
				power > bestPower,
				power == bestPower && ratio < bestRatio:
				bestRatio = ratio
				bestPower = power
			}
		}
		winners[token] = TokenWinner{
			WinningRatio:   bestRatio,
			WinningPower:   bestPower,
			CandidateCount: len(b),
		}
	}

	return TallyResult{
		PerTokenWinner:   winners,
		TotalVotingPower: totalPower,
		VoterCount:       len(latest),
	}
}
