package escrow

import "sort"

// maxCombinationInputs bounds the exhaustive search. Wallets with more coins
// fall back to a largest first selection.
const maxCombinationInputs = 16

// SelectUnspents returns the smallest subset of utxos whose value covers
// targetAmount plus the fee required to spend them at feeRate (sat/vbyte)
// in a transaction with the given outputs. The selected coins are preferred
// not to exceed 10x the target, to avoid locking big coins for small trades.
func SelectUnspents(
	utxos []Utxo, targetAmount, feeRate int64, outScriptTypes []int,
) (coins []Utxo, fee int64, err error) {
	if targetAmount <= 0 {
		return nil, 0, ErrInvalidAmount
	}

	sorted := make([]Utxo, len(utxos))
	copy(sorted, utxos)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Value > sorted[j].Value
	})

	covers := func(set []Utxo) (int64, bool) {
		f := estimateFee(set, outScriptTypes, feeRate)
		return f, TotalValue(set) >= targetAmount+f
	}

	if len(sorted) <= maxCombinationInputs {
		if set := getBestCombination(sorted, targetAmount, covers); set != nil {
			f, _ := covers(set)
			return set, f, nil
		}
		return nil, 0, ErrInsufficientFunds
	}

	for i := range sorted {
		set := sorted[:i+1]
		if f, ok := covers(set); ok {
			selected := make([]Utxo, len(set))
			copy(selected, set)
			return selected, f, nil
		}
	}
	return nil, 0, ErrInsufficientFunds
}

func estimateFee(ins []Utxo, outScriptTypes []int, feeRate int64) int64 {
	inScriptTypes := make([]int, 0, len(ins))
	for _, u := range ins {
		inScriptTypes = append(inScriptTypes, ScriptType(u.PkScript))
	}
	return int64(EstimateTxSize(inScriptTypes, outScriptTypes)) * feeRate
}

// getBestCombination selects as few elements as possible from items so that
// covers is satisfied, preferring a total within 10x the target:
//  1. set size = 1
//  2. enumerate all combinations of size elements
//  3. return the first one that covers the target within the ratio
//  4. otherwise size++ and go to step 2.
//
// If no combination fits the ratio, the smallest covering one is returned.
func getBestCombination(
	items []Utxo, target int64, covers func([]Utxo) (int64, bool),
) []Utxo {
	var fallback []Utxo
	for size := 1; size <= len(items); size++ {
		for _, set := range getCombinations(items, size) {
			if _, ok := covers(set); !ok {
				continue
			}
			if TotalValue(set) <= target*10 {
				return set
			}
			if fallback == nil {
				fallback = set
			}
		}
	}
	return fallback
}

// getCombinations returns all combinations of size elements of src, in
// order.
func getCombinations(src []Utxo, size int) [][]Utxo {
	result := make([][]Utxo, 0)
	current := make([]Utxo, 0, size)

	var walk func(offset int)
	walk = func(offset int) {
		if len(current) == size {
			set := make([]Utxo, size)
			copy(set, current)
			result = append(result, set)
			return
		}
		for i := offset; i <= len(src)-(size-len(current)); i++ {
			current = append(current, src[i])
			walk(i + 1)
			current = current[:len(current)-1]
		}
	}
	walk(0)

	return result
}
