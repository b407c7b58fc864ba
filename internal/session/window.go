package session

// Trim evicts the oldest exchanges while total exceeds ceiling, stopping once
// total is at or below target. It returns the kept exchanges, the new total
// and the number evicted. Trim never evicts from a history at or below the
// ceiling.
func Trim(exchanges []Exchange, total, ceiling, target int) ([]Exchange, int, int) {
	if total <= ceiling {
		return exchanges, total, 0
	}
	n := 0
	for n < len(exchanges) && total > target {
		total -= exchanges[n].Tokens()
		n++
	}
	return exchanges[n:], total, n
}
