package internal

// HasKorean reports whether text contains at least one Hangul syllable.
// Only the precomposed syllable block (가-힣) counts, matching the range the
// translation and residue scan passes key on.
func HasKorean(text string) bool {
	for _, r := range text {
		if r >= '가' && r <= '힣' {
			return true
		}
	}
	return false
}
