package sanitize

import "math"

// shannonEntropy computes the Shannon entropy in bits per character over the
// byte frequencies of s. Empty and single-symbol strings score 0; a uniform
// alphabet of size k scores log2(k).
func shannonEntropy(s string) float64 {
	if s == "" {
		return 0
	}
	var freq [256]int
	for i := 0; i < len(s); i++ {
		freq[s[i]]++
	}
	length := float64(len(s))
	entropy := 0.0
	for _, n := range freq {
		if n == 0 {
			continue
		}
		p := float64(n) / length
		entropy -= p * math.Log2(p)
	}
	return entropy
}
