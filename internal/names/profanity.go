package names

import "strings"

// profaneWords is a small embedded denylist checked against whole
// lowercase tokens so that innocent substrings do not trip it.
var profaneWords = map[string]struct{}{
	"anal":        {},
	"anus":        {},
	"arse":        {},
	"ass":         {},
	"asshole":     {},
	"bastard":     {},
	"bitch":       {},
	"boob":        {},
	"boobs":       {},
	"cock":        {},
	"crap":        {},
	"cunt":        {},
	"damn":        {},
	"dick":        {},
	"dildo":       {},
	"douche":      {},
	"fag":         {},
	"faggot":      {},
	"fuck":        {},
	"fucker":      {},
	"fucking":     {},
	"goddamn":     {},
	"jackass":     {},
	"jerk":        {},
	"jizz":        {},
	"nigga":       {},
	"nigger":      {},
	"penis":       {},
	"piss":        {},
	"porn":        {},
	"porno":       {},
	"prick":       {},
	"pussy":       {},
	"rape":        {},
	"retard":      {},
	"scrotum":     {},
	"sex":         {},
	"shit":        {},
	"shitty":      {},
	"slut":        {},
	"tit":         {},
	"tits":        {},
	"twat":        {},
	"vagina":      {},
	"wank":        {},
	"wanker":      {},
	"whore":       {},
}

// ContainsProfanity reports whether any token of s matches the embedded
// denylist. Tokens are split on any non-letter character.
func ContainsProfanity(s string) bool {
	lower := strings.ToLower(s)
	tokens := strings.FieldsFunc(lower, func(r rune) bool {
		return r < 'a' || r > 'z'
	})
	for _, tok := range tokens {
		if _, ok := profaneWords[tok]; ok {
			return true
		}
	}
	return false
}
