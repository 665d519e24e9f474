package learning

// confusableGroups lists English homophones and near-homophones that readers
// with dyslexia commonly substitute for each other.
var confusableGroups = [][]string{
	{"there", "their", "they're"},
	{"your", "you're"},
	{"its", "it's"},
	{"to", "too", "two"},
	{"then", "than"},
	{"affect", "effect"},
	{"where", "were", "wear", "we're"},
	{"hear", "here"},
	{"know", "no"},
	{"knew", "new"},
	{"write", "right", "rite"},
	{"weather", "whether"},
	{"accept", "except"},
	{"lose", "loose"},
	{"quiet", "quite"},
	{"of", "off"},
	{"which", "witch"},
	{"peace", "piece"},
	{"by", "buy", "bye"},
	{"brake", "break"},
	{"whose", "who's"},
	{"threw", "through"},
	{"weak", "week"},
	{"wait", "weight"},
	{"sea", "see"},
	{"son", "sun"},
	{"one", "won"},
	{"for", "four", "fore"},
	{"past", "passed"},
	{"allowed", "aloud"},
	{"bare", "bear"},
	{"board", "bored"},
	{"principal", "principle"},
	{"stationary", "stationery"},
	{"complement", "compliment"},
	{"desert", "dessert"},
	{"advice", "advise"},
	{"practice", "practise"},
	{"our", "are", "hour"},
	{"would", "wood"},
	{"wear", "ware"},
	{"meat", "meet"},
	{"road", "rode"},
	{"hole", "whole"},
	{"plain", "plane"},
	{"mail", "male"},
}

var confusableIndex = buildConfusableIndex()

func buildConfusableIndex() map[string][]int {
	idx := make(map[string][]int)
	for i, group := range confusableGroups {
		for _, w := range group {
			idx[w] = append(idx[w], i)
		}
	}
	return idx
}

// IsConfusable reports whether a and b are distinct members of a known
// confusable group. Comparison is case-insensitive.
func IsConfusable(a, b string) bool {
	a, b = NormalizeWord(a), NormalizeWord(b)
	if a == "" || b == "" || a == b {
		return false
	}
	for _, gi := range confusableIndex[a] {
		for _, w := range confusableGroups[gi] {
			if w == b {
				return true
			}
		}
	}
	return false
}
