package detect

import (
	"regexp"
	"strconv"
)

var (
	aiScoreRe   = regexp.MustCompile(`(?i)AI Generated\D*(\d+(?:\.\d+)?)%`)
	realScoreRe = regexp.MustCompile(`(?i)Real Voice\D*(\d+(?:\.\d+)?)%`)
)

// ParseScores extracts the "AI Generated" and "Real Voice" percentages from
// the classifier's free-text result. A label that is absent scores 0.
func ParseScores(text string) (aiPercent, realPercent float64) {
	return matchPercent(aiScoreRe, text), matchPercent(realScoreRe, text)
}

func matchPercent(re *regexp.Regexp, text string) float64 {
	m := re.FindStringSubmatch(text)
	if len(m) < 2 {
		return 0
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0
	}
	return v
}
