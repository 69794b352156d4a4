// Package scoring computes ICP match and data-quality scores for prospects.
package scoring

import (
	"math"
	"strings"
	"unicode"

	"github.com/sells-group/prospector/internal/model"
)

// Sub-score weights. They sum to 1.
const (
	WeightDemographics   = 0.30
	WeightFirmographics  = 0.25
	WeightPsychographics = 0.25
	WeightActivity       = 0.20
)

// DefaultActivity is the neutral activity sub-score used until a behavioral
// signal is available.
const DefaultActivity = 0.5

// Tier thresholds, inclusive at the lower bound.
const (
	ThresholdHot       = 0.85
	ThresholdQualified = 0.75
	ThresholdWarm      = 0.65
)

// Tier is a qualification band derived from the ICP match score.
type Tier string

const (
	TierHot       Tier = "hot"
	TierQualified Tier = "qualified"
	TierWarm      Tier = "warm"
	TierDiscard   Tier = "discard"
)

// TierFor maps an ICP match score to its tier.
func TierFor(score float64) Tier {
	switch {
	case score >= ThresholdHot:
		return TierHot
	case score >= ThresholdQualified:
		return TierQualified
	case score >= ThresholdWarm:
		return TierWarm
	default:
		return TierDiscard
	}
}

// Breakdown is the per-factor detail behind an ICP match score.
type Breakdown struct {
	Demographics   float64 `json:"demographics"`
	Firmographics  float64 `json:"firmographics"`
	Psychographics float64 `json:"psychographics"`
	Activity       float64 `json:"activity"`
	Similarity     float64 `json:"similarity"`
	ICPMatchScore  float64 `json:"icp_match_score"`
	QualityScore   float64 `json:"quality_score"`
	Tier           Tier    `json:"tier"`
}

// Map renders the breakdown for storage under enrichment_data.score_breakdown.
func (b Breakdown) Map() map[string]any {
	return map[string]any{
		"demographics":    b.Demographics,
		"firmographics":   b.Firmographics,
		"psychographics":  b.Psychographics,
		"activity":        b.Activity,
		"similarity":      b.Similarity,
		"icp_match_score": b.ICPMatchScore,
		"quality_score":   b.QualityScore,
		"tier":            string(b.Tier),
	}
}

// Compute is the weighted ICP scoring formula. similarity is the cosine
// between the prospect and ICP embeddings; negative similarity counts as 0.
// Every scoring path goes through here.
func Compute(p *model.Prospect, icp *model.ICP, similarity, activity float64) Breakdown {
	b := Breakdown{
		Demographics:   Demographics(p, icp),
		Firmographics:  Firmographics(p, icp),
		Psychographics: math.Max(similarity, 0),
		Activity:       activity,
		Similarity:     similarity,
		QualityScore:   Quality(p),
	}
	b.ICPMatchScore = WeightDemographics*b.Demographics +
		WeightFirmographics*b.Firmographics +
		WeightPsychographics*b.Psychographics +
		WeightActivity*b.Activity
	b.Tier = TierFor(b.ICPMatchScore)
	return b
}

// Demographics scores title (0.6) and location (0.4) fit. An empty ICP list
// drops that criterion from both numerator and weight; with both empty the
// score is a neutral 0.5.
func Demographics(p *model.Prospect, icp *model.ICP) float64 {
	titles := icp.Demographics.Titles
	locations := icp.Demographics.Locations
	if len(nonBlank(titles)) == 0 && len(nonBlank(locations)) == 0 {
		return 0.5
	}

	var score, weight float64
	if len(nonBlank(titles)) > 0 {
		weight += 0.6
		if titleMatches(p.JobTitle(), titles) {
			score += 0.6
		}
	}
	if len(nonBlank(locations)) > 0 {
		weight += 0.4
		if containsAnyFold(p.Location, locations) {
			score += 0.4
		}
	}
	return score / weight
}

// Firmographics scores industry fit against the company name or the declared
// industry: 0.8 on a match, 0.4 otherwise, 0.5 when the ICP names none.
func Firmographics(p *model.Prospect, icp *model.ICP) float64 {
	if len(nonBlank(icp.Firmographics.Industries)) == 0 {
		return 0.5
	}
	if containsAnyFold(p.CompanyName, icp.Firmographics.Industries) ||
		containsAnyFold(p.Industry(), icp.Firmographics.Industries) {
		return 0.8
	}
	return 0.4
}

// Quality scores data completeness, capped at 1.
func Quality(p *model.Prospect) float64 {
	var q float64
	if present(p.Name) {
		q += 0.2
	}
	if present(p.Headline) {
		q += 0.2
	}
	if present(p.CompanyName) {
		q += 0.2
	}
	if present(p.Location) {
		q += 0.1
	}
	if present(p.ProfileURL) {
		q += 0.1
	}
	if present(p.ContactInfo.Email) {
		q += 0.2
	}
	return math.Min(q, 1.0)
}

// CosineSimilarity returns the cosine of the angle between a and b. It is 0
// when either vector has zero magnitude or the dimensions differ.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// SemanticText builds the text embedded for a prospect:
// "headline @ company", location and bio, one per line.
func SemanticText(p *model.Prospect) string {
	var parts []string
	headline, company := strings.TrimSpace(p.Headline), strings.TrimSpace(p.CompanyName)
	switch {
	case headline != "" && company != "":
		parts = append(parts, headline+" @ "+company)
	case headline != "":
		parts = append(parts, headline)
	case company != "":
		parts = append(parts, company)
	}
	if loc := strings.TrimSpace(p.Location); loc != "" {
		parts = append(parts, loc)
	}
	if bio := p.Bio(); bio != "" {
		parts = append(parts, bio)
	}
	return strings.Join(parts, "\n")
}

// NextStatus applies the scoring status rule: a qualifying score promotes
// new or enriched prospects, a discard score rejects new ones, and every
// other status is left as is.
func NextStatus(current model.ProspectStatus, score float64) model.ProspectStatus {
	switch {
	case score >= ThresholdQualified &&
		(current == model.ProspectStatusNew || current == model.ProspectStatusEnriched):
		return model.ProspectStatusQualified
	case TierFor(score) == TierDiscard && current == model.ProspectStatusNew:
		return model.ProspectStatusRejected
	default:
		return current
	}
}

func titleMatches(title string, icpTitles []string) bool {
	tokens := strings.FieldsFunc(strings.ToLower(title), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, tok := range tokens {
		if len([]rune(tok)) <= 2 {
			continue
		}
		for _, t := range icpTitles {
			if strings.Contains(strings.ToLower(t), tok) {
				return true
			}
		}
	}
	return false
}

func containsAnyFold(s string, needles []string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return false
	}
	for _, n := range needles {
		n = strings.ToLower(strings.TrimSpace(n))
		if n != "" && strings.Contains(s, n) {
			return true
		}
	}
	return false
}

func nonBlank(ss []string) []string {
	out := ss[:0:0]
	for _, s := range ss {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}

func present(s string) bool { return strings.TrimSpace(s) != "" }
