package feedback

import (
	"sort"
	"time"

	"github.com/ledgerlens/ledgerlens/internal/judge"
)

// PhraseStats counts user verdicts for one key phrase.
type PhraseStats struct {
	SuccessCount   int       `json:"success_count"`
	FailCount      int       `json:"fail_count"`
	SQLPatterns    []string  `json:"sql_patterns"`
	JudgeScores    []float64 `json:"judge_scores"`
	AvgJudgeScore  float64   `json:"avg_judge_score"`
	FailureReasons []string  `json:"failure_reasons"`
}

// LearningStats tracks judge scores for one key phrase.
type LearningStats struct {
	Evaluations  int       `json:"evaluations"`
	ScoreHistory []float64 `json:"score_history"`
	AvgScore     float64   `json:"avg_score"`
	Suggestions  []string  `json:"suggestions"`
	Issues       []string  `json:"issues"`
}

type Correction struct {
	NaturalQuery string          `json:"natural_query"`
	OriginalSQL  string          `json:"original_sql"`
	CorrectedSQL string          `json:"corrected_sql"`
	Similarity   float64         `json:"similarity"`
	Timestamp    time.Time       `json:"timestamp"`
	Judgment     *judge.Judgment `json:"judgment,omitempty"`
}

type correlation struct {
	outcome Outcome
	score   float64
}

// Aggregates is derived state. It is rebuilt from the record log and never
// persisted on its own.
type Aggregates struct {
	Patterns     map[string]*PhraseStats
	Learning     map[string]*LearningStats
	Corrections  map[string][]Correction
	counts       map[Outcome]int
	judged       []float64
	correlations []correlation
	corrected    []Correction
}

func newAggregates() *Aggregates {
	return &Aggregates{
		Patterns:    map[string]*PhraseStats{},
		Learning:    map[string]*LearningStats{},
		Corrections: map[string][]Correction{},
		counts:      map[Outcome]int{},
	}
}

// Aggregate folds records in order. Unusable records are skipped.
func Aggregate(records []Record) *Aggregates {
	agg := newAggregates()
	for _, record := range records {
		agg.apply(record)
	}
	return agg
}

func (a *Aggregates) apply(r Record) {
	if !r.usable() {
		return
	}
	a.counts[r.Outcome]++
	phrases := KeyPhrases(r.NaturalQuery)
	judged := r.Judgment != nil && r.Judgment.Success

	switch r.Outcome {
	case OutcomePositive:
		for _, phrase := range phrases {
			stats := a.phrase(phrase)
			stats.SuccessCount++
			stats.SQLPatterns = appendUnique(stats.SQLPatterns, GeneralizeSQL(r.SQLQuery))
			if judged {
				stats.JudgeScores = append(stats.JudgeScores, r.Judgment.Score)
				stats.AvgJudgeScore = mean(stats.JudgeScores)
			}
		}
	case OutcomeNegative:
		reasons := failureReasons(r.Judgment)
		for _, phrase := range phrases {
			stats := a.phrase(phrase)
			stats.FailCount++
			stats.FailureReasons = append(stats.FailureReasons, reasons...)
		}
	case OutcomeCorrected:
		correction := Correction{
			NaturalQuery: r.NaturalQuery,
			OriginalSQL:  r.SQLQuery,
			CorrectedSQL: r.Correction,
			Similarity:   1,
			Timestamp:    r.Timestamp,
			Judgment:     r.Judgment,
		}
		key := normalizeQuery(r.NaturalQuery)
		a.Corrections[key] = append(a.Corrections[key], correction)
		a.corrected = append(a.corrected, correction)
		// Corrections only count against phrases that already have history.
		for _, phrase := range phrases {
			if stats, ok := a.Patterns[phrase]; ok {
				stats.FailCount++
			}
		}
	}

	if judged {
		a.learn(phrases, *r.Judgment)
		a.judged = append(a.judged, r.Judgment.Score)
		a.correlations = append(a.correlations, correlation{outcome: r.Outcome, score: r.Judgment.Score})
	}
}

func (a *Aggregates) phrase(phrase string) *PhraseStats {
	stats, ok := a.Patterns[phrase]
	if !ok {
		stats = &PhraseStats{}
		a.Patterns[phrase] = stats
	}
	return stats
}

func (a *Aggregates) learn(phrases []string, j judge.Judgment) {
	for _, phrase := range phrases {
		stats, ok := a.Learning[phrase]
		if !ok {
			stats = &LearningStats{}
			a.Learning[phrase] = stats
		}
		stats.Evaluations++
		stats.ScoreHistory = append(stats.ScoreHistory, j.Score)
		stats.AvgScore = mean(stats.ScoreHistory)
		for _, s := range j.Suggestions {
			stats.Suggestions = appendUnique(stats.Suggestions, s)
		}
		for _, m := range j.MissingElements {
			stats.Issues = appendUnique(stats.Issues, m)
		}
	}
}

func failureReasons(j *judge.Judgment) []string {
	if j == nil || !j.Success {
		return nil
	}
	var reasons []string
	for _, m := range j.MissingElements {
		reasons = append(reasons, "Missing: "+m)
	}
	for _, s := range j.SecurityIssues {
		reasons = append(reasons, "Security: "+s)
	}
	if len(j.Feedback) > 20 {
		text := j.Feedback
		if len(text) > 100 {
			text = text[:100] + "..."
		}
		reasons = append(reasons, "Judge feedback: "+text)
	}
	return reasons
}

const (
	minAdjustment      = 0.3
	maxAdjustment      = 1.8
	similarityFloor    = 0.6
	maxSimilarReturned = 3
)

// ConfidenceAdjustment combines the user-verdict factor and the judge factor
// of every known phrase of query into one multiplier in [0.3, 1.8].
func (a *Aggregates) ConfidenceAdjustment(query string) float64 {
	phrases := KeyPhrases(query)
	user, judged := 1.0, 1.0

	for _, phrase := range phrases {
		stats, ok := a.Patterns[phrase]
		if !ok {
			continue
		}
		rate := float64(stats.SuccessCount) / float64(stats.SuccessCount+stats.FailCount+1)
		switch {
		case rate > 0.8:
			user *= 1.1
		case rate < 0.5:
			user *= 0.8
		}
		if stats.AvgJudgeScore > 0 {
			user *= 0.8 + 0.4*stats.AvgJudgeScore
		}
	}
	for _, phrase := range phrases {
		stats, ok := a.Learning[phrase]
		if !ok {
			continue
		}
		switch {
		case stats.AvgScore > 0.8:
			judged *= 1.15
		case stats.AvgScore < 0.4:
			judged *= 0.7
		}
	}

	adjustment := (user + judged) / 2
	return min(max(adjustment, minAdjustment), maxAdjustment)
}

// SimilarCorrections returns exact-match corrections, newest first, or else
// corrections whose phrase sets overlap query by more than 0.6 Jaccard.
// At most three are returned.
func (a *Aggregates) SimilarCorrections(query string) []Correction {
	if exact := a.Corrections[normalizeQuery(query)]; len(exact) > 0 {
		out := make([]Correction, 0, min(len(exact), maxSimilarReturned))
		for i := len(exact) - 1; i >= 0 && len(out) < maxSimilarReturned; i-- {
			out = append(out, exact[i])
		}
		return out
	}

	target := phraseSet(query)
	var similar []Correction
	for _, c := range a.corrected {
		score := jaccard(target, phraseSet(c.NaturalQuery))
		if score > similarityFloor {
			c.Similarity = score
			similar = append(similar, c)
		}
	}
	sort.SliceStable(similar, func(i, j int) bool { return similar[i].Similarity > similar[j].Similarity })
	if len(similar) > maxSimilarReturned {
		similar = similar[:maxSimilarReturned]
	}
	return similar
}

type Insights struct {
	PredictedIssues       []string `json:"predicted_issues"`
	SuggestedImprovements []string `json:"suggested_improvements"`
	ConfidencePrediction  float64  `json:"confidence_prediction"`
}

// Insights collects the judge's recurring issues and suggestions for the
// phrases of query. The prediction is the evaluation-weighted judge score.
func (a *Aggregates) Insights(query string) Insights {
	out := Insights{PredictedIssues: []string{}, SuggestedImprovements: []string{}, ConfidencePrediction: judge.NeutralScore}
	evaluations, weighted := 0, 0.0
	for _, phrase := range KeyPhrases(query) {
		if stats, ok := a.Learning[phrase]; ok {
			evaluations += stats.Evaluations
			weighted += stats.AvgScore * float64(stats.Evaluations)
			for _, issue := range head(stats.Issues, 2) {
				out.PredictedIssues = appendUnique(out.PredictedIssues, issue)
			}
			for _, s := range head(stats.Suggestions, 2) {
				out.SuggestedImprovements = appendUnique(out.SuggestedImprovements, s)
			}
		}
		if stats, ok := a.Patterns[phrase]; ok {
			for _, reason := range head(stats.FailureReasons, 2) {
				out.PredictedIssues = appendUnique(out.PredictedIssues, reason)
			}
		}
	}
	if evaluations > 0 {
		out.ConfidencePrediction = weighted / float64(evaluations)
	}
	return out
}

type PatternSummary struct {
	Phrase      string   `json:"phrase"`
	SuccessRate float64  `json:"success_rate"`
	TotalUses   int      `json:"total_uses"`
	SQLPatterns []string `json:"sql_patterns"`
}

type Stats struct {
	TotalRecords         int              `json:"total_records"`
	Positive             int              `json:"positive"`
	Negative             int              `json:"negative"`
	Corrected            int              `json:"corrected"`
	SuccessRate          float64          `json:"success_rate"`
	PatternCount         int              `json:"pattern_count"`
	CorrectionMappings   int              `json:"correction_mappings"`
	JudgeEvaluations     int              `json:"judge_evaluations"`
	AvgJudgeScore        float64          `json:"avg_judge_score"`
	UserJudgeCorrelation float64          `json:"user_judge_correlation"`
	LearningPatterns     int              `json:"learning_patterns"`
	TopPatterns          []PatternSummary `json:"top_patterns"`
}

const topPatternLimit = 10

// Stats summarizes the log. SuccessRate is a percentage of all records.
func (a *Aggregates) Stats() Stats {
	total := a.counts[OutcomePositive] + a.counts[OutcomeNegative] + a.counts[OutcomeCorrected]
	stats := Stats{
		TotalRecords:       total,
		Positive:           a.counts[OutcomePositive],
		Negative:           a.counts[OutcomeNegative],
		Corrected:          a.counts[OutcomeCorrected],
		PatternCount:       len(a.Patterns),
		CorrectionMappings: len(a.Corrections),
		JudgeEvaluations:   len(a.judged),
		LearningPatterns:   len(a.Learning),
		TopPatterns:        a.topPatterns(topPatternLimit),
	}
	if total > 0 {
		stats.SuccessRate = float64(stats.Positive) / float64(total) * 100
	}
	if len(a.judged) > 0 {
		stats.AvgJudgeScore = mean(a.judged)
	}
	if len(a.correlations) > 0 {
		sum := 0.0
		for _, c := range a.correlations {
			sum += c.agreement()
		}
		stats.UserJudgeCorrelation = sum / float64(len(a.correlations))
	}
	return stats
}

// agreement is high when the judge score points the same way as the user.
func (c correlation) agreement() float64 {
	switch c.outcome {
	case OutcomePositive:
		return c.score
	case OutcomeNegative:
		return 1 - c.score
	default:
		diff := c.score - 0.5
		if diff < 0 {
			diff = -diff
		}
		return 1 - diff*2
	}
}

func (a *Aggregates) topPatterns(limit int) []PatternSummary {
	out := make([]PatternSummary, 0, len(a.Patterns))
	for phrase, stats := range a.Patterns {
		total := stats.SuccessCount + stats.FailCount
		if total == 0 {
			continue
		}
		out = append(out, PatternSummary{
			Phrase:      phrase,
			SuccessRate: float64(stats.SuccessCount) / float64(total),
			TotalUses:   total,
			SQLPatterns: head(stats.SQLPatterns, 3),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalUses != out[j].TotalUses {
			return out[i].TotalUses > out[j].TotalUses
		}
		if out[i].SuccessRate != out[j].SuccessRate {
			return out[i].SuccessRate > out[j].SuccessRate
		}
		return out[i].Phrase < out[j].Phrase
	})
	return head(out, limit)
}

func appendUnique(values []string, value string) []string {
	for _, v := range values {
		if v == value {
			return values
		}
	}
	return append(values, value)
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func head[T any](values []T, n int) []T {
	if len(values) > n {
		return values[:n]
	}
	return values
}
