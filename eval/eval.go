// Package eval accumulates binary confusion counts and derives
// precision/recall/F1 per tracked category.
package eval

func Precision(truePositives, testPositives int) float64 {
	if testPositives == 0 {
		return 0.0
	}
	return float64(truePositives) / float64(testPositives)
}

func Recall(truePositives, conditionPositives int) float64 {
	if conditionPositives == 0 {
		return 0.0
	}
	return float64(truePositives) / float64(conditionPositives)
}

func F1(precision, recall float64) float64 {
	if precision+recall == 0.0 {
		return 0.0
	}
	return 2.0 * (precision * recall) / (precision + recall)
}

type Result struct {
	TP, FP, TN, FN int
}

func (r *Result) All() int {
	return r.TP + r.FP + r.TN + r.FN
}

func (r *Result) Correct() int {
	return r.TP + r.TN
}

func (r *Result) Incorrect() int {
	return r.FP + r.FN
}

func (r *Result) TestPositives() int {
	return r.TP + r.FP
}

func (r *Result) ConditionPositives() int {
	return r.TP + r.FN
}

func (r *Result) Precision() float64 {
	return Precision(r.TP, r.TestPositives())
}

func (r *Result) Recall() float64 {
	return Recall(r.TP, r.ConditionPositives())
}

func (r *Result) Accuracy() float64 {
	if r.All() == 0 {
		return 0.0
	}
	return float64(r.Correct()) / float64(r.All())
}

func (r *Result) F1() float64 {
	return F1(r.Precision(), r.Recall())
}

func (r *Result) Add(other *Result) {
	r.TP += other.TP
	r.FP += other.FP
	r.TN += other.TN
	r.FN += other.FN
}

// Total tracks one Result per named category plus the category order of
// first appearance, so reports are stable.
type Total struct {
	Results map[string]*Result
	Names   []string
}

func NewTotal() *Total {
	return &Total{Results: make(map[string]*Result)}
}

func (t *Total) Result(name string) *Result {
	result, exists := t.Results[name]
	if !exists {
		result = new(Result)
		t.Results[name] = result
		t.Names = append(t.Names, name)
	}
	return result
}

// MeanF1 is the unweighted mean of per-category F1 scores.
func (t *Total) MeanF1() float64 {
	if len(t.Names) == 0 {
		return 0.0
	}
	var sum float64
	for _, name := range t.Names {
		sum += t.Results[name].F1()
	}
	return sum / float64(len(t.Names))
}
