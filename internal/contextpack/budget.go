package contextpack

import (
	"unicode/utf8"

	"github.com/rcliao/novel-memory/internal/model"
)

// MinFieldBudget is the per-field token floor before scaling.
const MinFieldBudget = 512

// RunesPerToken is the rough mixed CJK/Latin token size.
const RunesPerToken = 2

// Fields in allocation order.
var Fields = []string{
	model.FieldIdentity,
	model.FieldRuntimeState,
	model.FieldMemory,
	model.FieldSynopsis,
	model.FieldThreads,
	model.FieldPreviousChapters,
	model.FieldStats,
}

// Ratios is the share of the input budget given to each field.
var Ratios = map[string]float64{
	model.FieldIdentity:         0.15,
	model.FieldRuntimeState:     0.10,
	model.FieldMemory:           0.15,
	model.FieldSynopsis:         0.10,
	model.FieldThreads:          0.10,
	model.FieldPreviousChapters: 0.35,
	model.FieldStats:            0.05,
}

// FieldBudgets splits total tokens across Fields. Each field gets its ratio
// share floored at MinFieldBudget; when the floors overshoot, every field is
// scaled down and the largest fields are trimmed until the sum fits.
func FieldBudgets(total int) map[string]int {
	out := make(map[string]int, len(Fields))
	if total <= 0 {
		for _, f := range Fields {
			out[f] = 0
		}
		return out
	}

	sum := 0
	for _, f := range Fields {
		out[f] = max(int(float64(total)*Ratios[f]), MinFieldBudget)
		sum += out[f]
	}
	if sum <= total {
		return out
	}

	scale := float64(total) / float64(sum)
	sum = 0
	for _, f := range Fields {
		out[f] = max(1, int(float64(out[f])*scale))
		sum += out[f]
	}
	for sum > total {
		largest := Fields[0]
		for _, f := range Fields[1:] {
			if out[f] > out[largest] {
				largest = f
			}
		}
		cut := min(sum-total, out[largest])
		out[largest] -= cut
		sum -= cut
	}
	return out
}

// Tokens estimates the tokens in text, rounding up.
func Tokens(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + RunesPerToken - 1) / RunesPerToken
}
