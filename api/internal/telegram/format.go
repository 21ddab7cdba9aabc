package telegram

import (
	"fmt"
	"strings"

	"receipt-proxy/api/internal/receipt"
)

// FormatResult renders one line per expense and a total. Data that does not fit
// the expense shape is shown verbatim.
func FormatResult(res *receipt.AnalysisResult) string {
	items, err := res.Expenses()
	if err != nil {
		return "🧾 解析結果:\n" + string(res.Data)
	}
	if len(items) == 0 {
		return "レシートから商品が見つかりませんでした。"
	}

	var b strings.Builder
	b.WriteString("🧾 解析結果\n")
	total := 0
	for _, it := range items {
		fmt.Fprintf(&b, "• %s: %d円", it.Category, it.Amount)
		if len(it.Items) > 0 {
			fmt.Fprintf(&b, "（%s）", strings.Join(it.Items, "、"))
		}
		b.WriteByte('\n')
		total += it.Amount
	}
	fmt.Fprintf(&b, "合計: %d円", total)
	return b.String()
}

func FormatError(err error) string {
	e := receipt.Classify(err)
	switch e.Kind {
	case receipt.KindExtractionFailure, receipt.KindParseFailure:
		return "⚠️ レシートを読み取れませんでした。明るい場所で撮り直してください。"
	default:
		return "⚠️ 解析に失敗しました: " + e.Message
	}
}
