package receipt

import "strings"

// Sampling settings shared by every engine.
const (
	Temperature     = 0.1
	MaxOutputTokens = 1500
)

// Instruction is the text part of the user message.
var Instruction = buildInstruction()

func buildInstruction() string {
	var b strings.Builder
	b.WriteString(`このレシートを分析して、商品と金額を抽出し、以下のJSON形式で正確に返してください。

形式:
[
  {
    "category": "食費",
    "amount": 1200,
    "items": ["商品1", "商品2"]
  }
]

カテゴリは以下から選択：
`)
	for _, t := range Taxonomy {
		b.WriteString("- ")
		b.WriteString(string(t.Category))
		b.WriteString("（")
		b.WriteString(t.Scope)
		b.WriteString("）\n")
	}
	b.WriteString("\n金額は数字のみ、商品名は配列で返してください。")
	return b.String()
}
