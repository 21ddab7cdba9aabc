package receipt

// Category is one of the six labels the model is asked to use.
type Category string

const (
	CategoryFood          Category = "食費"
	CategoryTransport     Category = "交通費"
	CategoryShopping      Category = "ショッピング"
	CategoryEntertainment Category = "娯楽"
	CategoryUtilities     Category = "光熱費"
	CategoryOther         Category = "その他"
)

// CategoryScope pairs a category with the expense types the prompt lists for it.
type CategoryScope struct {
	Category Category
	Scope    string
}

// Taxonomy is the fixed classification baked into the prompt, in prompt order.
var Taxonomy = []CategoryScope{
	{CategoryFood, "食品、飲料、レストラン"},
	{CategoryTransport, "電車、バス、ガソリン、タクシー"},
	{CategoryShopping, "衣類、日用品、家電"},
	{CategoryEntertainment, "映画、本、ゲーム、趣味"},
	{CategoryUtilities, "電気、ガス、水道、通信費"},
	{CategoryOther, "上記以外"},
}

// Known reports whether c belongs to the taxonomy.
func (c Category) Known() bool {
	for _, t := range Taxonomy {
		if t.Category == c {
			return true
		}
	}
	return false
}

// UnknownCategories returns the distinct categories outside the taxonomy, in order of appearance.
func UnknownCategories(items []ExpenseItem) []Category {
	var out []Category
	seen := map[Category]bool{}
	for _, it := range items {
		if it.Category.Known() || seen[it.Category] {
			continue
		}
		seen[it.Category] = true
		out = append(out, it.Category)
	}
	return out
}
