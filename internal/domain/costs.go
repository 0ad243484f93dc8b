package domain

// Стоимость действий в кредитах. Константы политики, не вычисляются.
const (
	CostReply        = 1
	CostImageGen     = 5
	CostImageAnalyze = 2
	CostCartoonify   = 3
	CostGifSearch    = 0
)

// CostFor возвращает стоимость действия по его типу.
func CostFor(kind ActivityKind) int {
	switch kind {
	case ActivityReplySent:
		return CostReply
	case ActivityImageGenerated:
		return CostImageGen
	case ActivityImageAnalyzed:
		return CostImageAnalyze
	case ActivityCartoonified:
		return CostCartoonify
	default:
		return 0
	}
}
