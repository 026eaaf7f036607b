package oracle

import "strings"

// price is USD per million tokens.
type price struct {
	input, output float64
}

const defaultModel = "gpt-4o-mini"

var prices = map[string]price{
	"gpt-4o-mini":   {0.15, 0.60},
	"gpt-4o":        {2.50, 10},
	"gpt-4-turbo":   {10, 30},
	"gpt-4":         {30, 60},
	"gpt-3.5-turbo": {0.50, 1.50},
	"deepseek-chat": {0.27, 1.10},
}

// Cost estimates the USD cost of one call. Unknown models are priced as
// gpt-4o-mini.
func Cost(model string, promptTokens, completionTokens int) float64 {
	p, ok := prices[strings.ToLower(model)]
	if !ok {
		p = prices[defaultModel]
	}
	return (float64(promptTokens)*p.input + float64(completionTokens)*p.output) / 1e6
}
