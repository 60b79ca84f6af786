package decision

import (
	"encoding/json"
	"regexp"
	"strings"

	"llm-tradebot/internal/action"
	"llm-tradebot/internal/types"
)

// Parsed is the normalizer's output. Decision is always populated: when the
// response is unusable the fallback wait decision goes in and ParseError
// records why.
type Parsed struct {
	Reasoning  string
	Decision   types.Decision
	RawText    string
	ParseError string
}

// Normalizer extracts a structured decision out of free-form model text. It
// accepts <decision> or <final_vote> tagged blocks with optional markdown
// fences, falls back to scanning the whole response for a balanced JSON
// object or array, and repairs the character-level mistakes models actually
// make. It never returns an error: an unusable response degrades to a wait
// decision with zero confidence.
type Normalizer struct {
	fallbackSymbol string
}

func NewNormalizer(fallbackSymbol string) *Normalizer {
	return &Normalizer{fallbackSymbol: fallbackSymbol}
}

var (
	reasoningRe = regexp.MustCompile(`(?is)<reasoning>(.*?)</reasoning>`)
	fenceOpenRe = regexp.MustCompile("(?i)^```(?:json)?\\s*")
	fenceEndRe  = regexp.MustCompile("\\s*```$")

	trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)

	// "85000~86000" collapses to its first bound. A surviving tilde between
	// numbers is a validator-level rejection, so repair here is safe.
	tildeRangeRe = regexp.MustCompile(`(\d+\.?\d*)\s*~\s*\d+\.?\d*`)

	quotedThousandsRe = regexp.MustCompile(`"(\d{1,3}(?:,\d{3})+(?:\.\d+)?)"`)
	bareThousandsRe   = regexp.MustCompile(`:\s*(\d{1,3}(?:,\d{3})+(?:\.\d+)?)\s*([,}\]])`)
)

var decisionTags = []string{"decision", "final_vote"}

func (n *Normalizer) Parse(response string) Parsed {
	out := Parsed{RawText: response}

	if m := reasoningRe.FindStringSubmatch(response); m != nil {
		out.Reasoning = strings.TrimSpace(m[1])
	}

	var payload string
	for _, tag := range decisionTags {
		if content, ok := extractTag(response, tag); ok {
			payload = content
			break
		}
	}
	if payload == "" {
		payload = extractBalancedJSON(response, '[', ']')
	}
	if payload == "" {
		payload = extractBalancedJSON(response, '{', '}')
	}
	if payload == "" {
		out.ParseError = "no decision JSON found in response"
		out.Decision = n.fallback()
		return out
	}

	obj, err := decodeLenient(payload)
	if err != nil {
		out.ParseError = err.Error()
		out.Decision = n.fallback()
		return out
	}

	d := n.coerce(obj)
	if d.Action == "" {
		out.ParseError = "decision JSON has no action field"
		out.Decision = n.fallback()
		return out
	}
	out.Decision = d
	return out
}

func extractTag(text, tag string) (string, bool) {
	re := regexp.MustCompile(`(?is)<` + tag + `>(.*?)</` + tag + `>`)
	m := re.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	content := strings.TrimSpace(m[1])
	content = fenceOpenRe.ReplaceAllString(content, "")
	content = fenceEndRe.ReplaceAllString(content, "")
	return strings.TrimSpace(content), content != ""
}

// extractBalancedJSON walks the text counting brackets outside of string
// literals, honoring backslash escapes. A balanced candidate that still does
// not parse is skipped and the scan resumes at the next opener, so prose
// containing stray brackets ahead of the real JSON does not sink the parse.
func extractBalancedJSON(text string, open, close byte) string {
	from := 0
	for {
		start := strings.IndexByte(text[from:], open)
		if start == -1 {
			return ""
		}
		start += from

		depth := 0
		inString := false
		escaped := false
		for i := start; i < len(text); i++ {
			c := text[i]
			if escaped {
				escaped = false
				continue
			}
			if c == '\\' && inString {
				escaped = true
				continue
			}
			if c == '"' {
				inString = !inString
				continue
			}
			if inString {
				continue
			}
			if c == open {
				depth++
			} else if c == close {
				depth--
				if depth == 0 {
					candidate := text[start : i+1]
					if _, err := decodeLenient(candidate); err == nil {
						return candidate
					}
					break
				}
			}
		}
		from = start + 1
	}
}

// decodeLenient parses after the repair pass, retrying once with trailing
// commas stripped. Arrays collapse to their first element.
func decodeLenient(payload string) (map[string]any, error) {
	repaired := repairCharacters(payload)

	obj, err := decodeOne(repaired)
	if err == nil {
		return obj, nil
	}

	cleaned := trailingCommaRe.ReplaceAllString(repaired, "$1")
	return decodeOne(cleaned)
}

func decodeOne(payload string) (map[string]any, error) {
	var anyVal any
	if err := json.Unmarshal([]byte(payload), &anyVal); err != nil {
		return nil, err
	}
	switch v := anyVal.(type) {
	case map[string]any:
		return v, nil
	case []any:
		if len(v) > 0 {
			if obj, ok := v[0].(map[string]any); ok {
				return obj, nil
			}
		}
	}
	return nil, errNotAnObject
}

var errNotAnObject = jsonShapeError("decision payload is not a JSON object")

type jsonShapeError string

func (e jsonShapeError) Error() string { return string(e) }

// repairCharacters fixes the mistakes multilingual models make when emitting
// JSON: full-width punctuation, curly quotes, numeric ranges, and thousands
// separators inside numbers.
func repairCharacters(text string) string {
	replacer := strings.NewReplacer(
		"［", "[",
		"］", "]",
		"｛", "{",
		"｝", "}",
		"：", ":",
		"，", ",",
		"“", `"`,
		"”", `"`,
		"‘", "'",
		"’", "'",
	)
	text = replacer.Replace(text)

	text = tildeRangeRe.ReplaceAllString(text, "$1")

	text = quotedThousandsRe.ReplaceAllStringFunc(text, func(m string) string {
		return strings.ReplaceAll(m, ",", "")
	})
	text = bareThousandsRe.ReplaceAllStringFunc(text, func(m string) string {
		sub := bareThousandsRe.FindStringSubmatch(m)
		return ": " + strings.ReplaceAll(sub[1], ",", "") + sub[2]
	})
	return text
}

// coerce moves JSON values into the typed decision. Numeric fields that
// arrive as strings are not silently converted; they land in Raw so the
// validator can reject them by name, since string-typed numbers usually mean
// the model wrote a formula or a range.
func (n *Normalizer) coerce(obj map[string]any) types.Decision {
	d := types.Decision{}

	d.Symbol = asString(obj, "symbol")
	if d.Symbol == "" {
		d.Symbol = n.fallbackSymbol
	}
	d.Action = asString(obj, "action")
	d.Reasoning = asString(obj, "reasoning")
	d.PositionSide = asString(obj, "position_side")

	numeric := map[string]**float64{
		"confidence":        &d.Confidence,
		"leverage":          &d.Leverage,
		"position_size_usd": &d.PositionSizeUSD,
		"position_size_pct": &d.PositionSizePct,
		"entry_price":       &d.EntryPrice,
		"current_price":     &d.CurrentPrice,
		"stop_loss":         &d.StopLoss,
		"take_profit":       &d.TakeProfit,
		"risk_usd":          &d.RiskUSD,
	}
	for key, dst := range numeric {
		raw, ok := obj[key]
		if !ok || raw == nil {
			continue
		}
		switch v := raw.(type) {
		case float64:
			val := v
			*dst = &val
		case string:
			if d.Raw == nil {
				d.Raw = map[string]string{}
			}
			d.Raw[key] = v
		}
	}
	return d
}

func asString(obj map[string]any, key string) string {
	if v, ok := obj[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func (n *Normalizer) fallback() types.Decision {
	zero := 0.0
	return types.Decision{
		Symbol:     n.fallbackSymbol,
		Action:     action.Wait,
		Confidence: &zero,
		Reasoning:  "parse error, fallback to safe wait decision",
	}
}
