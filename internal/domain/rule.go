package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Rule define uma cota: padrão de endpoint, período, limite e tipo de janela.
// A duração do período é calculada uma única vez na construção.
type Rule struct {
	Endpoint         string `json:"endpoint"`
	Period           string `json:"period"`
	Limit            int    `json:"limit"`
	UseSlidingWindow bool   `json:"use_sliding_window"`

	duration time.Duration
}

// NewRule cria uma regra validando o período
func NewRule(endpoint, period string, limit int, slidingWindow bool) (Rule, error) {
	duration, err := ParsePeriod(period)
	if err != nil {
		return Rule{}, fmt.Errorf("invalid rule for endpoint %q: %w", endpoint, err)
	}

	return Rule{
		Endpoint:         strings.TrimSpace(endpoint),
		Period:           period,
		Limit:            limit,
		UseSlidingWindow: slidingWindow,
		duration:         duration,
	}, nil
}

// MustRule é usado em testes e defaults fixos
func MustRule(endpoint, period string, limit int, slidingWindow bool) Rule {
	rule, err := NewRule(endpoint, period, limit, slidingWindow)
	if err != nil {
		panic(err)
	}
	return rule
}

// Duration retorna a duração já calculada do período
func (r Rule) Duration() time.Duration {
	return r.duration
}

// IsValid indica se a regra passou por NewRule
func (r Rule) IsValid() bool {
	return r.duration > 0
}

// IsGlobal indica se o padrão é um curinga puro: "*", "*:*" ou "VERB:*"
func (r Rule) IsGlobal() bool {
	return isGlobalPattern(r.Endpoint)
}

func (r *Rule) UnmarshalJSON(data []byte) error {
	type plain Rule
	var raw plain
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	rule, err := NewRule(raw.Endpoint, raw.Period, raw.Limit, raw.UseSlidingWindow)
	if err != nil {
		return err
	}
	*r = rule
	return nil
}

func isGlobalPattern(pattern string) bool {
	if pattern == "*" {
		return true
	}
	i := strings.Index(pattern, ":")
	return i >= 0 && pattern[i+1:] == "*"
}

// RuleSet é uma sequência ordenada de regras
type RuleSet []Rule

// EndpointRules retorna as regras cujo padrão é prefixo de "verb:path" ou de
// "*:path", sem diferenciar maiúsculas. Um "*" puro é prefixo de qualquer
// "*:path" e por isso disputa o período com as regras de endpoint.
func (rs RuleSet) EndpointRules(verb, path string) []Rule {
	request := strings.ToLower(verb + ":" + path)
	anyVerb := strings.ToLower("*:" + path)

	matched := make([]Rule, 0, len(rs))
	for _, rule := range rs {
		pattern := strings.ToLower(rule.Endpoint)
		if strings.HasPrefix(request, pattern) || strings.HasPrefix(anyVerb, pattern) {
			matched = append(matched, rule)
		}
	}

	return onePerPeriod(matched)
}

// GlobalRules retorna as regras "{verb}:*", "*:*" ou "*"
func (rs RuleSet) GlobalRules(verb string) []Rule {
	verbWildcard := strings.ToLower(verb) + ":*"

	matched := make([]Rule, 0, len(rs))
	for _, rule := range rs {
		pattern := strings.ToLower(rule.Endpoint)
		if pattern == verbWildcard || pattern == "*:*" || pattern == "*" {
			matched = append(matched, rule)
		}
	}

	return onePerPeriod(matched)
}

// onePerPeriod agrupa por token de período e mantém, por grupo, a regra de menor
// limite. Empates ficam com o padrão mais curto, ou seja, o menos específico
// vence.
func onePerPeriod(rules []Rule) []Rule {
	index := make(map[string]int, len(rules))
	result := make([]Rule, 0, len(rules))

	for _, rule := range rules {
		i, seen := index[rule.Period]
		if !seen {
			index[rule.Period] = len(result)
			result = append(result, rule)
			continue
		}

		current := result[i]
		if rule.Limit < current.Limit ||
			(rule.Limit == current.Limit && len(rule.Endpoint) < len(current.Endpoint)) {
			result[i] = rule
		}
	}

	return result
}

// ExceptPeriods acrescenta a base as regras de extra cujo período ainda não
// aparece em base
func ExceptPeriods(base, extra []Rule) []Rule {
	seen := make(map[string]struct{}, len(base))
	for _, rule := range base {
		seen[rule.Period] = struct{}{}
	}

	result := append(make([]Rule, 0, len(base)+len(extra)), base...)
	for _, rule := range extra {
		if _, ok := seen[rule.Period]; ok {
			continue
		}
		seen[rule.Period] = struct{}{}
		result = append(result, rule)
	}

	return result
}

// SortByDuration ordena do menor para o maior período, ou o inverso quando
// reverse é verdadeiro. A ordenação é estável.
func SortByDuration(rules []Rule, reverse bool) {
	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].Duration() < rules[j].Duration()
	})
	if reverse {
		for i, j := 0, len(rules)-1; i < j; i, j = i+1, j-1 {
			rules[i], rules[j] = rules[j], rules[i]
		}
	}
}
