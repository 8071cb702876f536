// Package iprange interpreta endereços, intervalos "a-b" e blocos CIDR e testa
// se um endereço pertence a eles.
package iprange

import (
	"fmt"
	"net/netip"
	"strings"

	"go4.org/netipx"
)

// FormatError indica um intervalo mal formado
type FormatError struct {
	Value  string
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("invalid address range %q: %s", e.Value, e.Reason)
}

// Range é um intervalo normalizado [From, To] de uma única família
type Range struct {
	r netipx.IPRange
}

// Option ajusta como um intervalo é comparado
type Option func(*options)

type options struct {
	unmapIPv4 bool
}

// WithIPv4Unmapping faz intervalos inteiramente em ::ffff:0:0/96 valerem como
// o intervalo IPv4 equivalente
func WithIPv4Unmapping(enabled bool) Option {
	return func(o *options) {
		o.unmapIPv4 = enabled
	}
}

func buildOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Parse aceita um endereço simples, um intervalo "a-b" ou um bloco CIDR.
// Intervalos invertidos são trocados.
func Parse(input string) (Range, error) {
	value := strings.TrimSpace(input)
	if value == "" {
		return Range{}, &FormatError{Value: input, Reason: "empty"}
	}

	switch {
	case strings.Contains(value, "/"):
		prefix, err := netip.ParsePrefix(value)
		if err != nil {
			return Range{}, &FormatError{Value: input, Reason: err.Error()}
		}
		return Range{r: netipx.RangeOfPrefix(prefix.Masked())}, nil

	case strings.Contains(value, "-"):
		parts := strings.SplitN(value, "-", 2)
		from, err := parseAddr(parts[0])
		if err != nil {
			return Range{}, &FormatError{Value: input, Reason: err.Error()}
		}
		to, err := parseAddr(parts[1])
		if err != nil {
			return Range{}, &FormatError{Value: input, Reason: err.Error()}
		}
		if from.BitLen() != to.BitLen() {
			return Range{}, &FormatError{Value: input, Reason: "range mixes address families"}
		}
		if to.Less(from) {
			from, to = to, from
		}
		return Range{r: netipx.IPRangeFrom(from, to)}, nil

	default:
		addr, err := parseAddr(value)
		if err != nil {
			return Range{}, &FormatError{Value: input, Reason: err.Error()}
		}
		return Range{r: netipx.IPRangeFrom(addr, addr)}, nil
	}
}

// MustParse é como Parse mas entra em pânico em caso de erro
func MustParse(input string) Range {
	r, err := Parse(input)
	if err != nil {
		panic(err)
	}
	return r
}

// Unmap converte um intervalo cujos dois extremos são IPv4 mapeados em IPv6
// para o intervalo IPv4 correspondente. Os demais voltam sem alteração.
func (r Range) Unmap() Range {
	if !r.r.IsValid() || !r.r.From().Is4In6() || !r.r.To().Is4In6() {
		return r
	}
	return Range{r: netipx.IPRangeFrom(r.r.From().Unmap(), r.r.To().Unmap())}
}

// Contains retorna true se o endereço é da mesma família e está dentro do intervalo
func (r Range) Contains(addr netip.Addr, opts ...Option) bool {
	if !r.r.IsValid() || !addr.IsValid() {
		return false
	}
	if buildOptions(opts).unmapIPv4 {
		r = r.Unmap()
	}
	addr = addr.WithZone("")
	if addr.BitLen() != r.r.From().BitLen() {
		return false
	}
	return r.r.Contains(addr)
}

// From retorna o menor endereço do intervalo
func (r Range) From() netip.Addr { return r.r.From() }

// To retorna o maior endereço do intervalo
func (r Range) To() netip.Addr { return r.r.To() }

// IsValid indica se o intervalo foi construído por Parse
func (r Range) IsValid() bool { return r.r.IsValid() }

func (r Range) String() string {
	if !r.r.IsValid() {
		return ""
	}
	if r.r.From() == r.r.To() {
		return r.r.From().String()
	}
	if prefix, ok := r.r.Prefix(); ok {
		return prefix.String()
	}
	return r.r.String()
}

func parseAddr(value string) (netip.Addr, error) {
	addr, err := netip.ParseAddr(strings.TrimSpace(value))
	if err != nil {
		return netip.Addr{}, err
	}
	return addr.WithZone(""), nil
}

// Set agrupa vários intervalos para consultas de pertinência
type Set struct {
	set      *netipx.IPSet
	unmapped *netipx.IPSet
	size     int
}

// NewSet interpreta todas as entradas. Qualquer entrada inválida aborta
// a construção.
func NewSet(inputs []string) (*Set, error) {
	var builder, unmappedBuilder netipx.IPSetBuilder
	for _, input := range inputs {
		r, err := Parse(input)
		if err != nil {
			return nil, err
		}
		builder.AddRange(r.r)
		unmappedBuilder.AddRange(r.Unmap().r)
	}

	set, err := builder.IPSet()
	if err != nil {
		return nil, fmt.Errorf("failed to build address set: %w", err)
	}
	unmapped, err := unmappedBuilder.IPSet()
	if err != nil {
		return nil, fmt.Errorf("failed to build address set: %w", err)
	}

	return &Set{set: set, unmapped: unmapped, size: len(inputs)}, nil
}

// Contains retorna true se algum intervalo do conjunto contém o endereço
func (s *Set) Contains(addr netip.Addr, opts ...Option) bool {
	if s == nil || s.set == nil || !addr.IsValid() {
		return false
	}
	if buildOptions(opts).unmapIPv4 {
		return s.unmapped.Contains(addr.WithZone(""))
	}
	return s.set.Contains(addr.WithZone(""))
}

// Len retorna quantas entradas formaram o conjunto
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return s.size
}
