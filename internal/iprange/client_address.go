package iprange

import (
	"fmt"
	"net/netip"
	"strings"
)

// ResolutionError indica que o endereço do chamador não pôde ser determinado
type ResolutionError struct {
	Value string
	Err   error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("cannot resolve client address from %q: %v", e.Value, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// ParseClientAddress interpreta o valor de um cabeçalho como X-Real-IP ou
// X-Forwarded-For. Usa o último valor da lista e aceita porta e colchetes IPv6.
func ParseClientAddress(header string) (netip.Addr, error) {
	parts := strings.Split(header, ",")
	target := strings.TrimSpace(parts[len(parts)-1])
	if target == "" {
		return netip.Addr{}, &ResolutionError{Value: header, Err: fmt.Errorf("empty address")}
	}

	// "[::1]:8080" ou "[::1]"
	if strings.HasPrefix(target, "[") {
		end := strings.Index(target, "]")
		if end < 0 {
			return netip.Addr{}, &ResolutionError{Value: header, Err: fmt.Errorf("unterminated bracket")}
		}
		target = target[1:end]
	} else if strings.Count(target, ":") == 1 {
		// IPv4 com porta
		target = target[:strings.Index(target, ":")]
	}

	addr, err := netip.ParseAddr(target)
	if err != nil {
		return netip.Addr{}, &ResolutionError{Value: header, Err: err}
	}

	return addr.WithZone(""), nil
}
