// Package wire implements a printf-compatible formatter: the standard
// flags, length modifiers, and specifiers, plus two extensions — '@' for
// canonical left-padding to the natural width of the underlying integer
// type, and '~' for SI-suffix approximation.
//
// This is grounded on ntccfg::Format, which resolves integers, floats,
// strings, and pointers through one verb-dispatch loop; the Go version
// below keeps that single-loop shape rather than delegating to fmt, since
// fmt has no '@' or '~' verbs to extend.
package wire

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// siUnits are consulted by the '~' extension, dividing by 1024 until the
// value fits within the next unit, for up to nine units.
var siUnits = [...]string{"", "K", "M", "G", "T", "P", "E", "Z", "Y"}

// Flags recognized: '-', '+', ' ', '#', '0', '\''. Length modifiers
// recognized: hh, h, l, ll, j, z, t, L, and the size-named I8, I16, I32,
// I64, IRG. Specifiers recognized: d i u b o x X f F e E g G a A c s p n.
// Extensions: '@' and '~'.

// spec describes one parsed verb.
type spec struct {
	minus, plus, space, alt, zero, apostrophe bool
	width                                     int
	hasWidth                                  bool
	precision                                 int
	hasPrecision                              bool
	lengthMod                                 string
	canonical                                 bool // '@'
	siSuffix                                  bool // '~'
	verb                                      byte
}

// Sprintf formats format against args, recognizing the extended verb set
// above. Unrecognized verbs fall back to the standard library's fmt verb of
// the same letter, applied to the next argument.
func Sprintf(format string, args ...any) string {
	var out strings.Builder
	argi := 0
	next := func() any {
		if argi < len(args) {
			v := args[argi]
			argi++
			return v
		}
		return nil
	}

	i := 0
	for i < len(format) {
		c := format[i]
		if c != '%' {
			out.WriteByte(c)
			i++
			continue
		}
		// parse one verb starting at i
		j := i + 1
		if j < len(format) && format[j] == '%' {
			out.WriteByte('%')
			i = j + 1
			continue
		}
		s := spec{}
		for j < len(format) {
			switch format[j] {
			case '-':
				s.minus = true
			case '+':
				s.plus = true
			case ' ':
				s.space = true
			case '#':
				s.alt = true
			case '0':
				s.zero = true
			case '\'':
				s.apostrophe = true
			default:
				goto flagsDone
			}
			j++
		}
	flagsDone:
		// width
		w0 := j
		for j < len(format) && format[j] >= '0' && format[j] <= '9' {
			j++
		}
		if j > w0 {
			s.width, _ = strconv.Atoi(format[w0:j])
			s.hasWidth = true
		}
		// precision
		if j < len(format) && format[j] == '.' {
			j++
			p0 := j
			for j < len(format) && format[j] >= '0' && format[j] <= '9' {
				j++
			}
			s.precision, _ = strconv.Atoi(format[p0:j])
			s.hasPrecision = true
		}
		// extensions
		for j < len(format) {
			switch format[j] {
			case '@':
				s.canonical = true
				j++
				continue
			case '~':
				s.siSuffix = true
				j++
				continue
			}
			break
		}
		// length modifiers: hh, h, l, ll, j, z, t, L, I8, I16, I32, I64, IRG
		lenMods := []string{"hh", "h", "ll", "l", "j", "z", "t", "L", "I8", "I16", "I32", "I64", "IRG"}
		for _, m := range lenMods {
			if strings.HasPrefix(format[j:], m) {
				s.lengthMod = m
				j += len(m)
				break
			}
		}
		if j >= len(format) {
			// malformed trailing '%'; emit literally
			out.WriteString(format[i:])
			break
		}
		s.verb = format[j]
		j++

		out.WriteString(render(s, next))
		i = j
	}
	return out.String()
}

func render(s spec, next func() any) string {
	var body string
	switch s.verb {
	case 'd', 'i':
		body = renderInt(s, toInt64(next()))
	case 'u':
		body = renderUint(s, toUint64(next()))
	case 'b':
		body = renderBase(s, toUint64(next()), 2)
	case 'o':
		body = renderBase(s, toUint64(next()), 8)
	case 'x':
		body = renderBase(s, toUint64(next()), 16)
	case 'X':
		body = strings.ToUpper(renderBase(s, toUint64(next()), 16))
	case 'f', 'F':
		body = renderFloat(s, toFloat64(next()), 'f')
	case 'e', 'E':
		body = renderFloat(s, toFloat64(next()), byte(s.verb))
	case 'g', 'G':
		body = renderFloat(s, toFloat64(next()), byte(s.verb))
	case 'a', 'A':
		body = renderFloat(s, toFloat64(next()), byte('x'+(s.verb-'a')))
	case 'c':
		body = string(rune(toInt64(next())))
	case 's':
		body = fmt.Sprint(next())
		if s.hasPrecision && s.precision < len(body) {
			body = body[:s.precision]
		}
	case 'p':
		body = fmt.Sprintf("%p", next())
	case 'n':
		// not implemented: writing back a byte count has no meaningful Go
		// equivalent in this formatter (no out-parameter verbs).
		body = ""
	default:
		body = fmt.Sprintf("%"+string(s.verb), next())
	}
	if s.siSuffix {
		body = applySI(toFloat64FromString(body))
	}
	return pad(s, body)
}

func applySI(v float64) string {
	unit := 0
	for math.Abs(v) >= 1024 && unit < len(siUnits)-1 {
		v /= 1024
		unit++
	}
	return strconv.FormatFloat(v, 'f', 2, 64) + siUnits[unit]
}

func toFloat64FromString(s string) float64 {
	v, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return v
}

func pad(s spec, body string) string {
	if !s.hasWidth || len(body) >= s.width {
		return body
	}
	padLen := s.width - len(body)
	fill := byte(' ')
	if s.zero && !s.minus {
		fill = '0'
	}
	padding := strings.Repeat(string(fill), padLen)
	if s.minus {
		return body + strings.Repeat(" ", padLen)
	}
	return padding + body
}

// renderInt formats a signed integer honoring '+'/' ' and '@' (canonical
// left-padding to the natural width of the underlying integer type).
func renderInt(s spec, v int64) string {
	digits := strconv.FormatInt(v, 10)
	if s.canonical {
		digits = canonicalPad(digits, s.lengthMod, 10)
	}
	if v >= 0 {
		if s.plus {
			return "+" + digits
		}
		if s.space {
			return " " + digits
		}
	}
	return digits
}

func renderUint(s spec, v uint64) string {
	digits := strconv.FormatUint(v, 10)
	if s.canonical {
		digits = canonicalPad(digits, s.lengthMod, 10)
	}
	return digits
}

// renderBase formats v in the given base (2, 8, 10 or 16) with optional '#'
// prefix and '@' canonical width padding.
//
// Open question resolution: base must be one of {2, 8, 10, 16}; any other
// value is rejected rather than reproducing the source's tautological
// `base != 2 && base != 8 && base == 10 && base == 16` check (always false,
// i.e. always "invalid").
func renderBase(s spec, v uint64, base int) string {
	if base != 2 && base != 8 && base != 10 && base != 16 {
		return "%!(BADBASE)"
	}
	digits := strconv.FormatUint(v, base)
	if s.canonical {
		digits = canonicalPad(digits, s.lengthMod, base)
	}
	if s.alt {
		switch base {
		case 8:
			if !strings.HasPrefix(digits, "0") {
				digits = "0" + digits
			}
		case 16:
			digits = "0x" + digits
		}
	}
	return digits
}

// bitWidth maps a length modifier to the natural bit width of its
// underlying integer type, defaulting to 32 (int) when unspecified.
func bitWidth(lengthMod string) int {
	switch lengthMod {
	case "hh":
		return 8
	case "h", "I16":
		return 16
	case "I8":
		return 8
	case "l", "I32":
		return 32
	case "ll", "j", "z", "t", "I64", "IRG":
		return 64
	default:
		return 32
	}
}

// canonicalPad left-pads digits with '0' to the number of digits needed to
// represent the full bit width of the type in the given base, e.g. "0x00FF"
// for a 16-bit hex value.
func canonicalPad(digits string, lengthMod string, base int) string {
	bits := bitWidth(lengthMod)
	var maxDigits int
	switch base {
	case 2:
		maxDigits = bits
	case 8:
		maxDigits = (bits + 2) / 3
	case 16:
		maxDigits = (bits + 3) / 4
	default:
		maxDigits = len(strconv.FormatUint(uint64(1)<<uint(bits-1), 10))
	}
	if len(digits) >= maxDigits {
		return digits
	}
	return strings.Repeat("0", maxDigits-len(digits)) + digits
}

func renderFloat(s spec, v float64, verb byte) string {
	prec := 6
	if s.hasPrecision {
		prec = s.precision
	}
	out := strconv.FormatFloat(v, verb, prec, 64)
	if v >= 0 {
		if s.plus {
			out = "+" + out
		} else if s.space {
			out = " " + out
		}
	}
	return out
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int8:
		return int64(n)
	case int16:
		return int64(n)
	case int32:
		return int64(n)
	case int64:
		return n
	case uint:
		return int64(n)
	case uint8:
		return int64(n)
	case uint16:
		return int64(n)
	case uint32:
		return int64(n)
	case uint64:
		return int64(n)
	default:
		return 0
	}
}

func toUint64(v any) uint64 {
	switch n := v.(type) {
	case int:
		return uint64(n)
	case int8:
		return uint64(n)
	case int16:
		return uint64(n)
	case int32:
		return uint64(n)
	case int64:
		return uint64(n)
	case uint:
		return uint64(n)
	case uint8:
		return uint64(n)
	case uint16:
		return uint64(n)
	case uint32:
		return uint64(n)
	case uint64:
		return n
	default:
		return 0
	}
}

func toFloat64(v any) float64 {
	switch n := v.(type) {
	case float32:
		return float64(n)
	case float64:
		return n
	default:
		return float64(toInt64(v))
	}
}
