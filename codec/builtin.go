package codec

import (
	"encoding/base64"
	"encoding/json"
	"strconv"
	"time"
)

func registerBuiltins(r *Registry) {
	MustRegister[string](r, Funcs[string]{
		EncodeFunc: func(v string) string { return v },
		DecodeFunc: func(s string) string { return s },
	})
	MustRegister[bool](r, Funcs[bool]{
		EncodeFunc: strconv.FormatBool,
		DecodeFunc: func(s string) bool { b, _ := strconv.ParseBool(s); return b },
	})
	MustRegister[None](r, Funcs[None]{
		EncodeFunc: func(None) string { return "" },
		DecodeFunc: func(string) None { return None{} },
	})

	MustRegister[int](r, signed[int](strconv.IntSize))
	MustRegister[int8](r, signed[int8](8))
	MustRegister[int16](r, signed[int16](16))
	MustRegister[int32](r, signed[int32](32))
	MustRegister[int64](r, signed[int64](64))
	MustRegister[uint](r, unsigned[uint](strconv.IntSize))
	MustRegister[uint8](r, unsigned[uint8](8))
	MustRegister[uint16](r, unsigned[uint16](16))
	MustRegister[uint32](r, unsigned[uint32](32))
	MustRegister[uint64](r, unsigned[uint64](64))

	MustRegister[float32](r, Funcs[float32]{
		EncodeFunc: func(v float32) string { return strconv.FormatFloat(float64(v), 'g', -1, 32) },
		DecodeFunc: func(s string) float32 { f, _ := strconv.ParseFloat(s, 32); return float32(f) },
	})
	MustRegister[float64](r, Funcs[float64]{
		EncodeFunc: func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) },
		DecodeFunc: func(s string) float64 { f, _ := strconv.ParseFloat(s, 64); return f },
	})

	MustRegister[[]byte](r, Funcs[[]byte]{
		EncodeFunc: base64.StdEncoding.EncodeToString,
		DecodeFunc: func(s string) []byte { b, _ := base64.StdEncoding.DecodeString(s); return b },
	})
	MustRegister[[]string](r, JSON[[]string]())

	MustRegister[time.Duration](r, Funcs[time.Duration]{
		EncodeFunc: func(d time.Duration) string { return strconv.FormatInt(int64(d), 10) },
		DecodeFunc: func(s string) time.Duration { n, _ := strconv.ParseInt(s, 10, 64); return time.Duration(n) },
	})
	MustRegister[time.Time](r, Funcs[time.Time]{
		EncodeFunc: func(t time.Time) string { return t.Format(time.RFC3339Nano) },
		DecodeFunc: func(s string) time.Time { t, _ := time.Parse(time.RFC3339Nano, s); return t },
	})
}

type signedInt interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64
}

type unsignedInt interface {
	~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64
}

func signed[T signedInt](bits int) Funcs[T] {
	return Funcs[T]{
		EncodeFunc: func(v T) string { return strconv.FormatInt(int64(v), 10) },
		DecodeFunc: func(s string) T { n, _ := strconv.ParseInt(s, 10, bits); return T(n) },
	}
}

func unsigned[T unsignedInt](bits int) Funcs[T] {
	return Funcs[T]{
		EncodeFunc: func(v T) string { return strconv.FormatUint(uint64(v), 10) },
		DecodeFunc: func(s string) T { n, _ := strconv.ParseUint(s, 10, bits); return T(n) },
	}
}

// JSON returns a codec that carries T as its JSON encoding.
// Values that fail to marshal encode to an empty payload.
func JSON[T any]() Funcs[T] {
	return Funcs[T]{
		EncodeFunc: func(v T) string {
			b, err := json.Marshal(v)
			if err != nil {
				return ""
			}

			return string(b)
		},
		DecodeFunc: func(s string) T {
			var v T
			_ = json.Unmarshal([]byte(s), &v) //nolint:errcheck // malformed payloads decode to an undefined value

			return v
		},
	}
}
