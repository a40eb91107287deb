package logger

import "time"

// Field keys shared by every proxykit component.
const (
	FieldComponent = "component"
	FieldIdentity  = "identity"
	FieldMember    = "member"
	FieldSource    = "target_source"
	FieldProxy     = "proxy_id"
	FieldSlot      = "slot"
	FieldOperation = "operation"
	FieldStatus    = "status"
	FieldError     = "error"
	FieldDuration  = "duration_ms"
)

// Fields builds a field map from alternating key-value pairs. Non-string
// keys and a trailing key without a value are dropped.
//
//	log.Info("pool ready", logger.Fields(logger.FieldIdentity, ":db", "max", 4))
func Fields(kvs ...interface{}) map[string]interface{} {
	m := make(map[string]interface{}, len(kvs)/2)
	for i := 0; i+1 < len(kvs); i += 2 {
		if key, ok := kvs[i].(string); ok {
			m[key] = kvs[i+1]
		}
	}
	return m
}

// CallFields identifies one member call on a definition.
func CallFields(identity, member string) map[string]interface{} {
	return map[string]interface{}{
		FieldIdentity: identity,
		FieldMember:   member,
	}
}

// FailureFields attaches err to a definition.
func FailureFields(identity string, err error) map[string]interface{} {
	return map[string]interface{}{
		FieldIdentity: identity,
		FieldError:    err.Error(),
	}
}

// ElapsedFields records how long op took.
func ElapsedFields(op string, d time.Duration) map[string]interface{} {
	return map[string]interface{}{
		FieldOperation: op,
		FieldDuration:  Milliseconds(d),
	}
}

// Milliseconds renders d as fractional milliseconds, the unit of FieldDuration.
func Milliseconds(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
