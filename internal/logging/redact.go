package logging

import "strings"

// Redacted replaces the value of any attribute whose key names a secret.
const Redacted = "[REDACTED]"

var secretKeys = map[string]struct{}{
	"password":      {},
	"refresh_token": {},
	"access_token":  {},
	"token":         {},
	"secret_key":    {},
}

// redact returns args with secret values masked. The input slice is not
// modified; it is returned as is when nothing needs masking.
func redact(args []any) []any {
	var out []any
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		if _, secret := secretKeys[strings.ToLower(key)]; !secret {
			continue
		}
		if out == nil {
			out = append([]any(nil), args...)
		}
		out[i+1] = Redacted
	}
	if out == nil {
		return args
	}
	return out
}
