package configstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// maxStringLen bounds every string field in a config body.
const maxStringLen = 4096

// ValidationError is a categorized config rejection: the JSON path of the
// offending field plus a human-readable message. A failed validation never
// touches the database.
type ValidationError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed at %q: %s", e.Path, e.Message)
}

func invalid(path, format string, args ...any) *ValidationError {
	return &ValidationError{Path: path, Message: fmt.Sprintf(format, args...)}
}

var filterListKeys = []string{"service_ids", "customer_ids", "creator_ids", "creator_company_ids"}

var bindingKeys = []string{
	"service_id_field", "customer_id_field", "creator_id_field", "creator_company_id_field",
}

// Validate checks a config body against the write-path rules. Numbers are
// decoded as json.Number so 64-bit ids survive untouched.
func Validate(raw json.RawMessage) *ValidationError {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return invalid("", "body is not a JSON object: %v", err)
	}

	routing, ok := doc["routing"].(map[string]any)
	if !ok {
		return invalid("routing", "required object is missing")
	}
	if verr := validateRouting(routing); verr != nil {
		return verr
	}

	esc, ok := doc["escalation"].(map[string]any)
	if !ok {
		return invalid("escalation", "required object is missing")
	}
	return validateEscalation(esc)
}

func validateRouting(routing map[string]any) *ValidationError {
	rules, ok := routing["rules"].([]any)
	if !ok {
		return invalid("routing.rules", "required list is missing")
	}
	for i, r := range rules {
		path := fmt.Sprintf("routing.rules[%d]", i)
		rule, ok := r.(map[string]any)
		if !ok {
			return invalid(path, "rule must be an object")
		}
		if verr := validateRule(rule, path, true); verr != nil {
			return verr
		}
	}

	if _, present := routing["default_dest"]; !present {
		return invalid("routing.default_dest", "required field is missing (use {} for none)")
	}
	if dd, ok := routing["default_dest"].(map[string]any); ok {
		if verr := validateDest(dd, "routing.default_dest", false); verr != nil {
			return verr
		}
	} else if routing["default_dest"] != nil {
		return invalid("routing.default_dest", "must be an object or null")
	}

	for _, key := range bindingKeys {
		v, present := routing[key]
		if !present {
			continue
		}
		s, ok := v.(string)
		if !ok || strings.TrimSpace(s) == "" {
			return invalid("routing."+key, "field binding must be a non-empty string")
		}
		if len(s) > maxStringLen {
			return invalid("routing."+key, "string exceeds %d bytes", maxStringLen)
		}
	}
	return nil
}

// validateRule checks one routing or escalation filter body. requireCriterion
// distinguishes routing rules (must carry one) from escalation filters (empty
// means match-all).
func validateRule(rule map[string]any, path string, requireCriterion bool) *ValidationError {
	if requireCriterion {
		dest, ok := rule["dest"].(map[string]any)
		if !ok {
			return invalid(path+".dest", "required object is missing")
		}
		if verr := validateDest(dest, path+".dest", true); verr != nil {
			return verr
		}
	}

	hasCriterion := false

	if kws, present := rule["keywords"]; present {
		list, ok := kws.([]any)
		if !ok {
			return invalid(path+".keywords", "must be a list of strings")
		}
		for j, kw := range list {
			s, ok := kw.(string)
			if !ok {
				return invalid(fmt.Sprintf("%s.keywords[%d]", path, j), "must be a string")
			}
			if len(s) > maxStringLen {
				return invalid(fmt.Sprintf("%s.keywords[%d]", path, j), "string exceeds %d bytes", maxStringLen)
			}
			if strings.TrimSpace(s) != "" {
				hasCriterion = true
			}
		}
	}

	for _, key := range filterListKeys {
		v, present := rule[key]
		if !present {
			continue
		}
		list, ok := v.([]any)
		if !ok {
			return invalid(path+"."+key, "must be a list of integers")
		}
		for j, id := range list {
			if _, ok := asInt64(id); !ok {
				return invalid(fmt.Sprintf("%s.%s[%d]", path, key, j), "must be a 64-bit integer")
			}
		}
		if len(list) > 0 {
			hasCriterion = true
		}
	}

	if requireCriterion && !hasCriterion {
		return invalid(path, "rule carries no criterion (keywords or id lists)")
	}
	return nil
}

// validateDest checks a destination object. requireChat demands a usable
// chat_id; default_dest allows {} and null chat_id meaning "no default".
func validateDest(dest map[string]any, path string, requireChat bool) *ValidationError {
	chatRaw, present := dest["chat_id"]
	if !present || chatRaw == nil {
		if requireChat {
			return invalid(path+".chat_id", "required integer is missing")
		}
	} else if _, ok := asInt64(chatRaw); !ok {
		return invalid(path+".chat_id", "must be a 64-bit integer")
	}

	if threadRaw, present := dest["thread_id"]; present && threadRaw != nil {
		if _, ok := asInt64(threadRaw); !ok {
			return invalid(path+".thread_id", "must be a 64-bit integer")
		}
	}
	return nil
}

func validateEscalation(esc map[string]any) *ValidationError {
	enabledRaw, present := esc["enabled"]
	if !present {
		return invalid("escalation.enabled", "required boolean is missing")
	}
	enabled, ok := enabledRaw.(bool)
	if !ok {
		return invalid("escalation.enabled", "must be a boolean")
	}

	var rules []any
	if v, present := esc["rules"]; present {
		if rules, ok = v.([]any); !ok {
			return invalid("escalation.rules", "must be a list")
		}
	}
	for i, r := range rules {
		path := fmt.Sprintf("escalation.rules[%d]", i)
		rule, ok := r.(map[string]any)
		if !ok {
			return invalid(path, "rule must be an object")
		}
		dest, ok := rule["dest"].(map[string]any)
		if !ok {
			return invalid(path+".dest", "required object is missing")
		}
		if verr := validateDest(dest, path+".dest", true); verr != nil {
			return verr
		}
		if m, present := rule["mention"]; present {
			s, ok := m.(string)
			if !ok {
				return invalid(path+".mention", "must be a string")
			}
			if len(s) > maxStringLen {
				return invalid(path+".mention", "string exceeds %d bytes", maxStringLen)
			}
		}
		if f, present := rule["filter"]; present && f != nil {
			filter, ok := f.(map[string]any)
			if !ok {
				return invalid(path+".filter", "must be an object")
			}
			// Empty filter means match-all, so no criterion is required.
			if verr := validateRule(filter, path+".filter", false); verr != nil {
				return verr
			}
		}
	}

	if !enabled {
		return nil
	}
	after, ok := asInt64(esc["after_s"])
	if !ok || after <= 0 {
		return invalid("escalation.after_s", "must be a positive integer when escalation is enabled")
	}
	if len(rules) == 0 {
		return invalid("escalation.rules", "at least one rule is required when escalation is enabled")
	}
	return nil
}

// asInt64 accepts json.Number and float-free numerics.
func asInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case json.Number:
		n, err := x.Int64()
		if err != nil {
			return 0, false
		}
		return n, true
	case float64:
		n := int64(x)
		if float64(n) != x {
			return 0, false
		}
		return n, true
	case int64:
		return x, true
	case int:
		return int64(x), true
	default:
		return 0, false
	}
}
