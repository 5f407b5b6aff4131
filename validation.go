package authcore

import "unicode/utf8"

// Field names used in validation error ids.
const (
	fieldUsername        = "username"
	fieldNewUsername     = "new-username"
	fieldPassword        = "password"
	fieldNewPassword     = "new-password"
	fieldCurrentPassword = "current-password"
	fieldLocale          = "locale"
)

func validationItem(id string, values map[string]int) APIError {
	return APIError{Source: "validation", ID: id, Values: values}
}

func emptyField(field string) APIError {
	return validationItem(field+".empty", nil)
}

// checkLength returns the {field}.empty, {field}.too-short or
// {field}.too-long item for value, or nil when it fits. Lengths count
// characters, not bytes.
func checkLength(field, value string, minLen, maxLen int) []APIError {
	n := utf8.RuneCountInString(value)
	switch {
	case n == 0:
		return []APIError{emptyField(field)}
	case n < minLen:
		return []APIError{validationItem(field+".too-short", map[string]int{"minLength": minLen})}
	case n > maxLen:
		return []APIError{validationItem(field+".too-long", map[string]int{"maxLength": maxLen})}
	}
	return nil
}

func (e *Engine) validateUsername(field, value string) []APIError {
	return checkLength(field, value, e.cfg.User.UsernameMinLength, e.cfg.User.UsernameMaxLength)
}

func (e *Engine) validatePassword(field, value string) []APIError {
	return checkLength(field, value, e.cfg.User.PasswordMinLength, e.cfg.User.PasswordMaxLength)
}

func (e *Engine) validateLocale(value string) []APIError {
	if !e.cfg.User.SupportsLocale(value) {
		return []APIError{validationItem(fieldLocale+".invalid", nil)}
	}
	return nil
}

// invalid wraps items as a *ValidationError, or returns nil when empty.
func invalid(items []APIError) error {
	if len(items) == 0 {
		return nil
	}
	return &ValidationError{Errors: items}
}
