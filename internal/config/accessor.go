package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Dot paths address the JSON form of the config: "session.driver",
// "rules.table.0.response". Numeric segments index lists.

// tree returns cfg as generic JSON values.
func tree(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// step descends one path segment from node.
func step(node any, key, path string) (any, error) {
	switch v := node.(type) {
	case map[string]any:
		child, ok := v[key]
		if !ok {
			return nil, fmt.Errorf("key not found: %s", path)
		}
		return child, nil
	case []any:
		idx, err := strconv.Atoi(key)
		if err != nil || idx < 0 || idx >= len(v) {
			return nil, fmt.Errorf("invalid list index %q in %s", key, path)
		}
		return v[idx], nil
	default:
		return nil, fmt.Errorf("%s: cannot descend into %T at %q", path, node, key)
	}
}

// GetByPath returns the config value at a dot path.
func GetByPath(cfg *Config, path string) (any, error) {
	m, err := tree(cfg)
	if err != nil {
		return nil, err
	}
	var cur any = m
	for _, key := range strings.Split(path, ".") {
		if cur, err = step(cur, key, path); err != nil {
			return nil, err
		}
	}
	return cur, nil
}

// SetByPath sets a config value. String input is converted to the type of
// the current value, so "true" sets a bool and "250" a number, while digits
// stay a string for string fields. A comma separated string sets a list.
// Keys the config does not define are rejected.
func SetByPath(cfg *Config, path string, value any) error {
	m, err := tree(cfg)
	if err != nil {
		return err
	}
	parts := strings.Split(path, ".")
	var parent any = m
	for _, key := range parts[:len(parts)-1] {
		if parent, err = step(parent, key, path); err != nil {
			return err
		}
	}

	last := parts[len(parts)-1]
	switch p := parent.(type) {
	case map[string]any:
		// Empty omitempty fields are absent from the tree; unknown keys are
		// caught when decoding below.
		coerced, err := coerce(p[last], value)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		p[last] = coerced
	case []any:
		current, err := step(p, last, path)
		if err != nil {
			return err
		}
		coerced, err := coerce(current, value)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		idx, _ := strconv.Atoi(last)
		p[idx] = coerced
	default:
		return fmt.Errorf("%s: cannot set inside %T", path, parent)
	}

	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var updated Config
	if err := dec.Decode(&updated); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	*cfg = updated
	return nil
}

// coerce converts a string value to the JSON kind of current.
func coerce(current, value any) (any, error) {
	s, ok := value.(string)
	if !ok {
		return value, nil
	}
	switch current.(type) {
	case bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return nil, fmt.Errorf("expected true or false, got %q", s)
		}
		return b, nil
	case float64:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("expected a number, got %q", s)
		}
		return f, nil
	case []any:
		items := []any{}
		for _, item := range splitList(s) {
			items = append(items, item)
		}
		return items, nil
	case map[string]any:
		return nil, fmt.Errorf("cannot replace a section, set one of its keys")
	}
	return s, nil
}

// Sanitize returns a copy of the config with secrets masked.
func Sanitize(cfg *Config) *Config {
	c := *cfg
	c.Rules.Table = append(c.Rules.Table[:0:0], cfg.Rules.Table...)
	c.Channels.Telegram.AllowFrom = append(c.Channels.Telegram.AllowFrom[:0:0], cfg.Channels.Telegram.AllowFrom...)

	c.Channels.Telegram.Token = maskString(c.Channels.Telegram.Token)
	wc := &c.Channels.WhatsAppCloud
	wc.AccessToken = maskString(wc.AccessToken)
	if wc.AppSecret != "" {
		wc.AppSecret = "***"
	}
	if wc.VerifyToken != "" {
		wc.VerifyToken = "***"
	}
	c.Store.URL = RedactURL(c.Store.URL)
	return &c
}

// RedactURL masks the password of a connection URL. Strings that do not
// parse as URLs with credentials are returned unchanged.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	return u.Redacted()
}

// maskString keeps the first and last 4 characters of long secrets.
func maskString(s string) string {
	switch {
	case s == "":
		return ""
	case len(s) <= 8:
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// ListPaths returns every leaf path with its current value.
func ListPaths(cfg *Config) map[string]any {
	m, err := tree(cfg)
	if err != nil {
		return nil
	}
	out := make(map[string]any)
	flatten("", m, out)
	return out
}

func flatten(prefix string, node any, out map[string]any) {
	join := func(k string) string {
		if prefix == "" {
			return k
		}
		return prefix + "." + k
	}
	switch v := node.(type) {
	case map[string]any:
		for k, child := range v {
			flatten(join(k), child, out)
		}
	case []any:
		if len(v) == 0 {
			out[prefix] = v
		}
		for i, child := range v {
			flatten(join(strconv.Itoa(i)), child, out)
		}
	default:
		out[prefix] = v
	}
}
