package config

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// EnvPrefix prefixes every environment override, e.g. LEMOND_ADDR.
const EnvPrefix = "LEMOND_"

var durationType = reflect.TypeOf(Duration(0))

// ApplyEnv overrides cfg from environment variables named after each field's
// json key (LEMOND_MAX_LOADED_MODELS, LEMOND_CAPACITY_WAIT, ...). Lists are
// comma separated and maps take "key=value" pairs.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	v := reflect.ValueOf(cfg).Elem()
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		key := strings.Split(t.Field(i).Tag.Get("json"), ",")[0]
		if key == "" || key == "-" {
			continue
		}
		name := EnvPrefix + strings.ToUpper(key)
		raw, ok := lookup(name)
		if !ok {
			continue
		}
		if err := setField(v.Field(i), raw); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

func setField(f reflect.Value, raw string) error {
	raw = strings.TrimSpace(raw)
	if f.Type() == durationType {
		var d Duration
		if err := d.UnmarshalText([]byte(raw)); err != nil {
			return err
		}
		f.Set(reflect.ValueOf(d))
		return nil
	}
	switch f.Kind() {
	case reflect.String:
		f.SetString(raw)
	case reflect.Int, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return err
		}
		f.SetInt(n)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		f.SetBool(b)
	case reflect.Slice:
		f.Set(reflect.ValueOf(SplitCSV(raw)))
	case reflect.Map:
		m := reflect.MakeMap(f.Type())
		for _, pair := range SplitCSV(raw) {
			k, val, ok := strings.Cut(pair, "=")
			if !ok {
				return fmt.Errorf("expected key=value, got %q", pair)
			}
			elem := reflect.New(f.Type().Elem()).Elem()
			if err := setField(elem, val); err != nil {
				return fmt.Errorf("%s: %w", k, err)
			}
			m.SetMapIndex(reflect.ValueOf(strings.TrimSpace(k)), elem)
		}
		f.Set(m)
	default:
		return fmt.Errorf("unsupported field kind %s", f.Kind())
	}
	return nil
}

// SplitCSV splits a comma-separated list, trimming blanks and dropping empties.
func SplitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
