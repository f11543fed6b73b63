// Copyright (C) 2025 Cercina AI.
// See LICENSE for copying information.

// Package cfgstruct binds configuration structs to flags using
// struct tags.
package cfgstruct

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

// Bind declares a flag for every tagged leaf field of config, which
// must be a pointer to a struct. Nested structs become dot-separated
// prefixes: Images.BatchSize binds as images.batch-size.
func Bind(flags *pflag.FlagSet, config interface{}) {
	ptr := reflect.ValueOf(config)
	if ptr.Kind() != reflect.Ptr {
		panic(fmt.Sprintf("invalid config type: %T, expected a pointer to a struct", config))
	}
	bindStruct(flags, ptr.Elem(), "")
}

func bindStruct(flags *pflag.FlagSet, value reflect.Value, prefix string) {
	if value.Kind() != reflect.Struct {
		panic(fmt.Sprintf("invalid config type: %s, expected a struct", value.Type()))
	}

	for i := 0; i < value.NumField(); i++ {
		field := value.Type().Field(i)
		fieldValue := value.Field(i)
		name := prefix + hyphenate(field.Name)

		if field.Type.Kind() == reflect.Struct && field.Type != reflect.TypeOf(time.Time{}) {
			bindStruct(flags, fieldValue, name+".")
			continue
		}

		help := field.Tag.Get("help")
		def, hasDefault := field.Tag.Lookup("default")
		if help == "" && !hasDefault {
			continue
		}

		addr := fieldValue.Addr().Interface()
		switch typed := addr.(type) {
		case *string:
			flags.StringVar(typed, name, def, help)
		case *bool:
			flags.BoolVar(typed, name, parseBool(name, def), help)
		case *int:
			flags.IntVar(typed, name, int(parseInt(name, def)), help)
		case *int64:
			flags.Int64Var(typed, name, parseInt(name, def), help)
		case *float64:
			flags.Float64Var(typed, name, parseFloat(name, def), help)
		case *time.Duration:
			flags.DurationVar(typed, name, parseDuration(name, def), help)
		default:
			panic(fmt.Sprintf("invalid field type %s for flag %q", field.Type, name))
		}
	}
}

// hyphenate turns CamelCase field names into dashed flag names.
func hyphenate(name string) string {
	var b strings.Builder
	for i, r := range name {
		if r >= 'A' && r <= 'Z' {
			if i > 0 && name[i-1] >= 'a' && name[i-1] <= 'z' {
				b.WriteByte('-')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

func parseBool(name, def string) bool {
	if def == "" {
		return false
	}
	value, err := strconv.ParseBool(def)
	if err != nil {
		panic(fmt.Sprintf("invalid default for flag %q: %v", name, err))
	}
	return value
}

func parseInt(name, def string) int64 {
	if def == "" {
		return 0
	}
	value, err := strconv.ParseInt(def, 10, 64)
	if err != nil {
		panic(fmt.Sprintf("invalid default for flag %q: %v", name, err))
	}
	return value
}

func parseFloat(name, def string) float64 {
	if def == "" {
		return 0
	}
	value, err := strconv.ParseFloat(def, 64)
	if err != nil {
		panic(fmt.Sprintf("invalid default for flag %q: %v", name, err))
	}
	return value
}

func parseDuration(name, def string) time.Duration {
	if def == "" {
		return 0
	}
	value, err := time.ParseDuration(def)
	if err != nil {
		panic(fmt.Sprintf("invalid default for flag %q: %v", name, err))
	}
	return value
}
