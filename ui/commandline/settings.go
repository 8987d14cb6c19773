// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package commandline contains convenience tools for the sonograph command-line programs:
// settings flags, progress bars and result tables.
package commandline

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ParseSettings from settings -- typically the contents of a flag set by the user.
// The settings are a list separated by ";": e.g.: "num_nodes=50;classes=normal,pcos;...".
//
// cfg must be a pointer to a struct, and the parameters are the yaml names of its fields
// (see classifier.Config). The current values of the fields work as defaults, and the type
// of the field defines how the value is parsed. Lists are separated by ",".
//
// For integer types, "_" is removed: it allows one to enter large numbers using it as a separator, like
// in Go. E.g.: 1_000_000 = 1000000.
//
// A setting "file:<path>" reads settings from the file, one or more per line, and lines starting
// with "#" are comments.
//
// It returns the names of the parameters set, in the order they were set.
//
// Example usage:
//
//	func main() {
//		cfg := classifier.DefaultConfig()
//		settings := commandline.CreateSettingsFlag(&cfg, "")
//		flag.Parse()
//		paramsSet := must.M1(commandline.ParseSettings(&cfg, *settings))
//		fmt.Println(commandline.SprintModifiedSettings(&cfg, paramsSet))
//		...
//	}
func ParseSettings(cfg any, settings string) (paramsSet []string, err error) {
	fields, err := settingsFields(cfg)
	if err != nil {
		return nil, err
	}
	for _, setting := range strings.Split(settings, ";") {
		paramsSet, err = parseSetting(fields, setting, paramsSet)
		if err != nil {
			return
		}
	}
	return
}

// settingsFields maps the yaml names of the fields of the struct pointed by cfg to the fields themselves.
func settingsFields(cfg any) (map[string]reflect.Value, error) {
	ptr := reflect.ValueOf(cfg)
	if ptr.Kind() != reflect.Pointer || ptr.IsNil() || ptr.Elem().Kind() != reflect.Struct {
		return nil, errors.Errorf("settings can only be parsed into a pointer to a struct, got %T", cfg)
	}
	structValue := ptr.Elem()
	fields := make(map[string]reflect.Value)
	for ii := range structValue.NumField() {
		name := settingName(structValue.Type().Field(ii))
		if name == "" {
			continue
		}
		fields[name] = structValue.Field(ii)
	}
	return fields, nil
}

// settingName returns the yaml name of the field, or "" if it can't be set.
func settingName(field reflect.StructField) string {
	if !field.IsExported() {
		return ""
	}
	name, _, _ := strings.Cut(field.Tag.Get("yaml"), ",")
	if name == "-" {
		return ""
	}
	if name == "" {
		name = strings.ToLower(field.Name)
	}
	return name
}

func parseSetting(fields map[string]reflect.Value, setting string, paramsSet []string) (newParamsSet []string, err error) {
	newParamsSet = paramsSet
	setting = strings.TrimSpace(setting)
	if setting == "" {
		return
	}
	if strings.HasPrefix(setting, "file:") {
		filePath := replaceTilde(strings.TrimPrefix(setting, "file:"))
		var contents []byte
		contents, err = os.ReadFile(filePath)
		if err != nil {
			err = errors.Wrapf(err, "failed to read settings from file %q", filePath)
			return
		}
		for _, line := range strings.Split(string(contents), "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			for _, lineSetting := range strings.Split(line, ";") {
				newParamsSet, err = parseSetting(fields, lineSetting, newParamsSet)
				if err != nil {
					return
				}
			}
		}
		return
	}

	paramName, valueStr, found := strings.Cut(setting, "=")
	if !found {
		err = errors.Errorf("can't parse setting %q: each setting requires the format \"<param>=<value>\"", setting)
		return
	}
	paramName = strings.TrimSpace(paramName)
	field, found := fields[paramName]
	if !found {
		err = errors.Errorf("can't set parameter %q: it is not known, see -help for the list of parameters", paramName)
		return
	}
	if err = parseValue(field, strings.TrimSpace(valueStr)); err != nil {
		err = errors.WithMessagef(err, "failed to parse value %q for parameter %q (default value is %v)",
			valueStr, paramName, field.Interface())
		return
	}
	newParamsSet = append(newParamsSet, paramName)
	return
}

// parseValue parses valueStr into a new value of the type of field, and only sets the field if the parsing succeeds.
func parseValue(field reflect.Value, valueStr string) error {
	value := reflect.New(field.Type()).Elem()
	if value.Kind() == reflect.Slice {
		var parts []string
		if valueStr != "" {
			parts = strings.Split(valueStr, ",")
		}
		value.Set(reflect.MakeSlice(field.Type(), len(parts), len(parts)))
		for ii, part := range parts {
			if err := parseScalar(value.Index(ii), strings.TrimSpace(part)); err != nil {
				return err
			}
		}
	} else if err := parseScalar(value, valueStr); err != nil {
		return err
	}
	field.Set(value)
	return nil
}

func parseScalar(value reflect.Value, valueStr string) error {
	switch value.Kind() {
	case reflect.String:
		value.SetString(valueStr)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		v, err := strconv.ParseInt(strings.ReplaceAll(valueStr, "_", ""), 0, value.Type().Bits())
		if err != nil {
			return err
		}
		value.SetInt(v)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		v, err := strconv.ParseUint(strings.ReplaceAll(valueStr, "_", ""), 0, value.Type().Bits())
		if err != nil {
			return err
		}
		value.SetUint(v)
	case reflect.Float32, reflect.Float64:
		v, err := strconv.ParseFloat(valueStr, value.Type().Bits())
		if err != nil {
			return err
		}
		value.SetFloat(v)
	case reflect.Bool:
		v, err := strconv.ParseBool(valueStr)
		if err != nil {
			return err
		}
		value.SetBool(v)
	default:
		return errors.Errorf("don't know how to parse type %s", value.Type())
	}
	return nil
}

// replaceTilde replaces a leading "~" by the home directory of the user.
func replaceTilde(filePath string) string {
	if filePath != "~" && !strings.HasPrefix(filePath, "~/") {
		return filePath
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filePath
	}
	return filepath.Join(home, strings.TrimPrefix(filePath, "~"))
}

// CreateSettingsFlag creates a string flag with the given flagName (if empty it will be named
// "set") and with a description of the parameters of cfg, a pointer to a struct, and their
// current values.
//
// The flag should be created before the call to `flags.Parse()`. See example in ParseSettings.
func CreateSettingsFlag(cfg any, flagName string) *string {
	if flagName == "" {
		flagName = "set"
	}
	parts := []string{
		`Set configuration parameters. ` +
			`It should be a list of elements "param=value" separated by ";", and lists of values are separated by ",". ` +
			`It can also be given an entry like: "file:settings_file.txt", in ` +
			`which case the file will be read and the settings will be parsed, ` +
			`with new-lines working as ";" to separate settings and lines starting with "#" are considered comments. ` +
			`Current available parameters that can be set:`,
	}
	parts = append(parts, SprintSettings(cfg))
	var settings string
	flag.StringVar(&settings, flagName, "", strings.Join(parts, "\n"))
	return &settings
}

// SprintSettings pretty-print the values of the parameters of cfg, a pointer to a struct, into a string.
func SprintSettings(cfg any) string {
	fields, err := settingsFields(cfg)
	if err != nil {
		return err.Error()
	}
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	return sprintFields(fields, names)
}

// SprintModifiedSettings pretty-print the values of the parameters in paramsSet (as returned by ParseSettings).
func SprintModifiedSettings(cfg any, paramsSet []string) string {
	fields, err := settingsFields(cfg)
	if err != nil {
		return err.Error()
	}
	return sprintFields(fields, paramsSet)
}

func sprintFields(fields map[string]reflect.Value, names []string) string {
	names = slices.Clone(names)
	slices.Sort(names)
	names = slices.Compact(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		field, found := fields[name]
		if !found {
			continue
		}
		parts = append(parts, fmt.Sprintf("\t%q: (%s) %v", name, field.Type(), field.Interface()))
	}
	return strings.Join(parts, "\n")
}
