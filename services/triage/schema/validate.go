// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package schema

import (
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// Validator returns the shared validator with the triage enum tags
// registered: priority, disposition, codesystem, locale and sex.
//
// Description:
//
//	Field names reported in validation errors are the JSON names (or YAML
//	names when no JSON tag exists), so error namespaces map directly onto
//	document locations.
//
// Thread Safety: The returned validator is safe for concurrent use.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			for _, key := range []string{"json", "yaml"} {
				name := strings.SplitN(fld.Tag.Get(key), ",", 2)[0]
				if name == "-" {
					return ""
				}
				if name != "" {
					return name
				}
			}
			return fld.Name
		})
		mustRegister(v, "priority", func(fl validator.FieldLevel) bool {
			return Priority(fl.Field().String()).Valid()
		})
		mustRegister(v, "disposition", func(fl validator.FieldLevel) bool {
			return Disposition(fl.Field().String()).Valid()
		})
		mustRegister(v, "codesystem", func(fl validator.FieldLevel) bool {
			return CodeSystem(fl.Field().String()).Valid()
		})
		mustRegister(v, "locale", func(fl validator.FieldLevel) bool {
			return Locale(fl.Field().String()).Valid()
		})
		mustRegister(v, "sex", func(fl validator.FieldLevel) bool {
			return Sex(fl.Field().String()).Valid()
		})
		validate = v
	})
	return validate
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic("schema: registering validation " + tag + ": " + err.Error())
	}
}

// Validate checks every value constraint of the output.
func (o *Output) Validate() error {
	return Validator().Struct(o)
}

// Validate checks the intake record at the service boundary.
func (in *Intake) Validate() error {
	return Validator().Struct(in)
}
