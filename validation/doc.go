// Package validation checks configuration structs using go-playground
// validator struct tags.
//
//	type PoolConfig struct {
//	    MaxSize int `validate:"min=1"`
//	}
//	err := validation.ValidateStruct(cfg)
//
// Failures are reported as a MISCONFIGURED *errors.AppError whose details list
// every offending field.
package validation
