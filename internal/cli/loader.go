package cli

import (
	"errors"
	"fmt"
	"os"

	"cuelang.org/go/cue/token"

	"github.com/iml130/mf-plugin/internal/compiler"
	"github.com/iml130/mf-plugin/internal/ir"
)

// Command error codes. Program validation codes (E2xx) come from package
// compiler.
const (
	ErrCodeGeneric      = "E001" // Generic/unknown error
	ErrCodeNotFound     = "E005" // Path not found
	ErrCodeCompile      = "E006" // CUE document does not compile
	ErrCodeInvalid      = "E007" // Program fails static validation
	ErrCodeConfig       = "E008" // Configuration file or environment invalid
	ErrCodeStore        = "E009" // Run store unavailable
	ErrCodeObjectStore  = "E010" // Object store unavailable
	ErrCodeTestFailed   = "E_TEST_FAILED"
	ErrCodeTaskFailed   = "E_TASK_FAILED"
	ErrCodeRunNotFound  = "E_RUN_NOT_FOUND"
	ErrCodeNoSnapshot   = "E_NO_SNAPSHOT"
	ErrCodeInvalidInput = "E_INVALID_INPUT"
)

// LoadError is a program that could not be read or compiled.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadResult is a compiled program with its static findings.
type LoadResult struct {
	Program  *ir.Program
	Errors   []compiler.ValidationError
	Warnings []compiler.CycleWarning
}

// Valid reports whether validation found no errors.
func (r *LoadResult) Valid() bool { return len(r.Errors) == 0 }

// LoadProgram compiles path and runs static validation and the cycle
// analyses. A *LoadError is returned when the document cannot be
// compiled at all.
func LoadProgram(path string) (*LoadResult, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("program not found: %s", path)}
	}
	if info.IsDir() {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a file: %s", path)}
	}

	p, err := compiler.CompileFile(path)
	if err != nil {
		var ce *compiler.CompileError
		if errors.As(err, &ce) {
			return nil, &LoadError{Code: ErrCodeCompile, Message: fmt.Sprintf("%s: %s", ce.Field, ce.Message), Pos: ce.Pos}
		}
		return nil, &LoadError{Code: ErrCodeCompile, Message: err.Error()}
	}

	res := &LoadResult{Program: p, Errors: compiler.Validate(p)}
	res.Warnings = append(res.Warnings, compiler.AnalyzeRuleCycles(p)...)
	res.Warnings = append(res.Warnings, compiler.AnalyzeTaskCycles(p)...)
	return res, nil
}

// loadValidProgram loads path and fails unless it validates.
func loadValidProgram(path string) (*ir.Program, error) {
	res, err := LoadProgram(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load program", err)
	}
	if !res.Valid() {
		return nil, WrapExitError(ExitFailure, "program is invalid", res.Errors[0])
	}
	return res.Program, nil
}
