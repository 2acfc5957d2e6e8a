package validation

import (
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
)

// Validation error codes, surfaced to clients in extensions.code.
const (
	CodeAmbiguousOperation      = "AmbiguousOperation"
	CodeUnknownOperation        = "UnknownOperation"
	CodeUnsupportedOperation    = "UnsupportedOperation"
	CodeUnknownField            = "UnknownField"
	CodeUnknownArgument         = "UnknownArgument"
	CodeMissingRequiredArgument = "MissingRequiredArgument"
	CodeArgumentTypeMismatch    = "ArgumentTypeMismatch"
	CodeUndefinedVariable       = "UndefinedVariable"
	CodeVariableTypeMismatch    = "VariableTypeMismatch"
	CodeInvalidVariableValue    = "InvalidVariableValue"
	CodeFragmentTypeMismatch    = "FragmentTypeMismatch"
	CodeUnknownFragment         = "UnknownFragment"
	CodeDuplicateFragment       = "DuplicateFragment"
	CodeFragmentCycle           = "FragmentCycle"
	CodeInvalidLeafSelection    = "InvalidLeafSelection"
	CodeConflictingFieldNames   = "ConflictingFieldNames"
)

func errf(code string, pos *ast.Position, format string, args ...interface{}) *gqlerror.Error {
	var err *gqlerror.Error
	if pos != nil {
		err = gqlerror.ErrorPosf(pos, format, args...)
	} else {
		err = gqlerror.Errorf(format, args...)
	}
	if err.Extensions == nil {
		err.Extensions = map[string]interface{}{}
	}
	err.Extensions["code"] = code
	return err
}
