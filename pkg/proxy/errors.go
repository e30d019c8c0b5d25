package proxy

import (
	"fmt"
)

// ClientInputError reports a missing or malformed request parameter. It is
// returned before any cache lookup or upstream fetch takes place.
type ClientInputError struct {
	Param   string
	Message string
}

// Error implements the error interface.
func (e *ClientInputError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("invalid parameter %q", e.Param)
}

func missingParam(param string) *ClientInputError {
	return &ClientInputError{
		Param:   param,
		Message: fmt.Sprintf("Parâmetro %s é obrigatório", param),
	}
}

func invalidInt(param string) *ClientInputError {
	return &ClientInputError{
		Param:   param,
		Message: fmt.Sprintf("Parâmetro %s deve ser um inteiro não negativo", param),
	}
}
