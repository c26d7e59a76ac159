package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/VladislavFirsov/longrun/contracts"
)

// mapError translates engine errors into HTTP status and a stable code.
func mapError(err error) (int, string) {
	switch {
	case errors.Is(err, contracts.ErrRunNotFound),
		errors.Is(err, contracts.ErrEffectNotFound),
		errors.Is(err, contracts.ErrUnknownProcess):
		return http.StatusNotFound, "not_found"

	case errors.Is(err, contracts.ErrRunExists):
		return http.StatusConflict, "run_exists"

	case errors.Is(err, contracts.ErrRunTerminal):
		return http.StatusConflict, "run_terminal"

	case errors.Is(err, contracts.ErrRunNotSuspended):
		return http.StatusConflict, "run_not_suspended"

	case errors.Is(err, contracts.ErrBreakpointNotResolved):
		return http.StatusConflict, "breakpoint_not_resolved"

	case errors.Is(err, contracts.ErrBreakpointNotOpen):
		return http.StatusConflict, "breakpoint_not_open"

	case errors.Is(err, contracts.ErrBreakpointConsumed):
		return http.StatusConflict, "breakpoint_consumed"

	case errors.Is(err, contracts.ErrGateRejected):
		return http.StatusUnprocessableEntity, "gate_rejected"

	case errors.Is(err, contracts.ErrOutputSchemaViolation):
		return http.StatusUnprocessableEntity, "output_schema_violation"

	case errors.Is(err, contracts.ErrInvalidInput),
		errors.Is(err, contracts.ErrDuplicateTaskName),
		errors.Is(err, contracts.ErrUnknownTask),
		errors.Is(err, contracts.ErrSchemaBuild):
		return http.StatusBadRequest, "invalid_input"

	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return 499, "cancelled"

	default:
		return http.StatusInternalServerError, "internal"
	}
}
