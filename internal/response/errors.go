package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrTokenRequired    ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid     ErrCode = "TOKEN_INVALID"
	ErrTokenExpired     ErrCode = "TOKEN_EXPIRED"
	ErrOpsSecretInvalid ErrCode = "OPS_SECRET_INVALID"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrStudentAccessOnly ErrCode = "STUDENT_ACCESS_ONLY"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound ErrCode = "NOT_FOUND"
	ErrConflict ErrCode = "CONFLICT"

	// ─── Exam-specific ─────────────────────────────────────────────────
	ErrExamNotAvailable      ErrCode = "EXAM_NOT_AVAILABLE"
	ErrCompletePriorSections ErrCode = "COMPLETE_PRIOR_SECTIONS"
	ErrAlreadySubmitted      ErrCode = "ALREADY_SUBMITTED"
	ErrTimeExpired           ErrCode = "TIME_EXPIRED"
	ErrReconcileRunning      ErrCode = "RECONCILE_RUNNING"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrTokenRequired:
		return "Se requiere un token de autenticación."
	case ErrTokenInvalid:
		return "El token de autenticación no es válido."
	case ErrTokenExpired:
		return "El token de autenticación ha expirado."
	case ErrOpsSecretInvalid:
		return "Credencial de operación no válida."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrStudentAccessOnly:
		return "Este recurso está reservado para estudiantes."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "La validación falló. Revisa los datos enviados."
	case ErrInvalidID:
		return "El formato del ID no es válido."
	case ErrInvalidPayload:
		return "El cuerpo de la solicitud no es válido."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Recurso no encontrado."
	case ErrConflict:
		return "La operación entra en conflicto con el estado actual."

	// ─── Exam-specific ─────────────────────────────────────────────────
	case ErrExamNotAvailable:
		return "Este simulacro no está disponible por ahora."
	case ErrCompletePriorSections:
		return "Completa las secciones anteriores antes de continuar."
	case ErrAlreadySubmitted:
		return "Esta sección ya fue enviada."
	case ErrTimeExpired:
		return "El tiempo de esta sección ha terminado."
	case ErrReconcileRunning:
		return "Ya hay una conciliación en curso."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Demasiadas solicitudes. Inténtalo de nuevo más tarde."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "Ocurrió un error interno del servidor."
	default:
		return "Ocurrió un error inesperado."
	}
}
