package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrTokenRequired ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid  ErrCode = "TOKEN_INVALID"
	ErrTokenExpired  ErrCode = "TOKEN_EXPIRED"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrForbidden       ErrCode = "FORBIDDEN"
	ErrAdminAccessOnly ErrCode = "ADMIN_ACCESS_ONLY"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound     ErrCode = "NOT_FOUND"
	ErrExamNotFound ErrCode = "EXAM_NOT_FOUND"
	ErrExamMismatch ErrCode = "EXAM_MISMATCH"

	// ─── PIN registry ──────────────────────────────────────────────────
	ErrInvalidPin        ErrCode = "INVALID_PIN"
	ErrRateLimited       ErrCode = "RATE_LIMITED"
	ErrGenerationFailed  ErrCode = "GENERATION_FAILED"
	ErrCapacityExceeded  ErrCode = "CAPACITY_EXCEEDED"
	ErrPinNotFound       ErrCode = "PIN_NOT_FOUND"
	ErrPinBatchNotFound  ErrCode = "PIN_BATCH_NOT_FOUND"
	ErrMaxAttempts       ErrCode = "MAX_ATTEMPTS_REACHED"
	ErrNameRequired      ErrCode = "CANDIDATE_NAME_REQUIRED"
	ErrMatchRequired     ErrCode = "CANDIDATE_MATCH_REQUIRED"
	ErrResumeNotFound    ErrCode = "RESUME_NOT_FOUND"
	ErrResumeAmbiguous   ErrCode = "RESUME_AMBIGUOUS"
	ErrNotResumable      ErrCode = "ATTEMPT_NOT_RESUMABLE"
	ErrAttemptExpired    ErrCode = "ATTEMPT_EXPIRED"
	ErrAttemptNotFound   ErrCode = "ATTEMPT_NOT_FOUND"
	ErrNotEditable       ErrCode = "ATTEMPT_NOT_EDITABLE"
	ErrNotSubmitted      ErrCode = "ATTEMPT_NOT_SUBMITTED"
	ErrSubmitInProgress  ErrCode = "SUBMIT_IN_PROGRESS"
	ErrQuestionNotInExam ErrCode = "QUESTION_NOT_IN_EXAM"
	ErrInvalidAnswer     ErrCode = "INVALID_ANSWER_PAYLOAD"
	ErrInvalidReview     ErrCode = "INVALID_REVIEW_TRANSITION"

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
		return "Token autentikasi diperlukan."
	case ErrTokenInvalid:
		return "Token autentikasi tidak valid."
	case ErrTokenExpired:
		return "Token autentikasi telah kedaluwarsa."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrForbidden:
		return "Anda tidak memiliki izin untuk mengakses sumber daya ini."
	case ErrAdminAccessOnly:
		return "Sumber daya ini terbatas untuk administrator."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validasi gagal. Silakan periksa masukan Anda."
	case ErrInvalidID:
		return "Format ID tidak valid."
	case ErrInvalidPayload:
		return "Payload permintaan tidak valid."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Sumber daya tidak ditemukan."
	case ErrExamNotFound:
		return "Ujian tidak ditemukan."
	case ErrExamMismatch:
		return "Ujian tidak sesuai dengan percobaan ini."

	// ─── PIN registry ──────────────────────────────────────────────────
	case ErrInvalidPin:
		return "PIN tidak valid."
	case ErrRateLimited:
		return "Terlalu banyak percobaan PIN yang gagal. Silakan coba lagi nanti."
	case ErrGenerationFailed:
		return "Gagal membuat PIN unik dalam jumlah yang diminta."
	case ErrCapacityExceeded:
		return "Kapasitas PIN untuk ujian ini telah terlampaui."
	case ErrPinNotFound:
		return "PIN tidak ditemukan."
	case ErrPinBatchNotFound:
		return "Batch PIN tidak ditemukan."
	case ErrMaxAttempts:
		return "Batas jumlah percobaan ujian telah tercapai."
	case ErrNameRequired:
		return "Nama peserta diperlukan."
	case ErrMatchRequired:
		return "Nama atau nomor identitas peserta diperlukan."
	case ErrResumeNotFound:
		return "Tidak ada percobaan yang cocok dengan data peserta."
	case ErrResumeAmbiguous:
		return "Lebih dari satu percobaan cocok. Sertakan nomor identitas peserta."
	case ErrNotResumable:
		return "Percobaan ini sudah selesai."
	case ErrAttemptExpired:
		return "Waktu ujian telah habis."
	case ErrAttemptNotFound:
		return "Percobaan tidak ditemukan."
	case ErrNotEditable:
		return "Percobaan ini tidak dapat diubah lagi."
	case ErrNotSubmitted:
		return "Percobaan ini belum dikumpulkan."
	case ErrSubmitInProgress:
		return "Pengumpulan sedang diproses."
	case ErrQuestionNotInExam:
		return "Soal tidak termasuk dalam ujian ini."
	case ErrInvalidAnswer:
		return "Format jawaban tidak sesuai dengan jenis soal."
	case ErrInvalidReview:
		return "Perubahan status tinjauan tidak diperbolehkan."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Terlalu banyak permintaan. Silakan coba lagi nanti."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "Terjadi kesalahan server internal."
	default:
		return "Terjadi kesalahan yang tidak terduga."
	}
}
