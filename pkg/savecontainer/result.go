// Package savecontainer implements the bit-exact on-disk layout of the
// encrypted save blob (spec §4.6, §6.3): signature, version, nonce,
// SHA-512 checksum, then three independently zlib-compressed
// DataStore-shaped regions (metadata, save data, pending delta).
package savecontainer

// Result enumerates the fine-grained outcomes of Decode/Encode, mirroring
// the original implementation's SaveLoadResult enumeration (SPEC_FULL.md
// §3 "Supplemented features"). Callers that only care whether the call
// succeeded can compare against ResultSuccess; callers that need to
// distinguish, say, a corrupted checksum from an unsupported version can
// switch on the full enumeration.
type Result int

const (
	ResultSuccess Result = iota
	ResultErrorSignatureData
	ResultErrorSignatureCheck
	ResultErrorVersionData
	ResultErrorVersionCheck
	ResultErrorEncryption
	ResultErrorChecksumData
	ResultErrorChecksumCheck
	ResultErrorSerialization
	ResultErrorExtraData
	ResultErrorCompression
	ResultErrorSaveData
	ResultErrorSaveCheck
	ResultErrorTooBig
)

func (r Result) String() string {
	switch r {
	case ResultSuccess:
		return "success"
	case ResultErrorSignatureData:
		return "error_signature_data"
	case ResultErrorSignatureCheck:
		return "error_signature_check"
	case ResultErrorVersionData:
		return "error_version_data"
	case ResultErrorVersionCheck:
		return "error_version_check"
	case ResultErrorEncryption:
		return "error_encryption"
	case ResultErrorChecksumData:
		return "error_checksum_data"
	case ResultErrorChecksumCheck:
		return "error_checksum_check"
	case ResultErrorSerialization:
		return "error_serialization"
	case ResultErrorExtraData:
		return "error_extra_data"
	case ResultErrorCompression:
		return "error_compression"
	case ResultErrorSaveData:
		return "error_save_data"
	case ResultErrorSaveCheck:
		return "error_save_check"
	case ResultErrorTooBig:
		return "error_too_big"
	default:
		return "unknown"
	}
}

// Error wraps a Result with the underlying cause, satisfying the error
// interface so callers that only want `err != nil` still work, while
// `errors.As` can recover the fine-grained Result.
type Error struct {
	Result Result
	Cause  error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return "savecontainer: " + e.Result.String()
	}
	return "savecontainer: " + e.Result.String() + ": " + e.Cause.Error()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func newError(r Result, cause error) *Error {
	return &Error{Result: r, Cause: cause}
}

// ResultOf extracts the Result from err, or ResultSuccess if err is nil,
// or ResultErrorSerialization if err is a non-nil error not produced by
// this package.
func ResultOf(err error) Result {
	if err == nil {
		return ResultSuccess
	}
	var ce *Error
	if e, ok := err.(*Error); ok {
		ce = e
	} else {
		return ResultErrorSerialization
	}
	return ce.Result
}
