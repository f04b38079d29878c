package errors

// Error codes for hardbus contracts. Keep stable; used across adapters, codecs and the service layer.
const (
	ErrCodeConfiguration       = "hardbus.configuration"
	ErrCodeNotRegistered       = "hardbus.not_registered"
	ErrCodeDoubleConnect       = "hardbus.double_connect"
	ErrCodeWrongInstance       = "hardbus.wrong_instance"
	ErrCodeClosed              = "hardbus.closed"
	ErrCodeWaitTimeout         = "hardbus.wait_timeout"
	ErrCodeCodecNotFound       = "hardbus.codec_not_found"
	ErrCodeCodecExists         = "hardbus.codec_exists"
	ErrCodeUnknownMethod       = "hardbus.unknown_method"
	ErrCodeUnknownObject       = "hardbus.unknown_object"
	ErrCodeArgumentCount       = "hardbus.argument_count"
	ErrCodeBusNotFound         = "hardbus.bus_not_found"
	ErrCodeBusExists           = "hardbus.bus_exists"
	ErrCodeNameTaken           = "hardbus.name_taken"
	ErrCodePathTaken           = "hardbus.path_taken"
	ErrCodeServiceUnknown      = "hardbus.service_unknown"
	ErrCodeRemoteFailed        = "hardbus.remote_failed"
	ErrCodePublishFailed       = "hardbus.publish_failed"
	ErrCodeSerializationFailed = "hardbus.serialization_failed"
)

// Code returns an error value that carries only a code string.
// It implements error by returning the code string in Error().
func Code(code string) error { return codedError(code) }

type codedError string

func (e codedError) Error() string { return string(e) }

var (
	// ErrConfiguration reports that a service could not be exported at all. Never retried.
	ErrConfiguration = Code(ErrCodeConfiguration)
	// ErrNotRegistered reports a call on an unbound facade or a connect against an absent service.
	ErrNotRegistered = Code(ErrCodeNotRegistered)
	// ErrDoubleConnect reports a connect attempted on an already bound facade.
	ErrDoubleConnect = Code(ErrCodeDoubleConnect)
	// ErrWrongInstance reports a connect given something other than the service's facade.
	ErrWrongInstance = Code(ErrCodeWrongInstance)

	ErrClosed              = Code(ErrCodeClosed)
	ErrWaitTimeout         = Code(ErrCodeWaitTimeout)
	ErrCodecNotFound       = Code(ErrCodeCodecNotFound)
	ErrCodecExists         = Code(ErrCodeCodecExists)
	ErrUnknownMethod       = Code(ErrCodeUnknownMethod)
	ErrUnknownObject       = Code(ErrCodeUnknownObject)
	ErrArgumentCount       = Code(ErrCodeArgumentCount)
	ErrBusNotFound         = Code(ErrCodeBusNotFound)
	ErrBusExists           = Code(ErrCodeBusExists)
	ErrNameTaken           = Code(ErrCodeNameTaken)
	ErrPathTaken           = Code(ErrCodePathTaken)
	ErrServiceUnknown      = Code(ErrCodeServiceUnknown)
	ErrRemoteFailed        = Code(ErrCodeRemoteFailed)
	ErrPublishFailed       = Code(ErrCodePublishFailed)
	ErrSerializationFailed = Code(ErrCodeSerializationFailed)
)
