package error

// GenericError es el contrato común de los errores tipados de la API.
// El middleware de recovery lo usa para mapear panics a respuestas HTTP.
type GenericError interface {
	Error() string
	ErrCode() string
	StatusCode() int
}
