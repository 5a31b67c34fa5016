package utils

// PanicIfNeeded corta el handler con panic; el middleware de recovery lo
// traduce al sobre de error correspondiente.
func PanicIfNeeded(err any, message ...string) {
	if err != nil {
		if len(message) > 0 && err == "record not found" {
			panic(message[0])
		}
		panic(err)
	}
}
