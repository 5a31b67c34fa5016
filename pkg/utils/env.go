package utils

import (
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// LoadConfig carga las variables de entorno desde un archivo .env (si existe)
// y prepara viper para leerlas. Los valores del entorno real tienen prioridad.
func LoadConfig(path string) {
	// .env es opcional: en producción la config llega por variables de entorno.
	_ = godotenv.Load(path + "/.env")

	viper.AutomaticEnv()
}
