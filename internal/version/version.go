// Package version хранит сведения о сборке сервиса заказов.
package version

import "fmt"

// Значения подставляются при сборке через -ldflags "-X".
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Info возвращает версию, коммит и дату сборки.
func Info() (v, c, d string) { return version, commit, date }

// GetVersion возвращает версию сборки; её же отдаёт /healthz.
func GetVersion() string { return version }

// GetCommit возвращает хэш коммита сборки.
func GetCommit() string { return commit }

// GetDate возвращает дату сборки.
func GetDate() string { return date }

// Fields возвращает сведения о сборке как поля для logrus.
func Fields() map[string]any {
	return map[string]any{
		"version": version,
		"commit":  commit,
		"date":    date,
	}
}

// String форматирует сведения о сборке одной строкой.
func String() string {
	return fmt.Sprintf("version=%s commit=%s date=%s", version, commit, date)
}
