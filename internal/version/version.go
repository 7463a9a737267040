// Package version хранит сведения о сборке, заданные через -ldflags:
//
//	go build -ldflags "-X github.com/vladislavdragonenkov/ordersvc/internal/version.version=v1.2.3"
package version

import "fmt"

// ServiceName — имя сервиса в трассировке и логах.
const ServiceName = "ordersvc"

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Info returns version information populated via -ldflags.
func Info() (v, c, d string) { return version, commit, date }

// GetVersion возвращает версию сборки.
func GetVersion() string { return version }

// GetCommit возвращает commit сборки.
func GetCommit() string { return commit }

// GetDate возвращает дату сборки.
func GetDate() string { return date }

// String форматирует сведения о сборке для логов.
func String() string {
	return fmt.Sprintf("service=%s version=%s commit=%s date=%s", ServiceName, version, commit, date)
}
