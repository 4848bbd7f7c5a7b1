// Package version хранит сведения о сборке, заполняемые через -ldflags.
package version

import "fmt"

// Service — имя сервиса в логах и health-ответах.
const Service = "storefront"

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Info returns version information populated via -ldflags.
func Info() (v, c, d string) { return version, commit, date }

// Version возвращает номер версии сборки.
func Version() string { return version }

func String() string {
	return fmt.Sprintf("%s version=%s commit=%s date=%s", Service, version, commit, date)
}
