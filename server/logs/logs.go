/******************************************************************************
 *
 *  Description :
 *    Package exposes info, warning and error loggers.
 *
 *****************************************************************************/
package logs

import (
	"log"
	"os"
)

var (
	Info *log.Logger
	Warn *log.Logger
	Err  *log.Logger
)

func Init(flags int) {
	Info = log.New(os.Stdout, "I", flags)
	Warn = log.New(os.Stdout, "W", flags)
	Err = log.New(os.Stderr, "E", flags)
}

func init() {
	// Default initialization so loggers are usable in tests without Init.
	Init(log.LstdFlags)
}
