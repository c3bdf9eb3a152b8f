// Package log centralizes pulith's logging so every component logs the same
// way the teacher codebase does: leveled, glog-style, with module-scoped
// verbosity rather than ad hoc fmt.Printf calls.
package log

import (
	"github.com/golang/glog"
)

func Infof(format string, args ...interface{})    { glog.Infof(format, args...) }
func Warningf(format string, args ...interface{}) { glog.Warningf(format, args...) }
func Errorf(format string, args ...interface{})   { glog.Errorf(format, args...) }

func Infoln(args ...interface{})    { glog.Infoln(args...) }
func Warningln(args ...interface{}) { glog.Warningln(args...) }
func Errorln(args ...interface{})   { glog.Errorln(args...) }

// V gates verbose logging behind glog's -v flag, same as the teacher's
// glog.V(n) idiom.
func V(level glog.Level) glog.Verbose { return glog.V(level) }

// Flush should be called before process exit so buffered log lines aren't
// lost; mirrors the teacher's shutdown sequence (glog.Flush()).
func Flush() { glog.Flush() }
