package fetch

import (
	"github.com/pulith/pulith/pkg/config"
	"github.com/pulith/pulith/progress"
)

// reporterFrom adapts a config.ProgressFunc (the shared, untyped callback
// every component of the ambient config layer exposes) to a
// progress.Reporter.
func reporterFrom(fn config.ProgressFunc) progress.Reporter {
	if fn == nil {
		return nil
	}
	return func(p progress.ExtendedProgress) { fn(p) }
}
