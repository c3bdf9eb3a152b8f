// Package testutil provides the minimal assertion helpers used by pulith's
// plain-testing.T test files, grounded on the teacher's tutils/tassert
// package: thin wrappers over t.Fatalf/t.Errorf, not a full matcher DSL.
package testutil

import (
	"reflect"
	"testing"
)

func CheckFatal(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func Errorf(t *testing.T, cond bool, format string, args ...interface{}) {
	t.Helper()
	if !cond {
		t.Errorf(format, args...)
	}
}

func Fatalf(t *testing.T, cond bool, format string, args ...interface{}) {
	t.Helper()
	if !cond {
		t.Fatalf(format, args...)
	}
}

func DeepEqual(t *testing.T, a, b interface{}) {
	t.Helper()
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("expected %#v, got %#v", a, b)
	}
}
