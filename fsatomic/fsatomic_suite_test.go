package fsatomic_test

import (
	"testing"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func TestFsAtomicMain(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "FsAtomic Suite")
}
