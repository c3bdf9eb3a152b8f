package fsatomic_test

import (
	"io/ioutil"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/pulith/pulith/fsatomic"
	"github.com/pulith/pulith/pkg/errs"
)

var _ = Describe("AtomicWrite", func() {
	var dir string

	BeforeEach(func() {
		var err error
		dir, err = ioutil.TempDir("", "fsatomic-write-")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		os.RemoveAll(dir)
	})

	It("creates the file with the written content when it does not yet exist", func() {
		path := filepath.Join(dir, "object")
		Expect(fsatomic.AtomicWrite(path, []byte("v1"), fsatomic.WriteOptions{})).To(Succeed())

		got, err := os.ReadFile(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal([]byte("v1")))
	})

	It("replaces existing content without a partial-write window", func() {
		path := filepath.Join(dir, "object")
		Expect(fsatomic.AtomicWrite(path, []byte("v1"), fsatomic.WriteOptions{})).To(Succeed())
		Expect(fsatomic.AtomicWrite(path, []byte("v2-longer-payload"), fsatomic.WriteOptions{})).To(Succeed())

		got, err := os.ReadFile(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal([]byte("v2-longer-payload")))
	})

	It("leaves no temp siblings behind after a successful write", func() {
		path := filepath.Join(dir, "object")
		Expect(fsatomic.AtomicWrite(path, []byte("v1"), fsatomic.WriteOptions{})).To(Succeed())

		entries, err := os.ReadDir(dir)
		Expect(err).NotTo(HaveOccurred())
		Expect(entries).To(HaveLen(1))
		Expect(entries[0].Name()).To(Equal("object"))
	})

	It("applies the requested permission mode", func() {
		path := filepath.Join(dir, "readonly")
		Expect(fsatomic.AtomicWrite(path, []byte("ro"), fsatomic.WriteOptions{Mode: fsatomic.ReadOnly})).To(Succeed())

		info, err := os.Stat(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(info.Mode().Perm()).To(Equal(os.FileMode(0o444)))
	})

	It("fails when the destination directory does not exist", func() {
		path := filepath.Join(dir, "missing", "object")
		err := fsatomic.AtomicWrite(path, []byte("v1"), fsatomic.WriteOptions{})
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("AtomicSymlink", func() {
	var dir string

	BeforeEach(func() {
		var err error
		dir, err = ioutil.TempDir("", "fsatomic-symlink-")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		os.RemoveAll(dir)
	})

	It("creates a new symlink when none exists", func() {
		link := filepath.Join(dir, "current")
		Expect(fsatomic.AtomicSymlink("v1", link)).To(Succeed())

		target, err := os.Readlink(link)
		Expect(err).NotTo(HaveOccurred())
		Expect(target).To(Equal("v1"))
	})

	It("atomically repoints an existing symlink", func() {
		link := filepath.Join(dir, "current")
		Expect(fsatomic.AtomicSymlink("v1", link)).To(Succeed())
		Expect(fsatomic.AtomicSymlink("v2", link)).To(Succeed())

		target, err := os.Readlink(link)
		Expect(err).NotTo(HaveOccurred())
		Expect(target).To(Equal("v2"))
	})
})

var _ = Describe("HardlinkOrCopy", func() {
	var dir string

	BeforeEach(func() {
		var err error
		dir, err = ioutil.TempDir("", "fsatomic-hardlink-")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		os.RemoveAll(dir)
	})

	It("hardlinks within the same directory so both paths share content", func() {
		src := filepath.Join(dir, "src")
		dest := filepath.Join(dir, "dest")
		Expect(os.WriteFile(src, []byte("payload"), 0o644)).To(Succeed())

		Expect(fsatomic.HardlinkOrCopy(src, dest, fsatomic.FallbackToCopy)).To(Succeed())

		got, err := os.ReadFile(dest)
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal([]byte("payload")))

		srcInfo, _ := os.Stat(src)
		destInfo, _ := os.Stat(dest)
		Expect(os.SameFile(srcInfo, destInfo)).To(BeTrue())
	})
})

var _ = Describe("ReplaceDir", func() {
	var dir string

	BeforeEach(func() {
		var err error
		dir, err = ioutil.TempDir("", "fsatomic-replacedir-")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		os.RemoveAll(dir)
	})

	It("replaces an existing destination directory entirely with the source", func() {
		src := filepath.Join(dir, "src")
		dest := filepath.Join(dir, "dest")
		Expect(os.MkdirAll(src, 0o755)).To(Succeed())
		Expect(os.MkdirAll(dest, 0o755)).To(Succeed())
		Expect(os.WriteFile(filepath.Join(src, "new.txt"), []byte("new"), 0o644)).To(Succeed())
		Expect(os.WriteFile(filepath.Join(dest, "stale.txt"), []byte("stale"), 0o644)).To(Succeed())

		Expect(fsatomic.ReplaceDir(src, dest, fsatomic.ReplaceDirOptions{})).To(Succeed())

		_, err := os.Stat(filepath.Join(dest, "stale.txt"))
		Expect(os.IsNotExist(err)).To(BeTrue())

		got, err := os.ReadFile(filepath.Join(dest, "new.txt"))
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal([]byte("new")))
	})

	It("populates dest from src when dest does not yet exist", func() {
		src := filepath.Join(dir, "src")
		dest := filepath.Join(dir, "dest")
		Expect(os.MkdirAll(src, 0o755)).To(Succeed())
		Expect(os.WriteFile(filepath.Join(src, "f.txt"), []byte("f"), 0o644)).To(Succeed())

		Expect(fsatomic.ReplaceDir(src, dest, fsatomic.ReplaceDirOptions{})).To(Succeed())

		got, err := os.ReadFile(filepath.Join(dest, "f.txt"))
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal([]byte("f")))
	})

	It("returns RetryLimitExceededFS once every retry attempt is exhausted", func() {
		src := filepath.Join(dir, "does-not-exist")
		dest := filepath.Join(dir, "dest")

		err := fsatomic.ReplaceDir(src, dest, fsatomic.ReplaceDirOptions{MaxRetries: 2})
		Expect(err).To(HaveOccurred())
		code, ok := errs.CodeOf(err)
		Expect(ok).To(BeTrue())
		Expect(code).To(Equal(errs.RetryLimitExceededFS))
	})
})
