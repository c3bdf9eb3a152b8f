package fsatomic_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/pulith/pulith/fsatomic"
	"github.com/pulith/pulith/pkg/testutil"
)

func TestTransactionReadModifyWrite(t *testing.T) {
	dir, err := os.MkdirTemp("", "fsatomic-tx-")
	testutil.CheckFatal(t, err)
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "checkpoint.json")

	tx, err := fsatomic.OpenTransaction(path)
	testutil.CheckFatal(t, err)
	err = tx.Execute(func(current []byte) ([]byte, error) {
		if current != nil {
			t.Fatalf("expected no existing content, got %q", current)
		}
		return []byte("v1"), nil
	})
	testutil.CheckFatal(t, err)
	testutil.CheckFatal(t, tx.Close())

	got, err := os.ReadFile(path)
	testutil.CheckFatal(t, err)
	testutil.DeepEqual(t, []byte("v1"), got)
}

// TestTransactionSerializesConcurrentIncrements exercises the interprocess
// lock's within-process serialization: N goroutines each opening their own
// Transaction against the same path and incrementing a counter stored as
// its content must never lose an update.
func TestTransactionSerializesConcurrentIncrements(t *testing.T) {
	dir, err := os.MkdirTemp("", "fsatomic-tx-")
	testutil.CheckFatal(t, err)
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "counter")
	const n = 20

	var wg sync.WaitGroup
	errCh := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tx, err := fsatomic.OpenTransaction(path)
			if err != nil {
				errCh <- err
				return
			}
			defer tx.Close()
			errCh <- tx.Execute(func(current []byte) ([]byte, error) {
				count := 0
				if len(current) > 0 {
					for _, b := range current {
						count = count*10 + int(b-'0')
					}
				}
				count++
				return []byte(itoa(count)), nil
			})
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		testutil.CheckFatal(t, err)
	}

	got, err := os.ReadFile(path)
	testutil.CheckFatal(t, err)
	if string(got) != itoa(n) {
		t.Fatalf("expected counter %d, got %q", n, got)
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
