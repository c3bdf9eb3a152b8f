package fsatomic_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pulith/pulith/fsatomic"
	"github.com/pulith/pulith/pkg/testutil"
)

func TestWorkspaceCommit(t *testing.T) {
	dir, err := os.MkdirTemp("", "fsatomic-workspace-")
	testutil.CheckFatal(t, err)
	defer os.RemoveAll(dir)

	target := filepath.Join(dir, "object")
	ws, err := fsatomic.AllocateWorkspace(target)
	testutil.CheckFatal(t, err)

	testutil.CheckFatal(t, ws.Write("payload.bin", []byte("staged-content")))
	testutil.CheckFatal(t, ws.Commit(target))

	got, err := os.ReadFile(filepath.Join(target, "payload.bin"))
	testutil.CheckFatal(t, err)
	testutil.DeepEqual(t, []byte("staged-content"), got)
}

func TestWorkspaceAbortLeavesNoTrace(t *testing.T) {
	dir, err := os.MkdirTemp("", "fsatomic-workspace-")
	testutil.CheckFatal(t, err)
	defer os.RemoveAll(dir)

	target := filepath.Join(dir, "object")
	ws, err := fsatomic.AllocateWorkspace(target)
	testutil.CheckFatal(t, err)
	testutil.CheckFatal(t, ws.Write("payload.bin", []byte("staged-content")))
	testutil.CheckFatal(t, ws.Abort())

	if _, err := os.Stat(target); !os.IsNotExist(err) {
		t.Fatalf("expected target to not exist after abort, stat err = %v", err)
	}
}

func TestWorkspacePathRejectsEscape(t *testing.T) {
	dir, err := os.MkdirTemp("", "fsatomic-workspace-")
	testutil.CheckFatal(t, err)
	defer os.RemoveAll(dir)

	ws, err := fsatomic.AllocateWorkspace(filepath.Join(dir, "object"))
	testutil.CheckFatal(t, err)
	defer ws.Drop()

	if _, err := ws.Path("../escape.txt"); err == nil {
		t.Fatal("expected error for path escaping workspace root")
	}
	if _, err := ws.Path("/absolute"); err == nil {
		t.Fatal("expected error for absolute path")
	}
}

func TestWorkspaceCommitFile(t *testing.T) {
	dir, err := os.MkdirTemp("", "fsatomic-workspace-")
	testutil.CheckFatal(t, err)
	defer os.RemoveAll(dir)

	target := filepath.Join(dir, "final-object")
	ws, err := fsatomic.AllocateWorkspace(target)
	testutil.CheckFatal(t, err)

	f, err := ws.CreateFile("staged")
	testutil.CheckFatal(t, err)
	_, err = f.Write([]byte("streamed-content"))
	testutil.CheckFatal(t, err)
	testutil.CheckFatal(t, ws.SyncAndClose(f))
	testutil.CheckFatal(t, ws.CommitFile("staged", target))

	got, err := os.ReadFile(target)
	testutil.CheckFatal(t, err)
	testutil.DeepEqual(t, []byte("streamed-content"), got)
}

func TestWorkspaceDoubleCommitFails(t *testing.T) {
	dir, err := os.MkdirTemp("", "fsatomic-workspace-")
	testutil.CheckFatal(t, err)
	defer os.RemoveAll(dir)

	target := filepath.Join(dir, "object")
	ws, err := fsatomic.AllocateWorkspace(target)
	testutil.CheckFatal(t, err)
	testutil.CheckFatal(t, ws.Write("f", []byte("x")))
	testutil.CheckFatal(t, ws.Commit(target))

	if err := ws.Commit(target); err == nil {
		t.Fatal("expected second Commit to fail")
	}
}
