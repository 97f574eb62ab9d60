package statestore

import (
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(OpenOptions{InMemory: true})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSetGetBytes(t *testing.T) {
	s := openTestStore(t)

	if err := s.SetBytes("k1", []byte("v1")); err != nil {
		t.Fatalf("SetBytes: %v", err)
	}
	data, found, err := s.GetBytes("k1")
	if err != nil {
		t.Fatalf("GetBytes: %v", err)
	}
	if !found || string(data) != "v1" {
		t.Errorf("GetBytes = (%q, %v), want (v1, true)", data, found)
	}
}

func TestGetMissingKey(t *testing.T) {
	s := openTestStore(t)

	_, found, err := s.GetBytes("missing")
	if err != nil {
		t.Fatalf("GetBytes: %v", err)
	}
	if found {
		t.Error("不存在的 key 应该返回 found=false")
	}
}

func TestSetGetJSON(t *testing.T) {
	s := openTestStore(t)

	type summary struct {
		Anchors int `json:"anchors"`
		Name    string
	}
	in := summary{Anchors: 7, Name: "run-1"}
	if err := s.SetJSON("run:last", in); err != nil {
		t.Fatalf("SetJSON: %v", err)
	}

	var out summary
	found, err := s.GetJSON("run:last", &out)
	if err != nil {
		t.Fatalf("GetJSON: %v", err)
	}
	if !found {
		t.Fatal("期望 found=true")
	}
	if out != in {
		t.Errorf("GetJSON = %+v, want %+v", out, in)
	}
}

func TestEmptyKeyRejected(t *testing.T) {
	s := openTestStore(t)
	if err := s.SetBytes("  ", []byte("x")); err == nil {
		t.Error("空 key 应该返回错误")
	}
}

func TestOpenOnDisk(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(OpenOptions{Path: dir})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.SetBytes("k", []byte("v")); err != nil {
		t.Fatalf("SetBytes: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// 重新打开后数据仍在
	s2, err := Open(OpenOptions{Path: dir})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	data, found, err := s2.GetBytes("k")
	if err != nil || !found || string(data) != "v" {
		t.Errorf("reopen GetBytes = (%q, %v, %v)", data, found, err)
	}
}
