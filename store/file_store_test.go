package store

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestItemSubdir(t *testing.T) {
	var table = []struct{ input, output string }{
		{"x", "x/"},
		{"xy", "xy/"},
		{"xyz", "xy/z/"},
		{"wxyz", "wx/yz/"},
		{"vwxyz", "vw/xy/"},
		{"c9f1a+000001", "c9/f1/"},
	}
	for _, s := range table {
		result := itemSubdir(s.input)
		if result != s.output {
			t.Errorf("Got %s, expected %s", result, s.output)
		}
	}
}

func TestListPrefix(t *testing.T) {
	var files = []string{
		"ab/",
		"ab/cd/",
		"ab/cd/abcd+0001",
		"ab/cd/abcd+0002",
		"ab/cd/abcdef+0001",
		"ab/ce/",
		"ab/ce/abcez+0001",
		"ac/",
		"ac/zx/",
		"ac/zx/aczx+0001",
	}
	var table = []struct {
		prefix   string
		expected []string
	}{
		{"", []string{"abcd+0001", "abcd+0002", "abcdef+0001", "abcez+0001", "aczx+0001"}},
		{"ab", []string{"abcd+0001", "abcd+0002", "abcdef+0001", "abcez+0001"}},
		{"abc", []string{"abcd+0001", "abcd+0002", "abcdef+0001", "abcez+0001"}},
		{"abcd", []string{"abcd+0001", "abcd+0002", "abcdef+0001"}},
		{"abcd+", []string{"abcd+0001", "abcd+0002"}},
		{"zz", nil},
	}
	dir := makeTmpTree(t, files)
	s := NewFileSystem(dir)
	for _, tab := range table {
		t.Logf("Trying prefix %s", tab.prefix)
		result, err := s.ListPrefix(tab.prefix)
		if err != nil {
			t.Errorf("Got unexpected error: %s", err.Error())
		} else if !equal(tab.expected, result) {
			t.Errorf("Got result %v, expected %v", result, tab.expected)
		}
	}
}

func TestFileSystemCreate(t *testing.T) {
	s := NewFileSystem(t.TempDir())
	add(t, s, "abcdef", "hello world")

	// a key can only be created once
	if _, err := s.Create("abcdef"); err != ErrKeyExists {
		t.Errorf("Received %v, expected ErrKeyExists", err)
	}

	data, err := ReadAll(s, "abcdef")
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hello world" {
		t.Errorf("Read %q, expected %q", data, "hello world")
	}

	// nothing is left behind in the scratch directory
	left, _ := os.ReadDir(filepath.Join(s.root, scratchdir))
	if len(left) > 0 {
		t.Errorf("scratch directory has %d entries", len(left))
	}

	if err := s.Delete("abcdef"); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete("abcdef"); err != nil {
		t.Errorf("second delete returned %s", err)
	}
	_, _, err = s.Open("abcdef")
	if !errors.Is(err, ErrNotExist) {
		t.Errorf("Received %v, expected ErrNotExist", err)
	}
}

func TestFileSystemUnclosedWriter(t *testing.T) {
	s := NewFileSystem(t.TempDir())
	w, err := s.Create("pending")
	if err != nil {
		t.Fatal(err)
	}
	io.WriteString(w, "partial")
	// until Close returns the item is not visible
	if _, _, err := s.Open("pending"); !errors.Is(err, ErrNotExist) {
		t.Errorf("Received %v, expected ErrNotExist", err)
	}
	w.Close()
	if _, size, err := s.Open("pending"); err != nil || size != 7 {
		t.Errorf("Received size %d, err %v", size, err)
	}
}

func TestIsKeyValid(t *testing.T) {
	var table = []struct {
		key string
		err error
	}{
		{"abc+0001", nil},
		{"a/b", ErrKeyContainsSlash},
		{"a b", ErrKeyContainsWhiteSpace},
		{"a\x01b", ErrKeyContainsControlChar},
		{"a\xffb", ErrKeyContainsNonUnicode},
	}
	for _, row := range table {
		if err := isKeyValid(row.key); err != row.err {
			t.Errorf("%q: received %v, expected %v", row.key, err, row.err)
		}
	}
}

// returns abs path to the root of the new tree.
func makeTmpTree(t *testing.T, files []string) string {
	root := t.TempDir()
	for _, s := range files {
		var err error
		p := filepath.Join(root, s)
		if strings.HasSuffix(s, "/") {
			err = os.Mkdir(p, 0777)
		} else {
			err = os.WriteFile(p, nil, 0666)
		}
		if err != nil {
			fmt.Println(err)
		}
	}
	return root
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
