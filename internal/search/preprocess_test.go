package search

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func writePreprocessTemp(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return p
}

func TestReadNames_PlainLines(t *testing.T) {
	in := "# common defects\n\n  Vết bẩn  \nBung chỉ\n\ntext\n"
	got, err := ReadNames(strings.NewReader(in))
	if err != nil {
		t.Fatalf("ReadNames: %v", err)
	}
	want := []string{"Vết bẩn", "Bung chỉ"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("want %v, got %v", want, got)
	}
}

func TestReadNames_Table(t *testing.T) {
	in := strings.Join([]string{
		"| Name | Severity |",
		"|:-----|---------:|",
		"| Sai kích thước | Nặng |",
		"|  | |",
		"| Bung chỉ | Nhẹ |",
	}, "\n")
	got, err := ReadNames(strings.NewReader(in))
	if err != nil {
		t.Fatalf("ReadNames: %v", err)
	}
	want := []string{"Sai kích thước", "Bung chỉ"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("want %v, got %v", want, got)
	}
}

func TestReadNames_ReaderError(t *testing.T) {
	if _, err := ReadNames(boomReader{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestLoadNames(t *testing.T) {
	names, err := LoadNames("")
	if err != nil || names != nil {
		t.Fatalf("empty path: %v %v", names, err)
	}

	if _, err := LoadNames(filepath.Join(t.TempDir(), "nope.md")); err == nil {
		t.Fatal("expected error for missing file")
	}

	p := writePreprocessTemp(t, t.TempDir(), "defects.md", "Rách\nỐ màu\n")
	names, err = LoadNames(p)
	if err != nil {
		t.Fatalf("LoadNames: %v", err)
	}
	if len(names) != 2 || names[1] != "Ố màu" {
		t.Fatalf("unexpected names: %v", names)
	}
}
