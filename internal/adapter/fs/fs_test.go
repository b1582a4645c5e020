package fs

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestWalkerDefaults(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), "alpha")
	writeFile(t, filepath.Join(root, "papers", "b.md"), "beta")
	writeFile(t, filepath.Join(root, "papers", "c.pdf"), "binary")
	writeFile(t, filepath.Join(root, ".cache", "d.txt"), "hidden")
	writeFile(t, filepath.Join(root, "drafts", "e.txt"), "draft")

	files, err := NewWalker(nil, []string{"drafts/**"}).Walk(root)
	if err != nil {
		t.Fatal(err)
	}

	var got []string
	for _, f := range files {
		got = append(got, f.RelPath)
	}
	want := []string{"a.txt", "papers/b.md"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("file %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestReadFileRejectsBinary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.txt")
	if err := os.WriteFile(path, []byte{0xff, 0xfe, 0x00}, 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadFile(path); err == nil {
		t.Error("expected error for invalid UTF-8")
	}
}

func TestLoadTagSetCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tags.csv")
	writeFile(t, path, "tag_name,definition,examples\n"+
		"MATERIAL,\"A substance, e.g. steel\",\"steel, epoxy\"\n"+
		",ignored,\n"+
		"METHOD,A procedure\n")

	set, err := LoadTagSet(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(set.Tags) != 2 {
		t.Fatalf("expected 2 tags, got %d", len(set.Tags))
	}
	if set.Tags[0].Definition != "A substance, e.g. steel" || set.Tags[0].Examples != "steel, epoxy" {
		t.Errorf("unexpected first tag: %+v", set.Tags[0])
	}
	if set.Tags[1].Name != "METHOD" || set.Tags[1].Examples != "" {
		t.Errorf("unexpected second tag: %+v", set.Tags[1])
	}
}

func TestLoadTagSetYAML(t *testing.T) {
	dir := t.TempDir()

	list := filepath.Join(dir, "list.yaml")
	writeFile(t, list, "- tag_name: MATERIAL\n  definition: A substance\n  examples: steel\n")
	set, err := LoadTagSet(list)
	if err != nil {
		t.Fatal(err)
	}
	if len(set.Tags) != 1 || set.Tags[0].Name != "MATERIAL" {
		t.Errorf("unexpected tags: %+v", set.Tags)
	}

	full := filepath.Join(dir, "full.yml")
	writeFile(t, full, `tags:
  - tag_name: MATERIAL
    definition: A substance
few_shot:
  - text: "Steel was used."
    output: '[{"start_char":0,"end_char":5,"text":"Steel","label":"MATERIAL"}]'
`)
	set, err = LoadTagSet(full)
	if err != nil {
		t.Fatal(err)
	}
	if len(set.FewShot) != 1 || set.Names()[0] != "MATERIAL" {
		t.Errorf("unexpected tag set: %+v", set)
	}
}

func TestLoadTagSetErrors(t *testing.T) {
	dir := t.TempDir()

	empty := filepath.Join(dir, "empty.csv")
	writeFile(t, empty, "tag_name,definition\n")
	if _, err := LoadTagSet(empty); err == nil {
		t.Error("expected error for empty tag set")
	}

	noName := filepath.Join(dir, "noname.csv")
	writeFile(t, noName, "name,definition\nX,y\n")
	if _, err := LoadTagSet(noName); err == nil {
		t.Error("expected error for missing tag_name column")
	}

	if _, err := LoadTagSet(filepath.Join(dir, "tags.json")); err == nil {
		t.Error("expected error for missing file")
	}
}
