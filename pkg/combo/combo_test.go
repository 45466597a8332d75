package combo

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func writeGroups(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "groups.txt")
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestFromGroupsFileSingleElementGroups(t *testing.T) {
	combos, err := FromGroupsFile(writeGroups(t, "A,B\nC\n"))
	if err != nil {
		t.Fatalf("FromGroupsFile: %v", err)
	}
	want := []SpeciesCombination{{"A", "C"}, {"B", "C"}}
	if !reflect.DeepEqual(combos, want) {
		t.Errorf("combos = %v, want %v", combos, want)
	}
}

func TestFromGroupsFileCartesianProduct(t *testing.T) {
	combos, err := FromGroupsFile(writeGroups(t, "A,B\nC,D\n"))
	if err != nil {
		t.Fatalf("FromGroupsFile: %v", err)
	}
	// row-major product, deterministic
	want := []SpeciesCombination{
		{"A", "C"}, {"A", "D"}, {"B", "C"}, {"B", "D"},
	}
	if !reflect.DeepEqual(combos, want) {
		t.Errorf("combos = %v, want %v", combos, want)
	}
}

func TestFromGroupsFileFourLines(t *testing.T) {
	combos, err := FromGroupsFile(writeGroups(t, "A\nB\nC,D\nE\n"))
	if err != nil {
		t.Fatalf("FromGroupsFile: %v", err)
	}
	want := []SpeciesCombination{
		{"A", "B", "C", "E"}, {"A", "B", "D", "E"},
	}
	if !reflect.DeepEqual(combos, want) {
		t.Errorf("combos = %v, want %v", combos, want)
	}
}

func TestParseGroupsFileOddLineCount(t *testing.T) {
	_, err := ParseGroupsFile(writeGroups(t, "A\nB\nC\n"))
	if !errors.Is(err, ErrOddGroupCount) {
		t.Fatalf("err = %v, want ErrOddGroupCount", err)
	}
}

func TestParseGroupsFileEmpty(t *testing.T) {
	_, err := ParseGroupsFile(writeGroups(t, "\n\n"))
	if !errors.Is(err, ErrEmptyGroupsFile) {
		t.Fatalf("err = %v, want ErrEmptyGroupsFile", err)
	}
}

func TestParseGroupsFileTrailingComma(t *testing.T) {
	_, err := ParseGroupsFile(writeGroups(t, "A,B,\nC\n"))
	if err == nil {
		t.Fatal("expected error for empty species name")
	}
}

func TestPairs(t *testing.T) {
	c := SpeciesCombination{"S1", "C1", "S2", "C2"}
	pairs := c.Pairs()
	want := [][2]string{{"S1", "C1"}, {"S2", "C2"}}
	if !reflect.DeepEqual(pairs, want) {
		t.Errorf("Pairs = %v, want %v", pairs, want)
	}
}

func TestNullCombosFlipsEveryPairSubset(t *testing.T) {
	combos := NullCombos([]SpeciesCombination{{"S1", "C1", "S2", "C2"}})
	want := []SpeciesCombination{
		{"S1", "C1", "S2", "C2"},
		{"C1", "S1", "S2", "C2"},
		{"S1", "C1", "C2", "S2"},
		{"C1", "S1", "C2", "S2"},
	}
	if !reflect.DeepEqual(combos, want) {
		t.Errorf("combos = %v, want %v", combos, want)
	}
}

func TestNullCombosKeepsInputOrderAcrossCombos(t *testing.T) {
	combos := NullCombos([]SpeciesCombination{{"A", "B"}, {"C", "D"}})
	want := []SpeciesCombination{
		{"A", "B"}, {"B", "A"}, {"C", "D"}, {"D", "C"},
	}
	if !reflect.DeepEqual(combos, want) {
		t.Errorf("combos = %v, want %v", combos, want)
	}
}

func TestFromResponseDir(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("combo_1.txt", "C\t1\nD\t-1\n")
	write("combo_0.txt", "A\t1\nB\t-1\n")
	write("README.md", "ignored")

	combos, files, err := FromResponseDir(dir)
	if err != nil {
		t.Fatalf("FromResponseDir: %v", err)
	}
	want := []SpeciesCombination{{"A", "B"}, {"C", "D"}}
	if !reflect.DeepEqual(combos, want) {
		t.Errorf("combos = %v, want %v", combos, want)
	}
	if len(files) != 2 || filepath.Base(files[0]) != "combo_0.txt" {
		t.Errorf("files = %v", files)
	}
}

func TestFromResponseDirRejectsOddSpeciesCount(t *testing.T) {
	dir := t.TempDir()
	content := "A\t1\nB\t-1\nC\t1\n"
	if err := os.WriteFile(filepath.Join(dir, "combo_0.txt"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	_, _, err := FromResponseDir(dir)
	if !errors.Is(err, ErrOddComboSpecies) {
		t.Fatalf("err = %v, want ErrOddComboSpecies", err)
	}
}

func TestValidateAgainstStore(t *testing.T) {
	combos := []SpeciesCombination{{"A", "B"}, {"A", "Z"}}
	present := map[string]bool{"A": true, "B": true}

	err := ValidateAgainstStore(combos, present, "/aligns")
	var missing *MissingSpeciesError
	if !errors.As(err, &missing) {
		t.Fatalf("err = %v, want MissingSpeciesError", err)
	}
	if !reflect.DeepEqual(missing.Species, []string{"Z"}) {
		t.Errorf("missing = %v", missing.Species)
	}

	if err := ValidateAgainstStore(combos[:1], present, "/aligns"); err != nil {
		t.Errorf("valid combos should pass, got %v", err)
	}
}
