package roster

import (
	"strings"
	"testing"
)

func TestReadAll(t *testing.T) {
	t.Run("maps aliased headers", func(t *testing.T) {
		src := strings.Join([]string{
			"JAMB No,Student Name,Email Address,Phone Number,Faculty,Dept,Level",
			"20241234AB,Ada Obi,ada@example.edu,0803000000,Science,Physics,100",
			"PG/24/0042,Ben Musa,ben@example.edu,,Engineering,Civil,PG",
		}, "\n")

		records, skipped, err := ReadAll(strings.NewReader(src))
		if err != nil {
			t.Fatalf("ReadAll: %v", err)
		}
		if skipped != 0 {
			t.Errorf("skipped = %d, want 0", skipped)
		}
		if len(records) != 2 {
			t.Fatalf("got %d records, want 2", len(records))
		}
		want := Record{
			ExternalID: "20241234AB",
			FullName:   "Ada Obi",
			Email:      "ada@example.edu",
			Phone:      "0803000000",
			Faculty:    "Science",
			Department: "Physics",
			Level:      "100",
		}
		if records[0] != want {
			t.Errorf("record = %+v, want %+v", records[0], want)
		}
	})

	t.Run("counts rows missing id or name as skipped", func(t *testing.T) {
		src := strings.Join([]string{
			"id,name,email",
			"20241234AB,Ada Obi,ada@example.edu",
			",Missing Id,x@example.edu",
			"20249999ZZ,,y@example.edu",
		}, "\n")

		records, skipped, err := ReadAll(strings.NewReader(src))
		if err != nil {
			t.Fatalf("ReadAll: %v", err)
		}
		if len(records) != 1 || skipped != 2 {
			t.Fatalf("records=%d skipped=%d, want 1/2", len(records), skipped)
		}
	})

	t.Run("short rows tolerated", func(t *testing.T) {
		src := "id,name,email,phone\n20241234AB,Ada Obi\n"
		records, skipped, err := ReadAll(strings.NewReader(src))
		if err != nil {
			t.Fatalf("ReadAll: %v", err)
		}
		if len(records) != 1 || skipped != 0 {
			t.Fatalf("records=%d skipped=%d, want 1/0", len(records), skipped)
		}
		if records[0].Email != "" {
			t.Errorf("email = %q, want empty", records[0].Email)
		}
	})

	t.Run("missing id column fails", func(t *testing.T) {
		if _, _, err := ReadAll(strings.NewReader("name,email\nAda,x@example.edu\n")); err == nil {
			t.Fatal("expected header error")
		}
	})

	t.Run("missing name column fails", func(t *testing.T) {
		if _, _, err := ReadAll(strings.NewReader("id,email\n1,x@example.edu\n")); err == nil {
			t.Fatal("expected header error")
		}
	})
}
