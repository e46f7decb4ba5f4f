package imgsum

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func testResult(pageID string, n int) *PageResult {
	res := &PageResult{PageID: pageID}
	for i := range n {
		img := PageImage{
			URL:           fmt.Sprintf("https://x/%d.png", i),
			Title:         ImageTitle(pageID, i),
			Base64Encoded: "QUFB",
		}
		if i%2 == 0 {
			img.Summary = ptr(fmt.Sprintf("summary %d", i))
		}
		res.Images = append(res.Images, img)
	}
	return res
}

func TestSavePageResult(t *testing.T) {
	db, err := NewDB(t.Context(), ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	now := time.Now().UTC().Truncate(time.Second)

	t.Run("empty result", func(t *testing.T) {
		affected, err := db.SavePageResult(t.Context(), &PageResult{PageID: "empty"}, "openai", now, 100)
		if err != nil {
			t.Errorf("Unexpected error %s", err)
		}
		if expected, actual := 0, affected; expected != actual {
			t.Errorf("Expected %d rows affected, got %d", expected, actual)
		}
	})

	t.Run("single batch", func(t *testing.T) {
		affected, err := db.SavePageResult(t.Context(), testResult("p1", 3), "openai", now, 100)
		if err != nil {
			t.Fatalf("Unexpected error %s", err)
		}
		if expected, actual := 3, affected; expected != actual {
			t.Errorf("Expected %d rows affected, got %d", expected, actual)
		}

		images, err := db.PageImages(t.Context(), "p1")
		if err != nil {
			t.Fatalf("Unexpected error %s", err)
		}
		if len(images) != 3 {
			t.Fatalf("Expected 3 images, got %d", len(images))
		}
		for i, img := range images {
			if img.Ordinal != i || img.Title != ImageTitle("p1", i) || img.Describer != "openai" {
				t.Errorf("Unexpected image %+v", img)
			}
			if (i%2 == 0) != (img.Summary != nil) {
				t.Errorf("Image %d: unexpected summary %v", i, img.Summary)
			}
		}
		if !images[0].ProcessedAt.Equal(now) {
			t.Errorf("Expected processed at %s, got %s", now, images[0].ProcessedAt)
		}
	})

	t.Run("multiple batches", func(t *testing.T) {
		affected, err := db.SavePageResult(t.Context(), testResult("p2", 25), "llama", now, 10)
		if err != nil {
			t.Fatalf("Unexpected error %s", err)
		}
		if expected, actual := 25, affected; expected != actual {
			t.Errorf("Expected %d modified rows, got %d", expected, actual)
		}
	})

	t.Run("rerun replaces page", func(t *testing.T) {
		res := testResult("p1", 3)
		res.Images = res.Images[:2]
		if _, err := db.SavePageResult(t.Context(), res, "openai", now, 100); err != nil {
			t.Fatalf("Unexpected error %s", err)
		}

		images, err := db.PageImages(t.Context(), "p1")
		if err != nil {
			t.Fatalf("Unexpected error %s", err)
		}
		if len(images) != 2 {
			t.Errorf("Expected 2 images after rerun, got %d", len(images))
		}

		n, err := db.CountImages(t.Context())
		if err != nil {
			t.Fatalf("Unexpected error %s", err)
		}
		if expected := 27; n != expected {
			t.Errorf("Expected %d stored images, got %d", expected, n)
		}
	})

	t.Run("invalid batch size", func(t *testing.T) {
		for _, size := range []int{0, -1} {
			if _, err := db.SavePageResult(t.Context(), testResult("p1", 3), "openai", now, size); err == nil {
				t.Errorf("Expected an error for batch size %d", size)
			}
		}

		// The stored page is left untouched
		images, err := db.PageImages(t.Context(), "p1")
		if err != nil {
			t.Fatalf("Unexpected error %s", err)
		}
		if len(images) != 2 {
			t.Errorf("Expected 2 images, got %d", len(images))
		}
	})

	t.Run("foreign title", func(t *testing.T) {
		res := &PageResult{PageID: "p3", Images: []PageImage{{Title: "p4_image_0"}}}
		if _, err := db.SavePageResult(t.Context(), res, "openai", now, 100); err == nil {
			t.Error("Expected an error for a title from another page")
		}
	})
}

func TestImageLookup(t *testing.T) {
	db, err := NewDB(t.Context(), ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	if _, err := db.SavePageResult(t.Context(), testResult("p1", 2), "openai", time.Now(), 100); err != nil {
		t.Fatal(err)
	}

	img, err := db.Image(t.Context(), "p1_image_1")
	if err != nil {
		t.Fatalf("Unexpected error %s", err)
	}
	if img.URL != "https://x/1.png" || img.Summary != nil {
		t.Errorf("Unexpected image %+v", img)
	}

	if _, err := db.Image(t.Context(), "p1_image_9"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}
