package storage

import "testing"

func TestArchiveKey(t *testing.T) {
	got := ArchiveKey("u-123", "video-abc.mp4")
	want := "archives/u-123/video-abc.mp4"
	if got != want {
		t.Errorf("ArchiveKey = %q, want %q", got, want)
	}

	// A hostile file name cannot move the key out of the user prefix.
	got = ArchiveKey("u-123", "../../../etc/passwd")
	if got != "archives/u-123/passwd" {
		t.Errorf("ArchiveKey with traversal = %q", got)
	}
}

func TestContentTypeForFilename(t *testing.T) {
	if got := ContentTypeForFilename("manifest.json"); got == "application/octet-stream" {
		t.Errorf("known extension fell back to octet-stream")
	}
	if got := ContentTypeForFilename("unknown.xyz"); got != "application/octet-stream" {
		t.Errorf("ContentTypeForFilename(unknown.xyz) = %q, want octet-stream fallback", got)
	}
}
