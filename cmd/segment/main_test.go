package main

import (
	"bytes"
	"encoding/json"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/example/groundedsam/internal/codec"
)

func writePNG(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", name, err)
	}
	defer f.Close()
	if err := png.Encode(f, image.NewGray(image.Rect(0, 0, 3, 2))); err != nil {
		t.Fatalf("encode %s: %v", name, err)
	}
	return path
}

func TestSegmentCommandForwardsEveryOption(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")

	var payload map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		full, _ := codec.EncodeImage(image.NewGray(image.Rect(0, 0, 3, 2)))
		json.NewEncoder(w).Encode(map[string]any{"full_image": full, "masks": []string{}})
	}))
	defer server.Close()

	dir := t.TempDir()
	imagePath := writePNG(t, dir, "image.png")
	outPath := filepath.Join(dir, "out.png")

	cmd := newRootCmd()
	var stdout bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetArgs([]string{
		"--endpoint", server.URL,
		"--image", imagePath,
		"--prompt", "cup",
		"--task", "inpainting",
		"--inpaint-prompt", "a plant",
		"--inpaint-mode", "first",
		"--scribble-mode", "split",
		"--box-threshold", "0.45",
		"--iou-threshold", "0.7",
		"--out", outPath,
	})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}

	want := map[string]any{
		"text_prompt":    "cup",
		"task_type":      "inpainting",
		"inpaint_prompt": "a plant",
		"inpaint_mode":   "first",
		"scribble_mode":  "split",
		"box_threshold":  0.45,
		"text_threshold": 0.25,
		"iou_threshold":  0.7,
	}
	for key, value := range want {
		if payload[key] != value {
			t.Fatalf("%s = %v, want %v", key, payload[key], value)
		}
	}

	if !strings.Contains(stdout.String(), "full image: 3x2") || !strings.Contains(stdout.String(), "masks: 0") {
		t.Fatalf("unexpected output %q", stdout.String())
	}
	if _, err := os.Stat(outPath); err != nil {
		t.Fatalf("expected full image written: %v", err)
	}
}

func TestSegmentCommandRequiresImage(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--prompt", "cup"})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected missing --image to fail")
	}
}
