package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bryanchriswhite/StreamSnap/internal/capture"
	"github.com/bryanchriswhite/StreamSnap/internal/config"
	"github.com/bryanchriswhite/StreamSnap/internal/logger"
	"github.com/spf13/viper"
)

func newManager(t *testing.T) *config.Manager {
	t.Helper()
	m, err := config.NewManager(filepath.Join(t.TempDir(), "config.yaml"))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

// ---------- applyOverrides ----------

func TestApplyOverrides_OnlyExplicitKeys(t *testing.T) {
	m := newManager(t)
	v := viper.New()
	v.Set("interval_seconds", 20)
	v.Set("stream_url", "http://cam.local/feed")

	if err := applyOverrides(m, v); err != nil {
		t.Fatalf("applyOverrides: %v", err)
	}
	cfg, err := m.Get()
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if cfg.IntervalSeconds != 20 {
		t.Errorf("IntervalSeconds = %d, want 20", cfg.IntervalSeconds)
	}
	if cfg.StreamURL != "http://cam.local/feed" {
		t.Errorf("StreamURL = %q", cfg.StreamURL)
	}
	if cfg.SaveDir != "captured_images" {
		t.Errorf("SaveDir = %q, want default", cfg.SaveDir)
	}
}

// ---------- setValue ----------

func TestSetValue(t *testing.T) {
	tests := []struct {
		key, value string
		wantErr    bool
	}{
		{"interval_seconds", "20", false},
		{"interval_seconds", "soon", true},
		{"interval_seconds", "0", true},
		{"jpeg_quality", "150", true},
		{"log_level", "DEBUG", false},
		{"log_level", "chatty", true},
		{"log_pretty", "false", false},
		{"log_pretty", "maybe", true},
		{"stream_url", "ftp://cam/feed", true},
		{"save_dir", "/srv/frames", false},
		{"no_such_key", "x", true},
	}

	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			err := setValue(newManager(t), tt.key, tt.value)
			if (err != nil) != tt.wantErr {
				t.Errorf("setValue(%q, %q) = %v, wantErr %v", tt.key, tt.value, err, tt.wantErr)
			}
		})
	}
}

func TestSetValue_UndecodableEnvironment(t *testing.T) {
	t.Setenv("STREAMSNAP_JPEG_QUALITY", "high")

	if err := setValue(newManager(t), "save_dir", "/srv/frames"); err == nil {
		t.Fatal("expected error when the resolved config cannot be decoded")
	}
}

// ---------- writeConfig ----------

func TestWriteConfig(t *testing.T) {
	cfg := config.Defaults()

	var js bytes.Buffer
	if err := writeConfig(&js, &cfg, "json"); err != nil {
		t.Fatalf("json: %v", err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(js.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if decoded["save_dir"] != "captured_images" {
		t.Errorf("save_dir = %v", decoded["save_dir"])
	}

	var ym bytes.Buffer
	if err := writeConfig(&ym, &cfg, "yaml"); err != nil {
		t.Fatalf("yaml: %v", err)
	}
	if !strings.Contains(ym.String(), "interval_seconds: 60") {
		t.Errorf("yaml output missing interval:\n%s", ym.String())
	}

	if err := writeConfig(&bytes.Buffer{}, &cfg, "toml"); err == nil {
		t.Error("expected error for unsupported format")
	}
}

// ---------- newLoop ----------

func TestNewLoop_EndToEnd(t *testing.T) {
	var frame bytes.Buffer
	img := image.NewRGBA(image.Rect(0, 0, 10, 10))
	img.Set(1, 1, color.RGBA{B: 255, A: 255})
	if err := jpeg.Encode(&frame, img, nil); err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
		fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\n\r\n")
		w.Write(frame.Bytes())
		fmt.Fprintf(w, "\r\n--frame--\r\n")
	}))
	defer srv.Close()

	cfg := config.Defaults()
	cfg.StreamURL = srv.URL
	cfg.SaveDir = filepath.Join(t.TempDir(), "captured_images")
	cfg.IntervalSeconds = 1

	res, err := newLoop(&cfg).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.State != capture.StateReadFailure || res.Saved != 1 {
		t.Errorf("result = %+v, want one save then read failure", res)
	}

	entries, err := os.ReadDir(cfg.SaveDir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 || !strings.HasSuffix(entries[0].Name(), ".jpg") {
		t.Errorf("entries = %v, want one .jpg", entries)
	}
}

func TestNewLoop_OpenFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	cfg := config.Defaults()
	cfg.StreamURL = srv.URL
	cfg.SaveDir = filepath.Join(t.TempDir(), "captured_images")

	_, err := newLoop(&cfg).Run(context.Background())
	if !errors.Is(err, capture.ErrStreamOpen) {
		t.Fatalf("Run error = %v, want ErrStreamOpen", err)
	}
	if _, statErr := os.Stat(cfg.SaveDir); !os.IsNotExist(statErr) {
		t.Errorf("save dir should not be created, stat err = %v", statErr)
	}
}

// ---------- execute ----------

func TestExecute_OpenFailureReportsOnce(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	dir := filepath.Join(t.TempDir(), "captured_images")
	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs([]string{
		"capture",
		"--config", filepath.Join(t.TempDir(), "config.yaml"),
		"--url", srv.URL,
		"--dir", dir,
		"--log-pretty=false",
	})
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		logger.Init("info", false)
	})

	if code := execute(&errOut); code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}

	all := strings.ToLower(out.String() + errOut.String())
	if n := strings.Count(all, "could not open video stream"); n != 1 {
		t.Errorf("failure reported %d times, want 1:\n%s", n, all)
	}
	if errOut.Len() != 0 {
		t.Errorf("unexpected stderr: %q", errOut.String())
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("save dir should not be created, stat err = %v", err)
	}
}

func TestExecute_ConfigErrorIsPrinted(t *testing.T) {
	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs([]string{"config", "get", "no_such_key", "--config", filepath.Join(t.TempDir(), "config.yaml")})
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
	})

	if code := execute(&errOut); code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
	if !strings.Contains(errOut.String(), "Error: configuration key not found: no_such_key") {
		t.Errorf("stderr = %q", errOut.String())
	}
}
