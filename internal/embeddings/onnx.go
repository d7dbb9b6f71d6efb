//go:build cgo

package embeddings

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"go.uber.org/zap"
)

// ONNXRuntimeVersion is the onnxruntime release fastembed-go links against.
const ONNXRuntimeVersion = "1.23.0"

// ErrUnsupportedPlatform indicates the current OS/arch has no runtime release.
var ErrUnsupportedPlatform = errors.New("unsupported platform")

const onnxReleaseURL = "https://github.com/microsoft/onnxruntime/releases/download/v%s/onnxruntime-%s-%s.tgz"

var onnxArchives = map[string]string{
	"linux/amd64":  "linux-x64",
	"linux/arm64":  "linux-aarch64",
	"darwin/amd64": "osx-x86_64",
	"darwin/arm64": "osx-arm64",
}

func onnxArchive(goos, goarch string) (string, error) {
	if a, ok := onnxArchives[goos+"/"+goarch]; ok {
		return a, nil
	}
	return "", fmt.Errorf("%w: %s/%s", ErrUnsupportedPlatform, goos, goarch)
}

func onnxLibraryName(goos string) string {
	if goos == "darwin" {
		return "libonnxruntime.dylib"
	}
	return "libonnxruntime.so"
}

// onnxInstallDir is where a downloaded runtime is kept.
func onnxInstallDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "recalld", "lib")
	}
	return filepath.Join(".", "local_cache", "lib")
}

// ONNXLibraryPath returns ONNX_PATH or the managed install, empty when neither exists.
func ONNXLibraryPath() string {
	if p := os.Getenv("ONNX_PATH"); p != "" {
		return p
	}
	managed := filepath.Join(onnxInstallDir(), onnxLibraryName(runtime.GOOS))
	if _, err := os.Stat(managed); err == nil {
		return managed
	}
	return ""
}

// EnsureONNXRuntime makes the ONNX runtime available to fastembed-go,
// downloading the release archive when no library is found, and points
// ONNX_PATH at it.
func EnsureONNXRuntime(ctx context.Context, logger *zap.Logger) (string, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if p := ONNXLibraryPath(); p != "" {
		return p, os.Setenv("ONNX_PATH", p)
	}

	archive, err := onnxArchive(runtime.GOOS, runtime.GOARCH)
	if err != nil {
		return "", err
	}
	url := fmt.Sprintf(onnxReleaseURL, ONNXRuntimeVersion, archive, ONNXRuntimeVersion)
	dir := onnxInstallDir()

	logger.Info("downloading onnx runtime", zap.String("url", url), zap.String("dir", dir))
	if err := downloadONNXRuntime(ctx, url, dir, fmt.Sprintf("onnxruntime-%s-%s/lib/", archive, ONNXRuntimeVersion)); err != nil {
		return "", fmt.Errorf("installing onnx runtime (set ONNX_PATH to use an existing install): %w", err)
	}

	p := ONNXLibraryPath()
	if p == "" {
		return "", errors.New("onnx runtime installed but library not found")
	}
	return p, os.Setenv("ONNX_PATH", p)
}

func downloadONNXRuntime(ctx context.Context, url, dir, prefix string) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed with status %d", resp.StatusCode)
	}
	return extractLibraries(resp.Body, dir, prefix, onnxLibraryName(runtime.GOOS))
}

// extractLibraries copies the files under prefix in a .tgz stream into dir.
func extractLibraries(r io.Reader, dir, prefix, libName string) error {
	gzr, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("opening gzip stream: %w", err)
	}
	defer gzr.Close()

	tr := tar.NewReader(gzr)
	found := false
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("reading tar: %w", err)
		}

		name := strings.TrimPrefix(hdr.Name, "./")
		if !strings.HasPrefix(name, prefix) || hdr.Typeflag == tar.TypeDir {
			continue
		}
		base := filepath.Base(name)
		dest := filepath.Join(dir, base)

		if hdr.Typeflag == tar.TypeSymlink {
			_ = os.Remove(dest)
			if err := os.Symlink(hdr.Linkname, dest); err == nil && base == libName {
				found = true
			}
			continue
		}

		f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			return err
		}
		if _, err := io.Copy(f, tr); err != nil {
			f.Close()
			return err
		}
		f.Close()
		if base == libName || strings.HasPrefix(base, libName+".") {
			found = true
		}
	}
	if !found {
		return fmt.Errorf("library %s not found in archive", libName)
	}
	return nil
}
